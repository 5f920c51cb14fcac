package rest

import (
	"context"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/hosted"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

// enrollmentSelect embeds the course snapshot and, through it, the
// instructor.
const enrollmentSelect = `id, user_id, course_id, created_at, ` +
	`course:courses(id, title, description, image_url, thumbnail_url, instructor_id, ` +
	`instructor:profiles(id, name))`

// EnrollmentStore implements repository.EnrollmentRepository.
type EnrollmentStore struct {
	c *hosted.Client
}

var _ repository.EnrollmentRepository = (*EnrollmentStore)(nil)

func (s *EnrollmentStore) Find(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	db := s.c.Rest(ctx)
	var rows []normalize.EnrollmentRow
	err := db.Run(db.From("enrollments").
		Select(enrollmentSelect, "", false).
		Eq("user_id", userID).
		Eq("course_id", courseID).
		Limit(1, ""), &rows)
	if err != nil {
		return nil, classify(err, "enrollment", courseID, "finding enrollment")
	}
	if len(rows) == 0 {
		return nil, apperror.NotFound("enrollment", courseID)
	}
	e := normalize.Enrollment(rows[0])
	return &e, nil
}

func (s *EnrollmentStore) Create(ctx context.Context, enrollment *model.Enrollment) error {
	db := s.c.Rest(ctx)
	var rows []normalize.EnrollmentRow
	err := db.Run(db.From("enrollments").Insert(map[string]any{
		"user_id":   enrollment.UserID,
		"course_id": enrollment.CourseID,
	}, false, "", "representation", ""), &rows)
	if err != nil {
		return classify(err, "enrollment", enrollment.CourseID, "inserting enrollment")
	}
	if len(rows) > 0 {
		stored := normalize.Enrollment(rows[0])
		enrollment.ID = stored.ID
		enrollment.CreatedAt = stored.CreatedAt
	}
	return nil
}

func (s *EnrollmentStore) Delete(ctx context.Context, userID, courseID string) (int64, error) {
	db := s.c.Rest(ctx)
	var rows []normalize.EnrollmentRow
	err := db.Run(db.From("enrollments").
		Delete("representation", "").
		Eq("user_id", userID).
		Eq("course_id", courseID), &rows)
	if err != nil {
		return 0, classify(err, "enrollment", courseID, "deleting enrollment")
	}
	return int64(len(rows)), nil
}

// ListByUser returns the user's enrollments newest first.
func (s *EnrollmentStore) ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	db := s.c.Rest(ctx)
	var rows []normalize.EnrollmentRow
	err := db.Run(db.From("enrollments").
		Select(enrollmentSelect, "", false).
		Eq("user_id", userID).
		Order("created_at", newestFirst), &rows)
	if err != nil {
		return nil, classify(err, "enrollment", userID, "listing enrollments of "+userID)
	}
	return normalize.Enrollments(rows), nil
}
