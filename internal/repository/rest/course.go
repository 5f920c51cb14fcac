package rest

import (
	"context"
	"errors"

	"github.com/supabase-community/postgrest-go"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/hosted"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

// courseSelect embeds the instructor profile through courses.instructor_id.
const courseSelect = `id, title, description, image_url, thumbnail_url, instructor_id, created_at, ` +
	`instructor:profiles(id, name)`

var newestFirst = &postgrest.OrderOpts{Ascending: false}

// CourseStore implements repository.CourseRepository.
type CourseStore struct {
	c *hosted.Client
}

var _ repository.CourseRepository = (*CourseStore)(nil)

func (s *CourseStore) List(ctx context.Context, filter repository.CourseFilter) ([]model.Course, error) {
	db := s.c.Rest(ctx)
	q := db.From("courses").Select(courseSelect, "", false).Order("created_at", newestFirst)
	if filter.InstructorID != "" {
		q = q.Eq("instructor_id", filter.InstructorID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit, "")
	}

	var rows []normalize.CourseRow
	if err := db.Run(q, &rows); err != nil {
		return nil, classify(err, "course", filter.InstructorID, "listing courses")
	}
	return normalize.Courses(rows), nil
}

func (s *CourseStore) Get(ctx context.Context, id string) (*model.Course, error) {
	db := s.c.Rest(ctx)
	var row normalize.CourseRow
	err := db.Run(db.From("courses").Select(courseSelect, "", false).Eq("id", id).Single(), &row)
	if err != nil {
		return nil, classify(err, "course", id, "getting course "+id)
	}
	c := normalize.Course(row)
	return &c, nil
}

// Create inserts the course and copies the stored id and creation time
// back. The backend's insert policy rejects non-instructors.
func (s *CourseStore) Create(ctx context.Context, course *model.Course) error {
	db := s.c.Rest(ctx)
	var rows []normalize.CourseRow
	err := db.Run(db.From("courses").Insert(map[string]any{
		"title":         course.Title,
		"description":   course.Description,
		"image_url":     nullable(course.ImageURL),
		"instructor_id": course.InstructorID,
	}, false, "", "representation", ""), &rows)
	if err != nil {
		return classify(err, "course", course.InstructorID, "inserting course")
	}
	if len(rows) == 0 {
		return apperror.Forbidden("only instructors can create courses")
	}

	stored := normalize.Course(rows[0])
	course.ID = stored.ID
	course.CreatedAt = stored.CreatedAt
	return nil
}

// Update filters on id and the caller, so a non-owner's update changes no
// rows. A follow-up read tells a missing course from a forbidden one.
func (s *CourseStore) Update(ctx context.Context, course *model.Course, instructorID string) error {
	db := s.c.Rest(ctx)
	var rows []normalize.CourseRow
	err := db.Run(db.From("courses").
		Update(map[string]any{
			"title":       course.Title,
			"description": course.Description,
			"image_url":   nullable(course.ImageURL),
		}, "representation", "").
		Eq("id", course.ID).
		Eq("instructor_id", instructorID), &rows)
	if err != nil {
		return classify(err, "course", course.ID, "updating course "+course.ID)
	}
	if len(rows) > 0 {
		return nil
	}

	if _, err := s.Get(ctx, course.ID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return classify(err, "course", course.ID, "checking course "+course.ID)
	}
	return apperror.Forbidden("only the course's instructor can change it")
}

func (s *CourseStore) Delete(ctx context.Context, id, instructorID string) (bool, error) {
	db := s.c.Rest(ctx)
	var rows []normalize.CourseRow
	err := db.Run(db.From("courses").
		Delete("representation", "").
		Eq("id", id).
		Eq("instructor_id", instructorID), &rows)
	if err != nil {
		return false, classify(err, "course", id, "deleting course "+id)
	}
	return len(rows) > 0, nil
}
