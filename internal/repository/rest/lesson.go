package rest

import (
	"context"

	"github.com/supabase-community/postgrest-go"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/hosted"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

// lessonSelect embeds the parent course. A lesson whose course is gone
// comes back with course null.
const lessonSelect = `*, course:courses(id, title, instructor_id)`

var oldestFirst = &postgrest.OrderOpts{Ascending: true}

// LessonStore implements repository.LessonRepository.
type LessonStore struct {
	c *hosted.Client
}

var _ repository.LessonRepository = (*LessonStore)(nil)

func (s *LessonStore) ListByCourse(ctx context.Context, courseID string) ([]model.Lesson, error) {
	db := s.c.Rest(ctx)
	var rows []normalize.LessonRow
	err := db.Run(db.From("lessons").
		Select(lessonSelect, "", false).
		Eq("course_id", courseID).
		Order("created_at", oldestFirst), &rows)
	if err != nil {
		return nil, classify(err, "lesson", courseID, "listing lessons of course "+courseID)
	}
	return normalize.Lessons(rows), nil
}

func (s *LessonStore) Get(ctx context.Context, id string) (*model.Lesson, error) {
	db := s.c.Rest(ctx)
	var row normalize.LessonRow
	err := db.Run(db.From("lessons").Select(lessonSelect, "", false).Eq("id", id).Single(), &row)
	if err != nil {
		return nil, classify(err, "lesson", id, "getting lesson "+id)
	}
	l, ok := normalize.Lesson(row)
	if !ok {
		return nil, apperror.NotFound("lesson", id)
	}
	return &l, nil
}

// Create checks that instructorID owns the course before inserting. The
// data API has no conditional insert, so the backend's insert policy
// covers the gap between the check and the write.
func (s *LessonStore) Create(ctx context.Context, lesson *model.Lesson, instructorID string) error {
	db := s.c.Rest(ctx)
	var owner struct {
		InstructorID string `json:"instructor_id"`
	}
	err := db.Run(db.From("courses").Select("instructor_id", "", false).Eq("id", lesson.CourseID).Single(), &owner)
	if err != nil {
		return classify(err, "course", lesson.CourseID, "checking course "+lesson.CourseID)
	}
	if instructorID == "" || owner.InstructorID != instructorID {
		return apperror.Forbidden("only the course's instructor can add lessons")
	}

	db = s.c.Rest(ctx)
	var rows []normalize.LessonRow
	err = db.Run(db.From("lessons").Insert(map[string]any{
		"course_id":    lesson.CourseID,
		"title":        lesson.Title,
		"content":      lesson.Content,
		"resource_url": nullable(lesson.ResourceURL),
	}, false, "", "representation", ""), &rows)
	if err != nil {
		return classify(err, "lesson", lesson.CourseID, "inserting lesson")
	}
	if len(rows) == 0 {
		return apperror.Forbidden("only the course's instructor can add lessons")
	}

	stored, _ := normalize.Lesson(rows[0])
	lesson.ID = stored.ID
	lesson.CreatedAt = stored.CreatedAt
	return nil
}
