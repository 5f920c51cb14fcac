package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

// lessonObject is a lesson row, alias l, with its course expanded. A
// deleted course expands to [].
const lessonObject = `json_object(
	'id', l.id,
	'course_id', l.course_id,
	'title', l.title,
	'content', l.content,
	'resource_url', l.resource_url,
	'created_at', l.created_at,
	'course', json((
		SELECT json_group_array(json_object(
			'id', c.id,
			'title', c.title,
			'instructor_id', c.instructor_id
		))
		FROM courses c WHERE c.id = l.course_id
	))
)`

// LessonStore implements repository.LessonRepository.
type LessonStore struct {
	db *DB
}

var _ repository.LessonRepository = (*LessonStore)(nil)

// ListByCourse returns the course's lessons oldest first.
func (s *LessonStore) ListByCourse(ctx context.Context, courseID string) ([]model.Lesson, error) {
	rows, err := queryJSON[normalize.LessonRow](ctx, s.db.conn, `
		SELECT `+lessonObject+`
		FROM lessons l
		WHERE l.course_id = ?
		ORDER BY l.created_at ASC, l.id ASC`,
		courseID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing lessons of course %s: %w", courseID, err)
	}
	return normalize.Lessons(rows), nil
}

// Get returns a lesson. An orphaned lesson is reported as not found.
func (s *LessonStore) Get(ctx context.Context, id string) (*model.Lesson, error) {
	row, err := queryJSONRow[normalize.LessonRow](ctx, s.db.conn,
		`SELECT `+lessonObject+` FROM lessons l WHERE l.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("lesson", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting lesson %s: %w", id, err)
	}

	l, ok := normalize.Lesson(row)
	if !ok {
		return nil, apperror.NotFound("lesson", id)
	}
	return &l, nil
}

// Create inserts a lesson into a course owned by instructorID and fills in
// its id and creation time. The insert's guard checks ownership in the
// same statement, so the store rejects a non-owner even when a caller
// skipped the service-level check.
func (s *LessonStore) Create(ctx context.Context, lesson *model.Lesson, instructorID string) error {
	lesson.ID = xid.New().String()
	created := s.db.timestamp()

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO lessons (id, course_id, title, content, resource_url, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM courses WHERE id = ? AND instructor_id = ?)`,
		lesson.ID, lesson.CourseID, lesson.Title, lesson.Content,
		nullable(lesson.ResourceURL), created, lesson.CourseID, instructorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting lesson: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite: inserting lesson: %w", err)
	} else if n == 0 {
		return s.db.missingOrForbidden(ctx, lesson.CourseID, "only the course's instructor can add lessons")
	}

	lesson.CreatedAt = parseTime(created)
	return nil
}
