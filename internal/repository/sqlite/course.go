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

// instructorJoin expands a course's instructor profile. json() keeps the
// subquery's text a JSON value inside the enclosing json_object.
const instructorJoin = `json((
	SELECT json_group_array(json_object('id', p.id, 'name', p.name))
	FROM profiles p WHERE p.id = c.instructor_id
))`

// courseObject is a full course row, with alias c.
const courseObject = `json_object(
	'id', c.id,
	'title', c.title,
	'description', c.description,
	'image_url', c.image_url,
	'thumbnail_url', c.thumbnail_url,
	'instructor_id', c.instructor_id,
	'created_at', c.created_at,
	'instructor', ` + instructorJoin + `
)`

// CourseStore implements repository.CourseRepository.
type CourseStore struct {
	db *DB
}

var _ repository.CourseRepository = (*CourseStore)(nil)

// List returns courses newest first. A negative SQLite LIMIT means no
// limit.
func (s *CourseStore) List(ctx context.Context, filter repository.CourseFilter) ([]model.Course, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := queryJSON[normalize.CourseRow](ctx, s.db.conn, `
		SELECT `+courseObject+`
		FROM courses c
		WHERE (?1 = '' OR c.instructor_id = ?1)
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT ?2`,
		filter.InstructorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing courses: %w", err)
	}
	return normalize.Courses(rows), nil
}

func (s *CourseStore) Get(ctx context.Context, id string) (*model.Course, error) {
	row, err := queryJSONRow[normalize.CourseRow](ctx, s.db.conn,
		`SELECT `+courseObject+` FROM courses c WHERE c.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("course", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting course %s: %w", id, err)
	}

	c := normalize.Course(row)
	return &c, nil
}

// Create inserts a course for course.InstructorID and fills in its id and
// creation time. Only instructors may own courses; anyone else is
// rejected by the insert's guard.
func (s *CourseStore) Create(ctx context.Context, course *model.Course) error {
	course.ID = xid.New().String()
	created := s.db.timestamp()

	res, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO courses (id, title, description, image_url, instructor_id, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM profiles WHERE id = ? AND role = 'instructor')`,
		course.ID, course.Title, course.Description, nullable(course.ImageURL),
		course.InstructorID, created, course.InstructorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting course: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite: inserting course: %w", err)
	} else if n == 0 {
		return apperror.Forbidden("only instructors can create courses")
	}

	course.CreatedAt = parseTime(created)
	return nil
}

// Update changes a course's editable fields. The filter includes the
// caller, so a non-owner's update matches nothing and is reported as
// forbidden. course.InstructorID is not trusted here.
func (s *CourseStore) Update(ctx context.Context, course *model.Course, instructorID string) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE courses SET title = ?, description = ?, image_url = ?
		WHERE id = ? AND instructor_id = ?`,
		course.Title, course.Description, nullable(course.ImageURL),
		course.ID, instructorID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating course %s: %w", course.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: updating course %s: %w", course.ID, err)
	}
	if n > 0 {
		return nil
	}
	return s.db.missingOrForbidden(ctx, course.ID, "only the course's instructor can change it")
}

func (s *CourseStore) Delete(ctx context.Context, id, instructorID string) (bool, error) {
	res, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM courses WHERE id = ? AND instructor_id = ?`, id, instructorID)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting course %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting course %s: %w", id, err)
	}
	return n > 0, nil
}

// missingOrForbidden explains a guarded write that matched no row: the
// course is either gone or owned by someone else.
func (db *DB) missingOrForbidden(ctx context.Context, courseID, reason string) error {
	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM courses WHERE id = ?`, courseID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("course", courseID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: checking course %s: %w", courseID, err)
	}
	return apperror.Forbidden(reason)
}
