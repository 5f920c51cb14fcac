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

// enrollmentObject is an enrollment row, alias e, with the course snapshot
// expanded.
const enrollmentObject = `json_object(
	'id', e.id,
	'user_id', e.user_id,
	'course_id', e.course_id,
	'created_at', e.created_at,
	'course', json((
		SELECT json_group_array(` + courseObject + `)
		FROM courses c WHERE c.id = e.course_id
	))
)`

// EnrollmentStore implements repository.EnrollmentRepository.
type EnrollmentStore struct {
	db *DB
}

var _ repository.EnrollmentRepository = (*EnrollmentStore)(nil)

func (s *EnrollmentStore) Find(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	row, err := queryJSONRow[normalize.EnrollmentRow](ctx, s.db.conn, `
		SELECT `+enrollmentObject+`
		FROM enrollments e
		WHERE e.user_id = ? AND e.course_id = ?`,
		userID, courseID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("enrollment", courseID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding enrollment: %w", err)
	}

	e := normalize.Enrollment(row)
	return &e, nil
}

// Create inserts an enrollment. A second enrollment in the same course is
// a conflict; enrolling in a missing course is not found.
func (s *EnrollmentStore) Create(ctx context.Context, enrollment *model.Enrollment) error {
	enrollment.ID = xid.New().String()
	created := s.db.timestamp()

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO enrollments (id, user_id, course_id, created_at)
		VALUES (?, ?, ?, ?)`,
		enrollment.ID, enrollment.UserID, enrollment.CourseID, created,
	)
	switch {
	case isUniqueViolation(err):
		return apperror.Conflict("enrollment", enrollment.CourseID)
	case isForeignKeyViolation(err):
		return apperror.NotFound("course", enrollment.CourseID)
	case err != nil:
		return fmt.Errorf("sqlite: inserting enrollment: %w", err)
	}

	enrollment.CreatedAt = parseTime(created)
	return nil
}

func (s *EnrollmentStore) Delete(ctx context.Context, userID, courseID string) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM enrollments WHERE user_id = ? AND course_id = ?`, userID, courseID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting enrollment: %w", err)
	}
	return n, nil
}

// ListByUser returns the user's enrollments, newest first, each with its
// course snapshot.
func (s *EnrollmentStore) ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error) {
	rows, err := queryJSON[normalize.EnrollmentRow](ctx, s.db.conn, `
		SELECT `+enrollmentObject+`
		FROM enrollments e
		WHERE e.user_id = ?
		ORDER BY e.created_at DESC, e.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing enrollments of %s: %w", userID, err)
	}
	return normalize.Enrollments(rows), nil
}
