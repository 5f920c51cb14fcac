// Package repository defines the relational store contract as one interface
// per entity. Implementations return apperror.ErrNotFound (wrapped in an
// *apperror.AppError) when a single-row fetch matches nothing, so callers can
// tell "no rows" apart from a failing store.
package repository

import (
	"context"

	"github.com/sakif/course-portal/internal/model"
)

// CourseFilter narrows a course listing. Zero values mean "no filter".
type CourseFilter struct {
	InstructorID string
	Limit        int
}

// CourseRepository stores courses. Listings are newest first and carry the
// instructor's display data.
type CourseRepository interface {
	List(ctx context.Context, filter CourseFilter) ([]model.Course, error)
	Get(ctx context.Context, id string) (*model.Course, error)
	Create(ctx context.Context, course *model.Course) error
	// Update changes title, description and image of the course if
	// instructorID owns it. A non-owner gets apperror.ErrForbidden.
	Update(ctx context.Context, course *model.Course, instructorID string) error
	// Delete removes the course if instructorID owns it and reports whether
	// a row was removed.
	Delete(ctx context.Context, id, instructorID string) (bool, error)
}

// LessonRepository stores lessons. Listings are oldest first and never
// include orphaned lessons.
type LessonRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]model.Lesson, error)
	Get(ctx context.Context, id string) (*model.Lesson, error)
	// Create inserts the lesson if instructorID owns its course. A
	// non-owner gets apperror.ErrForbidden.
	Create(ctx context.Context, lesson *model.Lesson, instructorID string) error
}

// EnrollmentRepository stores enrollments. The store holds at most one row
// per (user, course); Create reports a duplicate as apperror.ErrConflict.
type EnrollmentRepository interface {
	Find(ctx context.Context, userID, courseID string) (*model.Enrollment, error)
	Create(ctx context.Context, enrollment *model.Enrollment) error
	// Delete removes the user's enrollment in the course and returns the
	// number of rows removed. Zero is not an error.
	Delete(ctx context.Context, userID, courseID string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]model.Enrollment, error)
}

// ProfileRepository stores profiles. A profile's id is its account id.
type ProfileRepository interface {
	Get(ctx context.Context, id string) (*model.Profile, error)
	Create(ctx context.Context, profile *model.Profile) error
	Update(ctx context.Context, profile *model.Profile) error
}

// AccountRepository stores credentials for the embedded auth backend.
// Creating an account also creates its profile.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByGitHubID(ctx context.Context, githubID int64) (*model.Account, error)
	LinkGitHub(ctx context.Context, accountID string, githubID int64) error
}
