// Package rest implements the repository interfaces on the hosted REST data
// API through postgrest-go. Reads use embedded selects so that a course
// arrives with its instructor and an enrollment with its course, in one
// request, and decode through the normalize row types. Writes filter on
// the caller's id as well as the backend's row policies; a write that
// matches no row is mapped onto the apperror classes.
package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/hosted"
)

// Postgres error codes surfaced by the REST API.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeInsufficientPrivs   = "42501"
)

// Store groups the REST-backed repositories. Each call builds its own
// postgrest-go client carrying the caller's session token from the request
// context.
type Store struct {
	c *hosted.Client
}

func New(c *hosted.Client) *Store {
	return &Store{c: c}
}

func (s *Store) Courses() *CourseStore         { return &CourseStore{c: s.c} }
func (s *Store) Lessons() *LessonStore         { return &LessonStore{c: s.c} }
func (s *Store) Enrollments() *EnrollmentStore { return &EnrollmentStore{c: s.c} }
func (s *Store) Profiles() *ProfileStore       { return &ProfileStore{c: s.c} }

// classify maps a REST API failure onto the apperror classes. action names
// the failing call for the wrapped error.
func classify(err error, resource, id, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hosted.ErrNoRows) {
		return apperror.NotFound(resource, id)
	}

	switch hosted.CodeOf(err) {
	case codeUniqueViolation:
		return apperror.Conflict(resource, id)
	case codeForeignKeyViolation:
		return apperror.NotFound("course", id)
	case codeInsufficientPrivs:
		return apperror.Forbidden("you are not allowed to change this " + resource)
	}
	switch hosted.StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperror.Forbidden("you are not allowed to change this " + resource)
	}
	return fmt.Errorf("rest: %s: %w", action, err)
}

// nullable sends "" as JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
