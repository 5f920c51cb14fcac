package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
)

// NotEnrolledMessage is shown when leaving a course the caller was not in.
const NotEnrolledMessage = "You were not enrolled in this course."

// EnrollmentService enrolls the caller in courses and lists their
// enrollments.
type EnrollmentService struct {
	enrollments repository.EnrollmentRepository
	courses     *CourseService
}

func NewEnrollmentService(enrollments repository.EnrollmentRepository, courses *CourseService) *EnrollmentService {
	return &EnrollmentService{enrollments: enrollments, courses: courses}
}

// Enroll enrolls the caller in courseID. Enrolling twice is not an error;
// already reports whether the enrollment existed before.
//
// IDEMPOTENCY:
// A double-clicked button or a retried form post must not fail. The lookup
// below answers the common case, but two requests can both miss it and race
// to insert. The store's unique (user_id, course_id) constraint lets exactly
// one insert win and reports ErrConflict to the other, which is treated as
// "already enrolled" rather than as a failure.
func (s *EnrollmentService) Enroll(ctx context.Context, sess *model.Session, courseID string) (already bool, err error) {
	if err := requireSession(sess); err != nil {
		return false, err
	}

	c, err := s.courses.Get(ctx, courseID)
	if err != nil {
		return false, err
	}
	if c.OwnedBy(sess.AccountID) {
		return false, apperror.Forbidden("You cannot enroll in your own course.")
	}

	log := logger.FromContext(ctx)

	_, err = s.enrollments.Find(ctx, sess.AccountID, c.ID)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, apperror.ErrNotFound):
		log.Error("enroll failed", zap.String("step", "checking enrollment"), zap.Error(err))
		return false, apperror.Upstream("checking enrollment", err)
	}

	err = s.enrollments.Create(ctx, &model.Enrollment{UserID: sess.AccountID, CourseID: c.ID})
	switch {
	case err == nil:
		log.Info("enrolled", zap.String("course_id", c.ID))
		return false, nil
	case errors.Is(err, apperror.ErrConflict):
		return true, nil
	case errors.Is(err, apperror.ErrNotFound):
		return false, err
	default:
		log.Error("enroll failed", zap.String("step", "saving enrollment"), zap.Error(err))
		return false, apperror.Upstream("saving enrollment", err).
			WithMessage("You could not be enrolled. Please try again.")
	}
}

// Unenroll removes the caller's enrollment. removed is false when there was
// nothing to remove, which is not an error.
func (s *EnrollmentService) Unenroll(ctx context.Context, sess *model.Session, courseID string) (removed bool, err error) {
	if err := requireSession(sess); err != nil {
		return false, err
	}

	n, err := s.enrollments.Delete(ctx, sess.AccountID, courseID)
	if err != nil {
		logger.FromContext(ctx).Error("unenroll failed", zap.String("step", "deleting enrollment"), zap.Error(err))
		return false, apperror.Upstream("deleting enrollment", err).
			WithMessage("You could not be unenrolled. Please try again.")
	}
	return n > 0, nil
}

// List returns the caller's enrollments, newest first, one per course.
func (s *EnrollmentService) List(ctx context.Context, sess *model.Session) ([]model.Enrollment, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	enrollments, err := s.enrollments.ListByUser(ctx, sess.AccountID)
	if err != nil {
		logger.FromContext(ctx).Error("enrollment list failed", zap.String("step", "loading enrollments"), zap.Error(err))
		return nil, apperror.Upstream("loading enrollments", err).
			WithMessage("Your courses could not be loaded. Please try again.")
	}
	return model.DistinctByCourse(enrollments), nil
}
