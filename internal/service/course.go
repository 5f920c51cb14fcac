package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/storage"
)

// CourseService lists, shows and manages courses.
//
// Management is checked twice: here, so the page can refuse early with a
// clear message, and again by the store, which filters writes by owner.
type CourseService struct {
	courses     repository.CourseRepository
	lessons     repository.LessonRepository
	enrollments repository.EnrollmentRepository
	profiles    *ProfileService
	storage     storage.ObjectStorage
	validate    *Validator
	now         func() time.Time
}

// CourseDeps groups CourseService's collaborators.
type CourseDeps struct {
	Courses     repository.CourseRepository
	Lessons     repository.LessonRepository
	Enrollments repository.EnrollmentRepository
	Profiles    *ProfileService
	Storage     storage.ObjectStorage
	Validator   *Validator
}

func NewCourseService(deps CourseDeps) *CourseService {
	return &CourseService{
		courses:     deps.Courses,
		lessons:     deps.Lessons,
		enrollments: deps.Enrollments,
		profiles:    deps.Profiles,
		storage:     deps.Storage,
		validate:    deps.Validator,
		now:         time.Now,
	}
}

type CourseInput struct {
	Title       string `form:"title" validate:"required,max=200"`
	Description string `form:"description" validate:"max=5000"`
}

// CourseDetail is everything the course page shows.
type CourseDetail struct {
	Course      *model.Course
	Lessons     []model.Lesson
	Viewer      *model.Profile // nil for anonymous viewers
	Permissions model.CoursePermissions
	Enrolled    bool
}

// List returns courses newest first.
func (s *CourseService) List(ctx context.Context, filter repository.CourseFilter) ([]model.Course, error) {
	courses, err := s.courses.List(ctx, filter)
	if err != nil {
		logger.FromContext(ctx).Error("course list failed", zap.String("step", "loading courses"), zap.Error(err))
		return nil, apperror.Upstream("loading courses", err).
			WithMessage("Courses could not be loaded. Please try again.")
	}
	return courses, nil
}

func (s *CourseService) Get(ctx context.Context, id string) (*model.Course, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.NotFound("course", id)
	}
	c, err := s.courses.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		logger.FromContext(ctx).Error("course load failed", zap.String("step", "loading course"), zap.Error(err))
		return nil, apperror.Upstream("loading course", err)
	}
	return c, nil
}

// Detail loads the course, its lessons and, for a signed-in viewer, their
// profile and enrollment. The fetches run one after another.
func (s *CourseService) Detail(ctx context.Context, id string, sess *model.Session) (*CourseDetail, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	lessons, err := s.lessons.ListByCourse(ctx, c.ID)
	if err != nil {
		logger.FromContext(ctx).Error("course load failed", zap.String("step", "loading lessons"), zap.Error(err))
		return nil, apperror.Upstream("loading lessons", err)
	}

	d := &CourseDetail{Course: c, Lessons: lessons}
	if sess == nil {
		return d, nil
	}

	if d.Viewer, err = s.profiles.Ensure(ctx, sess); err != nil {
		return nil, err
	}
	d.Permissions = model.PermissionsFor(d.Viewer, c)

	_, err = s.enrollments.Find(ctx, sess.AccountID, c.ID)
	switch {
	case err == nil:
		d.Enrolled = true
	case !errors.Is(err, apperror.ErrNotFound):
		logger.FromContext(ctx).Error("course load failed", zap.String("step", "loading enrollment"), zap.Error(err))
		return nil, apperror.Upstream("loading enrollment", err)
	}
	return d, nil
}

// requireInstructor returns the caller's profile if they are an instructor.
func (s *CourseService) requireInstructor(ctx context.Context, sess *model.Session) (*model.Profile, error) {
	p, err := s.profiles.Ensure(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !p.IsInstructor() {
		return nil, apperror.Forbidden("Only instructors can manage courses.")
	}
	return p, nil
}

// AuthorizeCreate checks that the caller may create courses.
func (s *CourseService) AuthorizeCreate(ctx context.Context, sess *model.Session) error {
	_, err := s.requireInstructor(ctx, sess)
	return err
}

// Manageable returns the course if the caller may edit it.
func (s *CourseService) Manageable(ctx context.Context, sess *model.Session, id string) (*model.Course, error) {
	p, err := s.requireInstructor(ctx, sess)
	if err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.PermissionsFor(p, c).CanManage {
		return nil, apperror.Forbidden("Only the course's instructor can change it.")
	}
	return c, nil
}

// Create uploads the optional image first and then inserts the course. If
// the insert fails the uploaded image is left behind and the message says
// so.
func (s *CourseService) Create(ctx context.Context, sess *model.Session, in CourseInput, image *Upload) (*model.Course, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if image != nil {
		if err := checkUpload(image, "image", MaxImageBytes, true); err != nil {
			return nil, err
		}
	}

	p, err := s.requireInstructor(ctx, sess)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	c := &model.Course{
		Title:        in.Title,
		Description:  in.Description,
		InstructorID: p.ID,
	}

	if image != nil {
		url, err := s.uploadImage(ctx, p.ID, image)
		if err != nil {
			log.Error("course create failed", zap.String("step", "uploading image"), zap.Error(err))
			return nil, apperror.Upstream("uploading image", err).
				WithMessage("The image could not be uploaded, so the course was not created.")
		}
		c.ImageURL = url
	}

	if err := s.courses.Create(ctx, c); err != nil {
		if errors.Is(err, apperror.ErrForbidden) {
			return nil, err
		}
		log.Error("course create failed", zap.String("step", "saving course"), zap.Error(err))
		msg := "The course could not be saved. Please try again."
		if c.ImageURL != "" {
			msg = "The image was uploaded but the course could not be saved. Please try again."
		}
		return nil, apperror.Upstream("saving course", err).WithMessage(msg)
	}

	log.Info("course created", zap.String("course_id", c.ID))
	c.Instructor = &model.Instructor{ID: p.ID, Name: p.DisplayName()}
	return c, nil
}

// Update edits title, description and, when a new file is given, the
// image.
func (s *CourseService) Update(ctx context.Context, sess *model.Session, id string, in CourseInput, image *Upload) (*model.Course, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if image != nil {
		if err := checkUpload(image, "image", MaxImageBytes, true); err != nil {
			return nil, err
		}
	}

	c, err := s.Manageable(ctx, sess, id)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	c.Title = in.Title
	c.Description = in.Description
	if image != nil {
		url, err := s.uploadImage(ctx, sess.AccountID, image)
		if err != nil {
			log.Error("course update failed", zap.String("step", "uploading image"), zap.Error(err))
			return nil, apperror.Upstream("uploading image", err).
				WithMessage("The image could not be uploaded, so the course was not changed.")
		}
		c.ImageURL = url
	}

	if err := s.courses.Update(ctx, c, sess.AccountID); err != nil {
		if errors.Is(err, apperror.ErrForbidden) || errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		log.Error("course update failed", zap.String("step", "saving course"), zap.Error(err))
		return nil, apperror.Upstream("saving course", err).
			WithMessage("The course could not be saved. Please try again.")
	}
	return c, nil
}

// Delete removes the caller's course. Deleting a course that matches no
// row is reported as not found.
func (s *CourseService) Delete(ctx context.Context, sess *model.Session, id string) error {
	c, err := s.Manageable(ctx, sess, id)
	if err != nil {
		return err
	}

	deleted, err := s.courses.Delete(ctx, c.ID, sess.AccountID)
	if err != nil {
		logger.FromContext(ctx).Error("course delete failed", zap.String("step", "deleting course"), zap.Error(err))
		return apperror.Upstream("deleting course", err).
			WithMessage("The course could not be deleted. Please try again.")
	}
	if !deleted {
		return apperror.NotFound("course", id)
	}

	logger.FromContext(ctx).Info("course deleted", zap.String("course_id", id))
	return nil
}

func (s *CourseService) uploadImage(ctx context.Context, userID string, image *Upload) (string, error) {
	objectPath := storage.ThumbnailPath(userID, image.Filename, s.now())
	err := s.storage.Upload(ctx, storage.BucketThumbnails, objectPath, image.Data, storage.UploadOptions{
		ContentType: image.contentType(),
	})
	if err != nil {
		return "", err
	}
	return s.storage.PublicURL(storage.BucketThumbnails, objectPath), nil
}
