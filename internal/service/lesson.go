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

// LessonService shows lessons and lets a course's instructor add them.
type LessonService struct {
	lessons  repository.LessonRepository
	courses  *CourseService
	storage  storage.ObjectStorage
	validate *Validator
	now      func() time.Time
}

func NewLessonService(lessons repository.LessonRepository, courses *CourseService, store storage.ObjectStorage, validate *Validator) *LessonService {
	return &LessonService{
		lessons:  lessons,
		courses:  courses,
		storage:  store,
		validate: validate,
		now:      time.Now,
	}
}

type LessonInput struct {
	Title   string `form:"title" validate:"required,max=200"`
	Content string `form:"content" validate:"max=50000"`
}

func (s *LessonService) Get(ctx context.Context, id string) (*model.Lesson, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperror.NotFound("lesson", id).WithMessage("Lesson not found.")
	}
	l, err := s.lessons.Get(ctx, id)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("lesson", id).WithMessage("Lesson not found.")
	}
	if err != nil {
		logger.FromContext(ctx).Error("lesson load failed", zap.String("step", "loading lesson"), zap.Error(err))
		return nil, apperror.Upstream("loading lesson", err)
	}
	return l, nil
}

// Create adds a lesson to a course the caller owns, uploading the optional
// resource file first.
func (s *LessonService) Create(ctx context.Context, sess *model.Session, courseID string, in LessonInput, resource *Upload) (*model.Lesson, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if resource != nil {
		if err := checkUpload(resource, "resource", MaxResourceBytes, false); err != nil {
			return nil, err
		}
	}

	c, err := s.courses.Manageable(ctx, sess, courseID)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	l := &model.Lesson{
		CourseID: c.ID,
		Title:    in.Title,
		Content:  in.Content,
	}

	if resource != nil {
		objectPath := storage.ResourcePath(c.ID, resource.Filename, s.now())
		err := s.storage.Upload(ctx, storage.BucketResources, objectPath, resource.Data, storage.UploadOptions{
			ContentType: resource.contentType(),
		})
		if err != nil {
			log.Error("lesson create failed", zap.String("step", "uploading resource"), zap.Error(err))
			return nil, apperror.Upstream("uploading resource", err).
				WithMessage("The resource could not be uploaded, so the lesson was not added.")
		}
		l.ResourceURL = s.storage.PublicURL(storage.BucketResources, objectPath)
	}

	if err := s.lessons.Create(ctx, l, sess.AccountID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrForbidden) {
			return nil, err
		}
		log.Error("lesson create failed", zap.String("step", "saving lesson"), zap.Error(err))
		msg := "The lesson could not be saved. Please try again."
		if l.ResourceURL != "" {
			msg = "The resource was uploaded but the lesson could not be saved. Please try again."
		}
		return nil, apperror.Upstream("saving lesson", err).WithMessage(msg)
	}

	log.Info("lesson created", zap.String("lesson_id", l.ID), zap.String("course_id", c.ID))
	l.Course = c
	return l, nil
}
