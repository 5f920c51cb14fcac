package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/storage"
)

// ProfileService reads and edits the caller's own profile.
type ProfileService struct {
	profiles repository.ProfileRepository
	storage  storage.ObjectStorage
	validate *Validator
	now      func() time.Time
}

func NewProfileService(profiles repository.ProfileRepository, store storage.ObjectStorage, validate *Validator) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		storage:  store,
		validate: validate,
		now:      time.Now,
	}
}

// ProfileInput is the profile form. Role is limited to the selectable
// roles.
type ProfileInput struct {
	Name string `form:"name" validate:"max=100"`
	Bio  string `form:"bio" validate:"max=2000"`
	Role string `form:"role" validate:"required,oneof=student instructor"`
}

func requireSession(sess *model.Session) error {
	if sess == nil || sess.AccountID == "" {
		return apperror.Unauthenticated("Please log in to continue.")
	}
	return nil
}

// Get returns the profile of accountID without creating it.
func (s *ProfileService) Get(ctx context.Context, accountID string) (*model.Profile, error) {
	p, err := s.profiles.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, apperror.Upstream("loading profile", err)
	}
	return p, nil
}

// Ensure returns the caller's profile, creating a student profile when the
// account has none yet.
func (s *ProfileService) Ensure(ctx context.Context, sess *model.Session) (*model.Profile, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}

	p, err := s.profiles.Get(ctx, sess.AccountID)
	if err == nil {
		if p.Email == "" {
			p.Email = sess.Email
		}
		return p, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Upstream("loading profile", err)
	}

	p = &model.Profile{
		ID:    sess.AccountID,
		Name:  sess.Email,
		Email: sess.Email,
		Role:  model.RoleStudent,
	}
	err = s.profiles.Create(ctx, p)
	if errors.Is(err, apperror.ErrConflict) {
		// created concurrently
		return s.Get(ctx, sess.AccountID)
	}
	if err != nil {
		logger.FromContext(ctx).Error("profile create failed", zap.String("step", "creating profile"), zap.Error(err))
		return nil, apperror.Upstream("creating profile", err)
	}

	logger.FromContext(ctx).Info("profile created", zap.String("account_id", p.ID))
	return p, nil
}

func (s *ProfileService) Update(ctx context.Context, sess *model.Session, in ProfileInput) (*model.Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Bio = strings.TrimSpace(in.Bio)
	in.Role = strings.TrimSpace(in.Role)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	p, err := s.Ensure(ctx, sess)
	if err != nil {
		return nil, err
	}

	p.Name = in.Name
	p.Bio = in.Bio
	p.Role = model.Role(in.Role)
	if err := s.profiles.Update(ctx, p); err != nil {
		logger.FromContext(ctx).Error("profile update failed", zap.String("step", "saving profile"), zap.Error(err))
		return nil, apperror.Upstream("saving profile", err).
			WithMessage("Your profile could not be saved. Please try again.")
	}
	return p, nil
}

// UploadAvatar replaces the caller's avatar. The avatar lives at a fixed
// path per account, so earlier uploads are overwritten.
func (s *ProfileService) UploadAvatar(ctx context.Context, sess *model.Session, file *Upload) (*model.Profile, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if file == nil {
		return nil, apperror.ValidationFailed("avatar", "Please choose an image to upload.")
	}
	if err := checkUpload(file, "avatar", MaxImageBytes, true); err != nil {
		return nil, err
	}

	p, err := s.Ensure(ctx, sess)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	objectPath := storage.AvatarPath(sess.AccountID, file.Filename)
	err = s.storage.Upload(ctx, storage.BucketAvatars, objectPath, file.Data, storage.UploadOptions{
		Overwrite:   true,
		ContentType: file.contentType(),
	})
	if err != nil {
		log.Error("avatar upload failed", zap.String("step", "uploading avatar"), zap.Error(err))
		return nil, apperror.Upstream("uploading avatar", err).
			WithMessage("Your avatar could not be uploaded. Please try again.")
	}

	// The path never changes, so a version parameter busts browser caches.
	p.AvatarURL = fmt.Sprintf("%s?v=%d", s.storage.PublicURL(storage.BucketAvatars, objectPath), s.now().UnixMilli())
	if err := s.profiles.Update(ctx, p); err != nil {
		log.Error("avatar upload failed", zap.String("step", "saving profile"), zap.Error(err))
		return nil, apperror.Upstream("saving profile", err).
			WithMessage("Your avatar was uploaded but your profile could not be updated.")
	}
	return p, nil
}
