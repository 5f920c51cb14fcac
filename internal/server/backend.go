package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/config"
	"github.com/sakif/course-portal/internal/handler"
	"github.com/sakif/course-portal/internal/hosted"
	"github.com/sakif/course-portal/internal/mail"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/repository/rest"
	sqliteRepo "github.com/sakif/course-portal/internal/repository/sqlite"
	"github.com/sakif/course-portal/internal/storage"
)

// backend is the set of collaborators the portal runs on: auth, the
// relational store and object storage.
type backend struct {
	provider auth.Provider
	events   *auth.Broker
	github   *auth.GitHubProvider // nil unless GitHub sign-in is configured

	courses     repository.CourseRepository
	lessons     repository.LessonRepository
	enrollments repository.EnrollmentRepository
	profiles    repository.ProfileRepository

	storage    storage.ObjectStorage
	localFiles *storage.LocalStorage // set when uploads are served by this process
	pinger     handler.Pinger

	closers []func() error
}

// close releases everything the backend opened, last opened first.
func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{events: auth.NewBroker(logger.Named("events"))}

	var (
		hostedClient *hosted.Client
		err          error
	)
	switch cfg.Backend.Mode {
	case config.BackendHosted:
		hostedClient, err = b.useHosted(cfg, logger)
	default:
		err = b.useEmbedded(ctx, cfg, logger)
	}
	if err != nil {
		b.close()
		return nil, err
	}

	if err := b.useStorage(ctx, cfg, hostedClient, logger); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

// useEmbedded runs auth and data on the local SQLite database.
func (b *backend) useEmbedded(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.closers = append(b.closers, db.Close)
	b.pinger = db

	b.courses = db.Courses()
	b.lessons = db.Lessons()
	b.enrollments = db.Enrollments()
	b.profiles = db.Profiles()

	tokens, err := auth.NewTokenService(cfg.Session.Secret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var revocations auth.RevocationList
	if cfg.Redis.Enabled {
		rl, err := auth.NewRedisRevocationList(ctx, auth.RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		b.closers = append(b.closers, rl.Close)
		revocations = rl
		logger.Info("token revocations shared through redis", zap.String("addr", cfg.Redis.Addr()))
	} else {
		revocations = auth.NewMemoryRevocationList()
	}

	var mailer mail.Sender
	switch cfg.Mail.Driver {
	case config.MailSendGrid:
		mailer = mail.NewSendGridSender(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromEmail)
	default:
		mailer = mail.NewConsoleSender(logger.Named("mail"))
	}

	b.provider = auth.NewLocal(auth.LocalDeps{
		Accounts:    db.Accounts(),
		Tokens:      tokens,
		Passwords:   auth.NewPasswordService(),
		Revocations: revocations,
		Mailer:      mailer,
		Events:      b.events,
	}, auth.LocalConfig{
		SessionTTL: cfg.Session.TTL,
		LinkTTL:    cfg.Session.LinkTTL,
		BaseURL:    cfg.App.BaseURL,
	}, logger.Named("auth"))

	if cfg.GitHub.Enabled() {
		b.github = auth.NewGitHubProvider(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.CallbackURL)
	}

	logger.Info("embedded backend ready", zap.String("database", cfg.Database.Path))
	return nil
}

// useHosted runs auth and data on the hosted backend-as-a-service.
func (b *backend) useHosted(cfg *config.Config, logger *zap.Logger) (*hosted.Client, error) {
	c, err := hosted.New(cfg.Hosted.URL, cfg.Hosted.AnonKey, logger.Named("hosted"))
	if err != nil {
		return nil, err
	}

	b.provider = hosted.NewAuth(c, b.events)

	store := rest.New(c)
	b.courses = store.Courses()
	b.lessons = store.Lessons()
	b.enrollments = store.Enrollments()
	b.profiles = store.Profiles()

	if cfg.GitHub.Enabled() {
		logger.Warn("github sign-in is only available with the embedded backend; ignoring github settings")
	}

	logger.Info("hosted backend ready", zap.String("url", c.BaseURL()))
	return c, nil
}

func (b *backend) useStorage(ctx context.Context, cfg *config.Config, hostedClient *hosted.Client, logger *zap.Logger) error {
	switch cfg.Storage.Driver {
	case config.StorageS3:
		s, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:      cfg.Storage.S3.Endpoint,
			Region:        cfg.Storage.S3.Region,
			AccessKey:     cfg.Storage.S3.AccessKey,
			SecretKey:     cfg.Storage.S3.SecretKey,
			UsePathStyle:  cfg.Storage.S3.UsePathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		}, logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("creating s3 storage: %w", err)
		}
		b.storage = s
	case config.StorageHosted:
		if hostedClient == nil {
			return fmt.Errorf("storage driver %q needs the hosted backend", cfg.Storage.Driver)
		}
		b.storage = hosted.NewStorage(hostedClient)
	default:
		s, err := storage.NewLocalStorage(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL, logger.Named("storage"))
		if err != nil {
			return fmt.Errorf("creating local storage: %w", err)
		}
		b.storage = s
		b.localFiles = s
	}
	logger.Info("object storage ready", zap.String("driver", cfg.Storage.Driver))
	return nil
}
