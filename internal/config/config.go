// Package config loads the portal's configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendEmbedded = "embedded"
	BackendHosted   = "hosted"

	StorageLocal  = "local"
	StorageS3     = "s3"
	StorageHosted = "hosted"

	MailConsole  = "console"
	MailSendGrid = "sendgrid"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Log      LogConfig
	Session  SessionConfig
	Backend  BackendConfig
	Database DatabaseConfig
	Hosted   HostedConfig
	Storage  StorageConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	Mail     MailConfig
}

type AppConfig struct {
	Name    string
	Env     string
	Port    string
	BaseURL string // absolute URL used in e-mailed links and OAuth callbacks
}

type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// SessionConfig covers the session cookie and, for the embedded backend,
// token issuance.
type SessionConfig struct {
	Secret        string
	TTL           time.Duration
	RefreshWindow time.Duration
	LinkTTL       time.Duration
	CookieName    string
	CookieSecure  bool
}

type BackendConfig struct {
	Mode string // embedded or hosted
}

type DatabaseConfig struct {
	Path string
}

// HostedConfig points at the hosted backend-as-a-service project.
type HostedConfig struct {
	URL     string
	AnonKey string
}

type StorageConfig struct {
	Driver        string // local, s3, hosted
	LocalDir      string
	PublicBaseURL string
	S3            S3Config
}

type S3Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether GitHub sign-in is configured.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type MailConfig struct {
	Driver         string // console, sendgrid
	SendGridAPIKey string
	FromName       string
	FromEmail      string
}

// Load reads configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with the PORTAL_ prefix (e.g. PORTAL_SESSION_SECRET)
//  2. A .env file in the working directory
//  3. config.toml
//  4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			BaseURL: v.GetString("app.base_url"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxUploadBytes:  v.GetInt64("http.max_upload_bytes"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Session: SessionConfig{
			Secret:        v.GetString("session.secret"),
			TTL:           v.GetDuration("session.ttl"),
			RefreshWindow: v.GetDuration("session.refresh_window"),
			LinkTTL:       v.GetDuration("session.link_ttl"),
			CookieName:    v.GetString("session.cookie_name"),
			CookieSecure:  v.GetBool("session.cookie_secure"),
		},
		Backend: BackendConfig{
			Mode: v.GetString("backend.mode"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Hosted: HostedConfig{
			URL:     v.GetString("hosted.url"),
			AnonKey: v.GetString("hosted.anon_key"),
		},
		Storage: StorageConfig{
			Driver:        v.GetString("storage.driver"),
			LocalDir:      v.GetString("storage.local_dir"),
			PublicBaseURL: v.GetString("storage.public_base_url"),
			S3: S3Config{
				Endpoint:     v.GetString("storage.s3.endpoint"),
				Region:       v.GetString("storage.s3.region"),
				AccessKey:    v.GetString("storage.s3.access_key"),
				SecretKey:    v.GetString("storage.s3.secret_key"),
				UsePathStyle: v.GetBool("storage.s3.use_path_style"),
			},
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		GitHub: GitHubConfig{
			ClientID:     v.GetString("github.client_id"),
			ClientSecret: v.GetString("github.client_secret"),
			CallbackURL:  v.GetString("github.callback_url"),
		},
		Mail: MailConfig{
			Driver:         v.GetString("mail.driver"),
			SendGridAPIKey: v.GetString("mail.sendgrid_api_key"),
			FromName:       v.GetString("mail.from_name"),
			FromEmail:      v.GetString("mail.from_email"),
		},
	}
}

// applyDefaults sets default values for any empty config fields.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "course-portal"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:" + cfg.App.Port
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxUploadBytes == 0 {
		cfg.HTTP.MaxUploadBytes = 25 << 20
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = time.Hour
	}
	if cfg.Session.RefreshWindow == 0 {
		cfg.Session.RefreshWindow = 10 * time.Minute
	}
	if cfg.Session.LinkTTL == 0 {
		cfg.Session.LinkTTL = 15 * time.Minute
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session"
	}

	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = BackendEmbedded
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "portal.db"
	}

	if cfg.Storage.Driver == "" {
		if cfg.Backend.Mode == BackendHosted {
			cfg.Storage.Driver = StorageHosted
		} else {
			cfg.Storage.Driver = StorageLocal
		}
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "uploads"
	}
	if cfg.Storage.PublicBaseURL == "" && cfg.Storage.Driver == StorageLocal {
		cfg.Storage.PublicBaseURL = "/uploads"
	}
	if cfg.Storage.S3.Endpoint == "" {
		cfg.Storage.S3.Endpoint = "http://localhost:9000"
	}
	if cfg.Storage.S3.Region == "" {
		cfg.Storage.S3.Region = "us-east-1"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = strings.TrimRight(cfg.App.BaseURL, "/") + "/auth/github/callback"
	}

	if cfg.Mail.Driver == "" {
		cfg.Mail.Driver = MailConsole
	}
	if cfg.Mail.FromName == "" {
		cfg.Mail.FromName = "Course Portal"
	}
	if cfg.Mail.FromEmail == "" {
		cfg.Mail.FromEmail = "no-reply@localhost"
	}
}

// validate performs validation on the configuration.
func (c *Config) validate() error {
	switch c.Backend.Mode {
	case BackendEmbedded:
		if len(c.Session.Secret) < 16 {
			return fmt.Errorf("config: session.secret must be at least 16 characters")
		}
		if c.Storage.Driver == StorageHosted {
			return fmt.Errorf("config: storage.driver=hosted requires backend.mode=hosted")
		}
	case BackendHosted:
		if c.Hosted.URL == "" || c.Hosted.AnonKey == "" {
			return fmt.Errorf("config: hosted.url and hosted.anon_key are required when backend.mode=hosted")
		}
		if _, err := url.ParseRequestURI(c.Hosted.URL); err != nil {
			return fmt.Errorf("config: hosted.url: %w", err)
		}
	default:
		return fmt.Errorf("config: unknown backend.mode %q", c.Backend.Mode)
	}

	switch c.Storage.Driver {
	case StorageLocal, StorageHosted:
	case StorageS3:
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("config: storage.s3.access_key and storage.s3.secret_key are required")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Mail.Driver {
	case MailConsole:
	case MailSendGrid:
		if c.Mail.SendGridAPIKey == "" {
			return fmt.Errorf("config: mail.sendgrid_api_key is required when mail.driver=sendgrid")
		}
	default:
		return fmt.Errorf("config: unknown mail.driver %q", c.Mail.Driver)
	}

	if c.Session.RefreshWindow >= c.Session.TTL {
		return fmt.Errorf("config: session.refresh_window (%s) must be shorter than session.ttl (%s)",
			c.Session.RefreshWindow, c.Session.TTL)
	}

	if c.App.Env == "production" && !c.Session.CookieSecure {
		return fmt.Errorf("config: session.cookie_secure must be true in production")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
