// Package service holds the portal's use-cases. Handlers parse requests and
// render; services validate input, check who may do what, and call the
// auth, store and storage collaborators in order. Collaborator failures
// come back as apperror values naming the step that failed.
package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
)

// GitHubSignIn is implemented by auth backends that can sign in a GitHub
// identity. Only the embedded backend does.
type GitHubSignIn interface {
	SignInWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*model.Session, error)
}

// AuthService covers sign-up, sign-in and sign-out.
type AuthService struct {
	provider auth.Provider
	github   GitHubSignIn
	validate *Validator
}

func NewAuthService(provider auth.Provider, validate *Validator) *AuthService {
	s := &AuthService{provider: provider, validate: validate}
	if gh, ok := provider.(GitHubSignIn); ok {
		s.github = gh
	}
	return s
}

type SignUpInput struct {
	Name     string `form:"name" validate:"max=100"`
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required,min=6"`
}

type LoginInput struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

// SignUp registers an account and signs it in. New accounts are always
// students; the role can be changed on the profile page afterwards.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*model.Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)

	acc, err := s.provider.SignUp(ctx, in.Email, in.Password, auth.SignUpMetadata{Name: in.Name})
	if errors.Is(err, auth.ErrEmailTaken) {
		return nil, apperror.ValidationFailed("email", "An account with this email already exists.")
	}
	if err != nil {
		log.Error("sign-up failed", zap.String("step", "creating account"), zap.Error(err))
		return nil, apperror.Upstream("creating account", err).
			WithMessage("Your account could not be created. Please try again.")
	}

	sess, err := s.provider.SignInWithPassword(ctx, in.Email, in.Password)
	if err != nil {
		log.Error("sign-up failed", zap.String("step", "signing in"), zap.String("account_id", acc.ID), zap.Error(err))
		return nil, apperror.Upstream("signing in", err).
			WithMessage("Your account was created but you could not be signed in. Please log in.")
	}

	log.Info("account signed up", zap.String("account_id", acc.ID))
	return sess, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*model.Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	sess, err := s.provider.SignInWithPassword(ctx, in.Email, in.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return nil, apperror.ValidationFailed("password", "Invalid email or password.")
	}
	if err != nil {
		logger.FromContext(ctx).Error("login failed", zap.String("step", "signing in"), zap.Error(err))
		return nil, apperror.Upstream("signing in", err).
			WithMessage("Could not sign you in right now. Please try again.")
	}
	return sess, nil
}

// RequestLink sends a one-time sign-in link. The answer is the same
// whether or not the address has an account.
func (s *AuthService) RequestLink(ctx context.Context, email, redirectURL string) error {
	in := struct {
		Email string `form:"email" validate:"required,email"`
	}{Email: strings.TrimSpace(email)}
	if err := s.validate.Struct(in); err != nil {
		return err
	}

	if err := s.provider.SignInWithOneTimeLink(ctx, in.Email, redirectURL); err != nil {
		logger.FromContext(ctx).Error("sign-in link failed", zap.String("step", "sending link"), zap.Error(err))
		return apperror.Upstream("sending link", err).
			WithMessage("The sign-in link could not be sent. Please try again.")
	}
	return nil
}

func (s *AuthService) VerifyLink(ctx context.Context, token string) (*model.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperror.ValidationFailed("token", "This sign-in link is invalid or has expired.")
	}

	sess, err := s.provider.VerifyOneTimeLink(ctx, token)
	if errors.Is(err, auth.ErrInvalidLink) {
		return nil, apperror.ValidationFailed("token", "This sign-in link is invalid or has expired.")
	}
	if err != nil {
		logger.FromContext(ctx).Error("sign-in link failed", zap.String("step", "verifying link"), zap.Error(err))
		return nil, apperror.Upstream("verifying link", err)
	}
	return sess, nil
}

// GitHubEnabled reports whether the auth backend can sign in GitHub
// identities.
func (s *AuthService) GitHubEnabled() bool {
	return s.github != nil
}

func (s *AuthService) SignInWithGitHub(ctx context.Context, gh *auth.GitHubUser) (*model.Session, error) {
	if s.github == nil {
		return nil, apperror.Forbidden("GitHub sign-in is not available.")
	}
	sess, err := s.github.SignInWithGitHub(ctx, gh)
	if err != nil {
		logger.FromContext(ctx).Error("GitHub sign-in failed", zap.String("step", "signing in"), zap.Error(err))
		return nil, apperror.Upstream("signing in with GitHub", err)
	}
	return sess, nil
}

// Logout ends the session. An empty token is already signed out.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		logger.FromContext(ctx).Error("logout failed", zap.String("step", "signing out"), zap.Error(err))
		return apperror.Upstream("signing out", err)
	}
	return nil
}

// Account returns the signed-in caller's account.
func (s *AuthService) Account(ctx context.Context, sess *model.Session) (*model.Account, error) {
	if sess == nil {
		return nil, apperror.Unauthenticated("Please log in.")
	}
	acc, err := s.provider.GetAccount(ctx, sess.AccessToken)
	if err != nil {
		return nil, apperror.Upstream("loading account", err)
	}
	if acc == nil {
		return nil, apperror.Unauthenticated("Please log in.")
	}
	return acc, nil
}
