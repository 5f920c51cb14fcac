// Package auth is the portal's view of the auth collaborator: the Provider
// contract every backend satisfies, the embedded Provider built on signed
// tokens and the local account table, and the HTTP helpers that carry a
// session in a cookie.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/course-portal/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid email or password")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrInvalidLink        = errors.New("auth: sign-in link is invalid or expired")
)

// SignUpMetadata is stored with a new account. The new profile takes its
// display name from it.
type SignUpMetadata struct {
	Name string
}

// Provider is the auth collaborator.
//
// GetSession returns (nil, nil) when the token does not belong to a live
// session and an error only when the answer could not be determined.
type Provider interface {
	GetSession(ctx context.Context, accessToken string) (*model.Session, error)
	GetAccount(ctx context.Context, accessToken string) (*model.Account, error)
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*model.Account, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithOneTimeLink(ctx context.Context, email, redirectURL string) error
	VerifyOneTimeLink(ctx context.Context, token string) (*model.Session, error)
	RefreshSession(ctx context.Context, accessToken string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Subscribe(ctx context.Context) <-chan SessionEvent
}

// SessionEventType names a session change.
type SessionEventType string

const (
	EventSignedIn       SessionEventType = "signed_in"
	EventSignedOut      SessionEventType = "signed_out"
	EventTokenRefreshed SessionEventType = "token_refreshed"
)

// SessionEvent is published whenever a session starts, ends or is renewed.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	AccountID string           `json:"accountId"`
	At        time.Time        `json:"at"`
}
