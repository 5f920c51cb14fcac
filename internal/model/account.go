// Package model defines the data structures used throughout the application.
package model

import "time"

// Account is the identity issued by the auth collaborator. The portal never
// deletes accounts.
//
// PasswordHash and GitHubID are only populated by the embedded auth backend;
// the hosted backend keeps credentials to itself.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"` // sign-up metadata
	PasswordHash string    `json:"-"`
	GitHubID     int64     `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is the auth collaborator's proof of an authenticated caller.
type Session struct {
	AccessToken string    `json:"-"`
	AccountID   string    `json:"accountId"`
	Email       string    `json:"email"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the session ends within d of now.
func (s *Session) ExpiresWithin(d time.Duration, now time.Time) bool {
	return s.ExpiresAt.Sub(now) < d
}
