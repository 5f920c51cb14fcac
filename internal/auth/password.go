// Password hashing for the embedded auth backend.
//
// WHY BCRYPT?
// bcrypt is deliberately slow, and the slowness is what makes guessing
// expensive. It generates a random salt per hash and embeds it, together
// with the cost, in the output string, so the accounts table needs a single
// password_hash column and two accounts with the same password still store
// different hashes.
//
// Fast hashes (MD5, SHA-256) must never be used for passwords: GPUs try
// billions of them per second. At cost 12 one bcrypt hash takes a few
// hundred milliseconds, which a sign-in barely notices.

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor for stored account passwords.
const defaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer passwords are rejected
// rather than silently truncated.
const maxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: password does not match")

// PasswordService hashes and verifies account passwords with bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a low cost so
// tests in other packages stay fast. bcrypt.MinCost (4) is the usual choice.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plaintext. The hash embeds salt and cost.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and ErrPasswordMismatch
// when it does not. Accounts created through GitHub have no hash and never
// match.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time, so the response
// time does not reveal how much of a guess was right. The cost is read from
// the stored hash, which lets old hashes keep verifying after defaultCost
// changes.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
