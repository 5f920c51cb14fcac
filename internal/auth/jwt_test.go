package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	assert.Error(t, err)
}

func TestIssueParse_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, issued, err := ts.Issue("acc-1", "ada@example.com", KindAccess, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	c, err := ts.Parse(token, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", c.Subject)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.Equal(t, issued.ID, c.ID)
	assert.Equal(t, KindAccess, c.Kind)
}

func TestIssue_UniqueTokenIDs(t *testing.T) {
	ts := newTestTokenService(t)

	_, c1, err := ts.Issue("acc-1", "", KindAccess, time.Hour)
	require.NoError(t, err)
	_, c2, err := ts.Issue("acc-1", "", KindAccess, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, c1.ID, c2.ID)
}

func TestParse_WrongKind(t *testing.T) {
	ts := newTestTokenService(t)

	link, _, err := ts.Issue("acc-1", "", KindLink, time.Minute)
	require.NoError(t, err)

	_, err = ts.Parse(link, KindAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestParse_Expired(t *testing.T) {
	ts := newTestTokenService(t)
	issuedAt := time.Now().Add(-2 * time.Hour)
	ts.now = func() time.Time { return issuedAt }

	token, _, err := ts.Issue("acc-1", "", KindAccess, time.Hour)
	require.NoError(t, err)

	ts.now = time.Now
	_, err = ts.Parse(token, KindAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParse_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	token, _, err := ts.Issue("acc-1", "", KindAccess, time.Hour)
	require.NoError(t, err)

	other, err := NewTokenService("another-secret-0123456")
	require.NoError(t, err)
	foreign, _, err := other.Issue("acc-1", "", KindAccess, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"tampered":     tampered,
		"wrong secret": foreign,
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Parse(input, KindAccess)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTokenInvalid))
		})
	}
}
