package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/mail"
	"github.com/sakif/course-portal/internal/model"
)

// fakeAccounts is an in-memory AccountRepository.
type fakeAccounts struct {
	mu       sync.Mutex
	byID     map[string]*model.Account
	failWith error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: make(map[string]*model.Account)}
}

func (f *fakeAccounts) CreateAccount(_ context.Context, a *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	for _, existing := range f.byID {
		if existing.Email == a.Email {
			return apperror.Conflict("account", a.Email)
		}
	}
	cp := *a
	f.byID[a.ID] = &cp
	return nil
}

func (f *fakeAccounts) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if a, ok := f.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, apperror.NotFound("account", id)
}

func (f *fakeAccounts) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, a := range f.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("account", email)
}

func (f *fakeAccounts) GetAccountByGitHubID(_ context.Context, id int64) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.byID {
		if a.GitHubID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("account", "github")
}

func (f *fakeAccounts) LinkGitHub(_ context.Context, accountID string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[accountID]
	if !ok {
		return apperror.NotFound("account", accountID)
	}
	a.GitHubID = id
	return nil
}

// failingRevocations makes every revocation check fail.
type failingRevocations struct{ MemoryRevocationList }

func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

type localFixture struct {
	local    *Local
	accounts *fakeAccounts
	mailer   *mail.ConsoleSender
	broker   *Broker
}

func newLocalFixture(t *testing.T) *localFixture {
	t.Helper()
	tokens, err := NewTokenService(testSecret)
	require.NoError(t, err)

	f := &localFixture{
		accounts: newFakeAccounts(),
		mailer:   mail.NewConsoleSender(zap.NewNop()),
		broker:   NewBroker(zap.NewNop()),
	}
	f.local = NewLocal(LocalDeps{
		Accounts:    f.accounts,
		Tokens:      tokens,
		Passwords:   NewPasswordServiceForTest(bcrypt.MinCost),
		Revocations: NewMemoryRevocationList(),
		Mailer:      f.mailer,
		Events:      f.broker,
	}, LocalConfig{SessionTTL: time.Hour, LinkTTL: 15 * time.Minute, BaseURL: "http://portal.test/"}, zap.NewNop())
	return f
}

func (f *localFixture) signUp(t *testing.T, email, password string) *model.Account {
	t.Helper()
	acc, err := f.local.SignUp(context.Background(), email, password, SignUpMetadata{Name: "Ada"})
	require.NoError(t, err)
	return acc
}

func TestLocal_SignUpAndSignIn(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	acc := f.signUp(t, "  Ada@Example.com ", "secret123")
	assert.Equal(t, "ada@example.com", acc.Email)
	assert.Equal(t, "Ada", acc.Name)
	assert.NotEmpty(t, acc.PasswordHash)

	sess, err := f.local.SignInWithPassword(ctx, "ADA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, sess.AccountID)

	got, err := f.local.GetSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, acc.ID, got.AccountID)

	account, err := f.local.GetAccount(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)
}

func TestLocal_SignUpDuplicateEmail(t *testing.T) {
	f := newLocalFixture(t)
	f.signUp(t, "ada@example.com", "secret123")

	_, err := f.local.SignUp(context.Background(), "ADA@example.com", "other123", SignUpMetadata{})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLocal_SignInRejects(t *testing.T) {
	f := newLocalFixture(t)
	f.signUp(t, "ada@example.com", "secret123")

	_, err := f.local.SignInWithPassword(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.local.SignInWithPassword(context.Background(), "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLocal_GetSessionNoSession(t *testing.T) {
	f := newLocalFixture(t)

	for _, token := range []string{"", "garbage"} {
		sess, err := f.local.GetSession(context.Background(), token)
		assert.NoError(t, err)
		assert.Nil(t, sess)
	}
}

func TestLocal_GetSessionLookupError(t *testing.T) {
	f := newLocalFixture(t)
	f.signUp(t, "ada@example.com", "secret123")
	sess, err := f.local.SignInWithPassword(context.Background(), "ada@example.com", "secret123")
	require.NoError(t, err)

	f.local.revocations = &failingRevocations{}

	got, err := f.local.GetSession(context.Background(), sess.AccessToken)
	assert.Error(t, err)
	assert.Nil(t, got)
}

func TestLocal_SignOutRevokesAndPublishes(t *testing.T) {
	f := newLocalFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acc := f.signUp(t, "ada@example.com", "secret123")
	events := f.local.Subscribe(ctx)

	sess, err := f.local.SignInWithPassword(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, EventSignedIn, recv(t, events).Type)

	require.NoError(t, f.local.SignOut(ctx, sess.AccessToken))
	ev := recv(t, events)
	assert.Equal(t, EventSignedOut, ev.Type)
	assert.Equal(t, acc.ID, ev.AccountID)

	got, err := f.local.GetSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, got, "revoked token must not resolve")

	// signing out twice, or with junk, is harmless
	assert.NoError(t, f.local.SignOut(ctx, sess.AccessToken))
	assert.NoError(t, f.local.SignOut(ctx, "junk"))
}

func TestLocal_RefreshSession(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	f.signUp(t, "ada@example.com", "secret123")

	sess, err := f.local.SignInWithPassword(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)

	next, err := f.local.RefreshSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, sess.AccessToken, next.AccessToken)

	old, err := f.local.GetSession(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Nil(t, old, "old token is revoked after refresh")

	cur, err := f.local.GetSession(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.NotNil(t, cur)

	none, err := f.local.RefreshSession(ctx, "junk")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func linkToken(t *testing.T, msg mail.Message) string {
	t.Helper()
	i := strings.Index(msg.Text, "http://")
	require.GreaterOrEqual(t, i, 0, "no link in message")
	raw := strings.TrimSpace(msg.Text[i:])
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/link", u.Path)
	return u.Query().Get("token")
}

func TestLocal_OneTimeLink(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()
	acc := f.signUp(t, "ada@example.com", "secret123")

	require.NoError(t, f.local.SignInWithOneTimeLink(ctx, "ada@example.com", "/enrolled"))
	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Contains(t, sent[0].Text, "next=%2Fenrolled")

	token := linkToken(t, sent[0])

	sess, err := f.local.VerifyOneTimeLink(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, sess.AccountID)

	_, err = f.local.VerifyOneTimeLink(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidLink, "links work once")

	// a link token is not a session token
	got, err := f.local.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLocal_OneTimeLinkAbsoluteRedirect(t *testing.T) {
	f := newLocalFixture(t)
	f.signUp(t, "ada@example.com", "secret123")

	require.NoError(t, f.local.SignInWithOneTimeLink(context.Background(), "ada@example.com",
		"http://portal.test/auth/link?next=%2Fdashboard"))
	sent := f.mailer.Sent()
	require.Len(t, sent, 1)

	i := strings.Index(sent[0].Text, "http://")
	require.GreaterOrEqual(t, i, 0)
	u, err := url.Parse(strings.TrimSpace(sent[0].Text[i:]))
	require.NoError(t, err)
	assert.Equal(t, "portal.test", u.Host)
	assert.Equal(t, "/dashboard", u.Query().Get("next"))
	assert.NotEmpty(t, u.Query().Get("token"))
}

func TestLocal_OneTimeLinkUnknownEmail(t *testing.T) {
	f := newLocalFixture(t)

	require.NoError(t, f.local.SignInWithOneTimeLink(context.Background(), "nobody@example.com", ""))
	assert.Empty(t, f.mailer.Sent())
}

func TestLocal_VerifyRejectsSessionToken(t *testing.T) {
	f := newLocalFixture(t)
	f.signUp(t, "ada@example.com", "secret123")
	sess, err := f.local.SignInWithPassword(context.Background(), "ada@example.com", "secret123")
	require.NoError(t, err)

	_, err = f.local.VerifyOneTimeLink(context.Background(), sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestLocal_SignInWithGitHub(t *testing.T) {
	f := newLocalFixture(t)
	ctx := context.Background()

	t.Run("links an existing account by email", func(t *testing.T) {
		acc := f.signUp(t, "ada@example.com", "secret123")

		sess, err := f.local.SignInWithGitHub(ctx, &GitHubUser{ID: 42, Login: "ada", Email: "Ada@Example.com"})
		require.NoError(t, err)
		assert.Equal(t, acc.ID, sess.AccountID)

		linked, err := f.accounts.GetAccountByGitHubID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, acc.ID, linked.ID)
	})

	t.Run("reuses the linked account", func(t *testing.T) {
		first, err := f.local.SignInWithGitHub(ctx, &GitHubUser{ID: 42, Login: "ada"})
		require.NoError(t, err)
		linked, err := f.accounts.GetAccountByGitHubID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, linked.ID, first.AccountID)
	})

	t.Run("creates an account for a hidden email", func(t *testing.T) {
		sess, err := f.local.SignInWithGitHub(ctx, &GitHubUser{ID: 7, Login: "Grace"})
		require.NoError(t, err)

		acc, err := f.accounts.GetAccountByID(ctx, sess.AccountID)
		require.NoError(t, err)
		assert.Equal(t, "7+grace@users.noreply.github.com", acc.Email)
		assert.Equal(t, int64(7), acc.GitHubID)
		assert.Empty(t, acc.PasswordHash)
	})

	t.Run("rejects an empty user", func(t *testing.T) {
		_, err := f.local.SignInWithGitHub(ctx, &GitHubUser{})
		assert.Error(t, err)
	})
}
