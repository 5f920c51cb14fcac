package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/mail"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
)

// LocalConfig configures the embedded auth backend.
type LocalConfig struct {
	SessionTTL time.Duration
	LinkTTL    time.Duration
	BaseURL    string // used to build one-time links
}

// Local is the embedded auth backend: accounts live in the portal's own
// store, sessions are signed access tokens, and sign-out revokes the
// token's id.
type Local struct {
	accounts    repository.AccountRepository
	tokens      *TokenService
	passwords   *PasswordService
	revocations RevocationList
	mailer      mail.Sender
	events      *Broker
	cfg         LocalConfig
	logger      *zap.Logger
	now         func() time.Time
}

// LocalDeps groups Local's collaborators.
type LocalDeps struct {
	Accounts    repository.AccountRepository
	Tokens      *TokenService
	Passwords   *PasswordService
	Revocations RevocationList
	Mailer      mail.Sender
	Events      *Broker
}

func NewLocal(deps LocalDeps, cfg LocalConfig, logger *zap.Logger) *Local {
	return &Local{
		accounts:    deps.Accounts,
		tokens:      deps.Tokens,
		passwords:   deps.Passwords,
		revocations: deps.Revocations,
		mailer:      deps.Mailer,
		events:      deps.Events,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

var _ Provider = (*Local)(nil)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetSession resolves an access token. Invalid, expired and revoked tokens
// are "no session"; only a failing revocation check is an error.
func (l *Local) GetSession(ctx context.Context, accessToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, nil
	}

	c, err := l.tokens.Parse(accessToken, KindAccess)
	if err != nil {
		return nil, nil
	}

	revoked, err := l.revocations.IsRevoked(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: resolving session: %w", err)
	}
	if revoked {
		return nil, nil
	}

	return &model.Session{
		AccessToken: accessToken,
		AccountID:   c.Subject,
		Email:       c.Email,
		IssuedAt:    c.IssuedAt.Time,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

func (l *Local) GetAccount(ctx context.Context, accessToken string) (*model.Account, error) {
	sess, err := l.GetSession(ctx, accessToken)
	if err != nil || sess == nil {
		return nil, err
	}

	acc, err := l.accounts.GetAccountByID(ctx, sess.AccountID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading account: %w", err)
	}
	return acc, nil
}

// SignUp creates an account. The store creates the matching student
// profile in the same step.
func (l *Local) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*model.Account, error) {
	hash, err := l.passwords.Hash(password)
	if err != nil {
		return nil, err
	}

	acc := &model.Account{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		Name:         strings.TrimSpace(meta.Name),
		PasswordHash: hash,
		CreatedAt:    l.now().UTC(),
	}

	if err := l.accounts.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("auth: creating account: %w", err)
	}

	l.logger.Info("account created", zap.String("account_id", acc.ID))
	return acc, nil
}

func (l *Local) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	acc, err := l.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading account: %w", err)
	}

	if err := l.passwords.Verify(acc.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	return l.startSession(acc)
}

// SignInWithOneTimeLink mails a single-use sign-in link. Unknown addresses
// succeed silently so the form does not reveal which e-mails have accounts.
func (l *Local) SignInWithOneTimeLink(ctx context.Context, email, redirectURL string) error {
	acc, err := l.accounts.GetAccountByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		l.logger.Debug("sign-in link requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: loading account: %w", err)
	}

	token, _, err := l.tokens.Issue(acc.ID, acc.Email, KindLink, l.cfg.LinkTTL)
	if err != nil {
		return err
	}

	link := l.linkURL(token, redirectURL)

	msg := mail.Message{
		To:      acc.Email,
		Subject: "Your sign-in link",
		Text: fmt.Sprintf("Use this link to sign in. It expires in %s and works once.\n\n%s\n",
			l.cfg.LinkTTL, link),
	}
	if err := l.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("auth: sending sign-in link: %w", err)
	}
	return nil
}

// linkURL builds the mailed link. An absolute redirectURL is the landing
// page itself; anything else is the local path to return to afterwards.
func (l *Local) linkURL(token, redirectURL string) string {
	if u, err := url.Parse(redirectURL); err == nil && u.IsAbs() {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		return u.String()
	}

	q := url.Values{"token": {token}}
	if redirectURL != "" {
		q.Set("next", redirectURL)
	}
	return strings.TrimRight(l.cfg.BaseURL, "/") + "/auth/link?" + q.Encode()
}

// VerifyOneTimeLink exchanges a link token for a session. Each link works
// once.
//
// SINGLE-USE LINKS:
// A link token is a signed JWT, so its signature and expiry alone would let
// it be replayed until it expires (from browser history, a forwarded mail,
// a proxy log). Redeeming it therefore goes through the revocation list:
//  1. Parse checks the signature, the expiry and that it is a link token
//  2. Consume records the token id and reports whether this was the first
//     use; the record lives only as long as the token would
//  3. A second redemption finds the id already recorded and is refused
//
// Consume is atomic in every RevocationList, so two tabs racing on the same
// link cannot both get a session.
func (l *Local) VerifyOneTimeLink(ctx context.Context, token string) (*model.Session, error) {
	c, err := l.tokens.Parse(token, KindLink)
	if err != nil {
		return nil, ErrInvalidLink
	}

	first, err := l.revocations.Consume(ctx, c.ID, c.ExpiresAt.Sub(l.now()))
	if err != nil {
		return nil, fmt.Errorf("auth: consuming sign-in link: %w", err)
	}
	if !first {
		return nil, ErrInvalidLink
	}

	acc, err := l.accounts.GetAccountByID(ctx, c.Subject)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, ErrInvalidLink
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading account: %w", err)
	}

	return l.startSession(acc)
}

// RefreshSession replaces a live session's token with a fresh one and
// revokes the old token. It returns (nil, nil) if there is no live session.
func (l *Local) RefreshSession(ctx context.Context, accessToken string) (*model.Session, error) {
	sess, err := l.GetSession(ctx, accessToken)
	if err != nil || sess == nil {
		return nil, err
	}

	next, err := l.issue(sess.AccountID, sess.Email)
	if err != nil {
		return nil, err
	}
	if err := l.revokeToken(ctx, accessToken); err != nil {
		return nil, err
	}

	l.events.Publish(EventTokenRefreshed, sess.AccountID)
	return next, nil
}

// SignOut revokes the session's token. Signing out an invalid or expired
// token is a no-op.
func (l *Local) SignOut(ctx context.Context, accessToken string) error {
	c, err := l.tokens.Parse(accessToken, KindAccess)
	if err != nil {
		return nil
	}
	if err := l.revokeToken(ctx, accessToken); err != nil {
		return err
	}

	l.events.Publish(EventSignedOut, c.Subject)
	l.logger.Info("signed out", zap.String("account_id", c.Subject))
	return nil
}

func (l *Local) Subscribe(ctx context.Context) <-chan SessionEvent {
	return l.events.Subscribe(ctx)
}

// SignInWithGitHub signs in the account linked to the GitHub user, linking
// an existing account with the same e-mail or creating one if needed.
func (l *Local) SignInWithGitHub(ctx context.Context, gh *GitHubUser) (*model.Session, error) {
	if gh == nil || gh.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub user must not be empty")
	}

	acc, err := l.accounts.GetAccountByGitHubID(ctx, gh.ID)
	switch {
	case err == nil:
		return l.startSession(acc)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("auth: loading account: %w", err)
	}

	email := normalizeEmail(gh.Email)
	if email == "" {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", gh.ID, strings.ToLower(gh.Login))
	}

	acc, err = l.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if err := l.accounts.LinkGitHub(ctx, acc.ID, gh.ID); err != nil {
			return nil, fmt.Errorf("auth: linking GitHub identity: %w", err)
		}
		acc.GitHubID = gh.ID
	case errors.Is(err, apperror.ErrNotFound):
		acc = &model.Account{
			ID:        uuid.NewString(),
			Email:     email,
			Name:      gh.Login,
			GitHubID:  gh.ID,
			CreatedAt: l.now().UTC(),
		}
		if err := l.accounts.CreateAccount(ctx, acc); err != nil {
			return nil, fmt.Errorf("auth: creating account: %w", err)
		}
		l.logger.Info("account created via GitHub", zap.String("account_id", acc.ID), zap.String("login", gh.Login))
	default:
		return nil, fmt.Errorf("auth: loading account: %w", err)
	}

	return l.startSession(acc)
}

func (l *Local) startSession(acc *model.Account) (*model.Session, error) {
	sess, err := l.issue(acc.ID, acc.Email)
	if err != nil {
		return nil, err
	}
	l.events.Publish(EventSignedIn, acc.ID)
	return sess, nil
}

func (l *Local) issue(accountID, email string) (*model.Session, error) {
	token, c, err := l.tokens.Issue(accountID, email, KindAccess, l.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	return &model.Session{
		AccessToken: token,
		AccountID:   accountID,
		Email:       email,
		IssuedAt:    c.IssuedAt.Time,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

func (l *Local) revokeToken(ctx context.Context, accessToken string) error {
	c, err := l.tokens.Parse(accessToken, KindAccess)
	if err != nil {
		return nil
	}
	if err := l.revocations.Revoke(ctx, c.ID, c.ExpiresAt.Sub(l.now())); err != nil {
		return fmt.Errorf("auth: revoking session: %w", err)
	}
	return nil
}
