package hosted

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/model"
)

// fallbackTTL is assumed for access tokens whose expiry cannot be read.
const fallbackTTL = time.Hour

// authErrorPattern matches gotrue-go's "response status code N: body"
// errors.
var authErrorPattern = regexp.MustCompile(`(?s)^response status code (\d+)(?:: (.*))?$`)

// Auth implements auth.Provider on the hosted auth API.
//
// The session cookie only carries the access token, so the refresh token
// handed out at sign-in is kept in memory, keyed by access token. A session
// whose refresh token was lost (e.g. after a restart) simply runs until it
// expires.
type Auth struct {
	c      *Client
	events *auth.Broker
	now    func() time.Time

	mu      sync.Mutex
	refresh map[string]refreshEntry
}

type refreshEntry struct {
	token     string
	expiresAt time.Time
}

var _ auth.Provider = (*Auth)(nil)

func NewAuth(c *Client, events *auth.Broker) *Auth {
	return &Auth{
		c:       c,
		events:  events,
		now:     time.Now,
		refresh: make(map[string]refreshEntry),
	}
}

// authCall is a gotrue-go client bound to one request context.
type authCall struct {
	gotrue.Client
	t *callTransport
}

// call builds the client for one auth request. Without a token the
// request carries only the API key.
func (a *Auth) call(ctx context.Context, token string) authCall {
	t := a.c.newTransport(ctx)
	cl := gotrue.New("", a.c.apiKey).
		WithCustomGoTrueURL(a.c.baseURL + "/auth/v1").
		WithClient(http.Client{Transport: t})
	if token != "" {
		cl = cl.WithToken(token)
	}
	return authCall{Client: cl, t: t}
}

// err turns a gotrue-go error into an *APIError when the API answered.
// Request validation and transport failures pass through unchanged.
func (c authCall) err(err error) error {
	if err == nil {
		return nil
	}
	m := authErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	status, _ := strconv.Atoi(m[1])
	return parseError(status, m[2])
}

func account(u types.User) *model.Account {
	name, _ := u.UserMetadata["name"].(string)
	return &model.Account{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      name,
		CreatedAt: u.CreatedAt.UTC(),
	}
}

// GetSession asks the auth API who owns accessToken. A rejected token is
// "no session"; anything else that fails is an error.
func (a *Auth) GetSession(ctx context.Context, accessToken string) (*model.Session, error) {
	u, err := a.user(ctx, accessToken)
	if err != nil || u == nil {
		return nil, err
	}
	return a.sessionFor(accessToken, u.ID.String(), u.Email), nil
}

func (a *Auth) GetAccount(ctx context.Context, accessToken string) (*model.Account, error) {
	u, err := a.user(ctx, accessToken)
	if err != nil || u == nil {
		return nil, err
	}
	return account(*u), nil
}

func (a *Auth) user(ctx context.Context, accessToken string) (*types.User, error) {
	if accessToken == "" {
		return nil, nil
	}

	call := a.call(ctx, accessToken)
	resp, err := call.GetUser()
	err = call.err(err)
	switch StatusOf(err) {
	case 0:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hosted: resolving session: %w", err)
	}
	if resp.ID == uuid.Nil {
		return nil, nil
	}
	return &resp.User, nil
}

// SignUp registers an account. The backend's own trigger creates the
// student profile.
func (a *Auth) SignUp(ctx context.Context, email, password string, meta auth.SignUpMetadata) (*model.Account, error) {
	call := a.call(ctx, "")
	resp, err := call.Signup(types.SignupRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Data:     map[string]interface{}{"name": strings.TrimSpace(meta.Name)},
	})
	if err = call.err(err); err != nil {
		if isEmailTaken(err) {
			return nil, auth.ErrEmailTaken
		}
		return nil, fmt.Errorf("hosted: signing up: %w", err)
	}

	if resp.User.ID == uuid.Nil {
		return nil, errors.New("hosted: sign-up returned no user")
	}
	return account(resp.User), nil
}

func isEmailTaken(err error) bool {
	if CodeOf(err) == "user_already_exists" || CodeOf(err) == "email_exists" {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already registered")
}

func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	call := a.call(ctx, "")
	resp, err := call.SignInWithEmailPassword(strings.TrimSpace(email), password)
	if err = call.err(err); err != nil {
		if errors.Is(err, types.ErrInvalidTokenRequest) {
			return nil, auth.ErrInvalidCredentials
		}
		if status := StatusOf(err); status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("hosted: signing in: %w", err)
	}

	sess, err := a.remember(resp.Session)
	if err != nil {
		return nil, err
	}
	a.events.Publish(auth.EventSignedIn, sess.AccountID)
	return sess, nil
}

// SignInWithOneTimeLink asks the auth API to mail a sign-in link. Addresses
// without an account succeed silently, as with the embedded backend.
//
// gotrue-go's OTP request has no redirect field, so redirect_to rides on
// the call's transport as a query parameter, where the auth API reads it.
func (a *Auth) SignInWithOneTimeLink(ctx context.Context, email, redirectURL string) error {
	call := a.call(ctx, "")
	if redirectURL != "" {
		call.t.query = url.Values{"redirect_to": {redirectURL}}
	}

	err := call.err(call.OTP(types.OTPRequest{
		Email:      strings.TrimSpace(email),
		CreateUser: false,
	}))
	if err != nil {
		status := StatusOf(err)
		if (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) &&
			strings.Contains(strings.ToLower(err.Error()), "signup") {
			return nil
		}
		return fmt.Errorf("hosted: requesting sign-in link: %w", err)
	}
	return nil
}

// VerifyOneTimeLink redeems the token from a mailed link.
//
// The auth API answers a verification with a redirect whose fragment holds
// the new tokens, or an error. gotrue-go stops at that redirect and parses
// the fragment, so the account comes from a follow-up user lookup with the
// fresh access token.
func (a *Auth) VerifyOneTimeLink(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, auth.ErrInvalidLink
	}

	call := a.call(ctx, "")
	resp, err := call.Verify(types.VerifyRequest{
		Type:       types.VerificationTypeMagiclink,
		Token:      token,
		RedirectTo: a.c.baseURL,
	})
	if err = call.err(err); err != nil {
		if status := StatusOf(err); status >= 400 && status < 500 {
			return nil, auth.ErrInvalidLink
		}
		return nil, fmt.Errorf("hosted: verifying sign-in link: %w", err)
	}
	if resp.Error != "" || resp.AccessToken == "" {
		return nil, auth.ErrInvalidLink
	}

	u, err := a.user(ctx, resp.AccessToken)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, auth.ErrInvalidLink
	}

	sess, err := a.remember(types.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		User:         *u,
	})
	if err != nil {
		return nil, err
	}
	a.events.Publish(auth.EventSignedIn, sess.AccountID)
	return sess, nil
}

// RefreshSession trades the refresh token remembered for accessToken for a
// new session. Without one it returns (nil, nil).
func (a *Auth) RefreshSession(ctx context.Context, accessToken string) (*model.Session, error) {
	a.mu.Lock()
	entry, ok := a.refresh[accessToken]
	a.mu.Unlock()
	if !ok {
		return nil, nil
	}

	call := a.call(ctx, "")
	resp, err := call.RefreshToken(entry.token)
	if err = call.err(err); err != nil {
		if status := StatusOf(err); status >= 400 && status < 500 {
			a.forget(accessToken)
			return nil, nil
		}
		return nil, fmt.Errorf("hosted: refreshing session: %w", err)
	}

	sess, err := a.remember(resp.Session)
	if err != nil {
		return nil, err
	}
	a.forget(accessToken)
	a.events.Publish(auth.EventTokenRefreshed, sess.AccountID)
	return sess, nil
}

// SignOut ends the session on the backend. Tokens the backend no longer
// accepts count as signed out.
func (a *Auth) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}

	call := a.call(ctx, accessToken)
	err := call.err(call.Logout())
	switch StatusOf(err) {
	case 0:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		err = nil
	}
	if err != nil {
		return fmt.Errorf("hosted: signing out: %w", err)
	}

	a.forget(accessToken)
	if c := unverifiedClaims(accessToken); c != nil && c.Subject != "" {
		a.events.Publish(auth.EventSignedOut, c.Subject)
	}
	return nil
}

func (a *Auth) Subscribe(ctx context.Context) <-chan auth.SessionEvent {
	return a.events.Subscribe(ctx)
}

// remember turns a granted session into ours and keeps its refresh token.
func (a *Auth) remember(s types.Session) (*model.Session, error) {
	if s.AccessToken == "" || s.User.ID == uuid.Nil {
		return nil, errors.New("hosted: token response without a session")
	}

	now := a.now()
	sess := a.sessionFor(s.AccessToken, s.User.ID.String(), s.User.Email)
	switch {
	case s.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}

	if s.RefreshToken != "" {
		a.mu.Lock()
		for k, e := range a.refresh {
			if !now.Before(e.expiresAt) {
				delete(a.refresh, k)
			}
		}
		a.refresh[s.AccessToken] = refreshEntry{
			token:     s.RefreshToken,
			expiresAt: sess.ExpiresAt,
		}
		a.mu.Unlock()
	}
	return sess, nil
}

func (a *Auth) forget(accessToken string) {
	a.mu.Lock()
	delete(a.refresh, accessToken)
	a.mu.Unlock()
}

// sessionFor builds a session, reading the token's own issue and expiry
// times. The signature was already checked by the auth API.
func (a *Auth) sessionFor(accessToken, accountID, email string) *model.Session {
	now := a.now().UTC()
	sess := &model.Session{
		AccessToken: accessToken,
		AccountID:   accountID,
		Email:       email,
		IssuedAt:    now,
		ExpiresAt:   now.Add(fallbackTTL),
	}
	if c := unverifiedClaims(accessToken); c != nil {
		if c.IssuedAt != nil {
			sess.IssuedAt = c.IssuedAt.UTC()
		}
		if c.ExpiresAt != nil {
			sess.ExpiresAt = c.ExpiresAt.UTC()
		}
	}
	return sess
}

func unverifiedClaims(token string) *jwt.RegisteredClaims {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}
	return &claims
}
