package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

// WithSession stores a resolved session in ctx.
func WithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the session resolved for this request, if any.
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*model.Session)
	return sess, ok && sess != nil
}

// Cookies writes and reads the session cookie.
type Cookies struct {
	Name   string
	Secure bool
}

// Set stores the session's access token in an HttpOnly cookie that
// expires with the session.
func (c Cookies) Set(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    sess.AccessToken,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear deletes the session cookie.
func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the access token from the session cookie or, for API
// clients, from an "Authorization: Bearer" header.
func (c Cookies) Token(r *http.Request) string {
	if cookie, err := r.Cookie(c.Name); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// OptionalSession resolves the caller's session, when there is one, for
// pages that render for everyone but show more to signed-in users. A
// failing lookup leaves the request anonymous. Sessions close to expiry
// are refreshed and the cookie rewritten.
func OptionalSession(provider Provider, cookies Cookies, refreshWindow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cookies.Token(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logger.FromContext(ctx)

			sess, err := provider.GetSession(ctx, token)
			if err != nil {
				log.Warn("session lookup failed, continuing anonymously", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if sess == nil {
				cookies.Clear(w)
				next.ServeHTTP(w, r)
				return
			}

			sess = MaybeRefresh(ctx, provider, cookies, w, sess, refreshWindow)
			ctx = logger.With(WithSession(ctx, sess), zap.String("user_id", sess.AccountID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MaybeRefresh refreshes sess when it expires within window, rewriting the
// cookie. On any failure the original session is kept.
//
// COOKIE REFRESH FLOW:
//  1. The cookie holds only the access token and expires with it
//  2. A request arriving inside the refresh window asks the provider for a
//     new session (the embedded backend revokes the old token, the hosted
//     one trades its remembered refresh token)
//  3. The new token is written back with Set-Cookie on this same response,
//     and the request continues as the new session
//
// An active user therefore never hits expiry, while an idle browser's cookie
// simply lapses. A failed refresh is not fatal: the old token is still valid
// until it expires.
func MaybeRefresh(ctx context.Context, provider Provider, cookies Cookies, w http.ResponseWriter, sess *model.Session, window time.Duration) *model.Session {
	if window <= 0 || !sess.ExpiresWithin(window, time.Now()) {
		return sess
	}

	next, err := provider.RefreshSession(ctx, sess.AccessToken)
	if err != nil || next == nil {
		if err != nil {
			logger.FromContext(ctx).Warn("session refresh failed", zap.Error(err))
		}
		return sess
	}
	cookies.Set(w, next)
	return next
}
