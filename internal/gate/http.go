package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
)

// Gate guards HTTP handlers with a fresh session lookup per request.
type Gate struct {
	provider      auth.Provider
	cookies       auth.Cookies
	refreshWindow time.Duration
	observer      func(*http.Request) Observer
}

// Option configures a Gate.
type Option func(*Gate)

// WithRefreshWindow refreshes sessions that expire within d.
func WithRefreshWindow(d time.Duration) Option {
	return func(g *Gate) { g.refreshWindow = d }
}

// WithObserver attaches an observer to every activation.
func WithObserver(f func(*http.Request) Observer) Option {
	return func(g *Gate) { g.observer = f }
}

func New(provider auth.Provider, cookies auth.Cookies, opts ...Option) *Gate {
	g := &Gate{provider: provider, cookies: cookies}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Protect returns middleware that renders next only for callers with a live
// session and hands everyone else to fallback.
//
// Nothing is written while the lookup is outstanding, which is the HTTP
// form of the neutral placeholder. If the client goes away during the
// lookup the result is dropped and nothing is written at all.
func (g *Gate) Protect(fallback http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := g.cookies.Token(r)

			var observer Observer
			if g.observer != nil {
				observer = g.observer(r)
			}

			act := Resolve(r.Context(), g.lookup(token), observer)
			if err := act.Err(); err != nil {
				logger.FromContext(r.Context()).Warn("session lookup failed, treating caller as signed out", zap.Error(err))
			}
			if act.State() == Unknown {
				logger.FromContext(r.Context()).Debug("request ended during session lookup")
				return
			}

			act.Render(&httpView{gate: g, w: w, r: r, token: token, next: next, fallback: fallback})
		})
	}
}

func (g *Gate) lookup(token string) Lookup {
	return func(ctx context.Context) (*model.Session, error) {
		if token == "" {
			return nil, nil
		}
		return g.provider.GetSession(ctx, token)
	}
}

type httpView struct {
	gate     *Gate
	w        http.ResponseWriter
	r        *http.Request
	token    string
	next     http.Handler
	fallback http.Handler
}

func (v *httpView) Placeholder() {}

func (v *httpView) Protected(sess *model.Session) {
	ctx := v.r.Context()
	sess = auth.MaybeRefresh(ctx, v.gate.provider, v.gate.cookies, v.w, sess, v.gate.refreshWindow)
	ctx = logger.With(auth.WithSession(ctx, sess), zap.String("user_id", sess.AccountID))
	v.next.ServeHTTP(v.w, v.r.WithContext(ctx))
}

func (v *httpView) Redirect() {
	if v.token != "" {
		v.gate.cookies.Clear(v.w)
	}
	v.fallback.ServeHTTP(v.w, v.r)
}

// RedirectToLogin sends the caller to loginPath with a 303. GET requests
// carry their own path as "next" so sign-in can return there.
func RedirectToLogin(loginPath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := loginPath
		if r.Method == http.MethodGet {
			target += "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

// Unauthorized answers API callers with a 401 JSON body.
func Unauthorized() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "unauthorized",
			"message": "valid authentication required",
		})
	})
}

// SafeNext returns next if it is a local path, otherwise def. It keeps the
// "next" parameter from redirecting off-site.
func SafeNext(next, def string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return def
	}
	return next
}
