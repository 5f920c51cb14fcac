package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/gate"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/service"
)

const (
	stateCookie  = "oauth_state"
	formMaxBytes = 1 << 20
)

// AuthHandler serves sign-up, the sign-in flows and logout.
//
//   - HandleSignup / HandleLogin        → password accounts
//   - HandleRequestLink / HandleVerifyLink → one-time sign-in links
//   - HandleGitHubLogin / HandleGitHubCallback → GitHub OAuth, when configured
//   - HandleLogout                      → end the session and clear the cookie
type AuthHandler struct {
	svc     *service.AuthService
	github  *auth.GitHubProvider
	cookies auth.Cookies
	render  *Renderer
	baseURL string
}

// AuthDeps groups AuthHandler's collaborators. GitHub is nil when GitHub
// sign-in is not configured.
type AuthDeps struct {
	Service *service.AuthService
	GitHub  *auth.GitHubProvider
	Cookies auth.Cookies
	Render  *Renderer
	BaseURL string
}

func NewAuthHandler(deps AuthDeps) *AuthHandler {
	return &AuthHandler{
		svc:     deps.Service,
		github:  deps.GitHub,
		cookies: deps.Cookies,
		render:  deps.Render,
		baseURL: strings.TrimRight(deps.BaseURL, "/"),
	}
}

type loginPage struct {
	Next   string
	GitHub bool
}

func (h *AuthHandler) loginData(next string) PageData {
	return PageData{
		Title: "Log in",
		Data:  loginPage{Next: next, GitHub: h.githubEnabled()},
	}
}

func (h *AuthHandler) githubEnabled() bool {
	return h.github != nil && h.svc.GitHubEnabled()
}

// signedIn sends callers that already have a session on to next.
func signedIn(w http.ResponseWriter, r *http.Request, next string) bool {
	if _, ok := auth.SessionFromContext(r.Context()); !ok {
		return false
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
	return true
}

// HandleSignupPage renders the sign-up form.
//
// HTTP: GET /signup
func (h *AuthHandler) HandleSignupPage(w http.ResponseWriter, r *http.Request) {
	if signedIn(w, r, "/profile") {
		return
	}
	h.render.Render(w, r, http.StatusOK, pageSignup, PageData{Title: "Sign up"})
}

// HandleSignup creates a student account, signs it in and continues to the
// profile page.
//
// HTTP: POST /signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	data := PageData{Title: "Sign up"}
	if err := parseForm(w, r, formMaxBytes); err != nil {
		h.render.FormError(w, r, pageSignup, data, err)
		return
	}
	data.Form = formValues(r, "name", "email")

	sess, err := h.svc.SignUp(r.Context(), service.SignUpInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		h.render.FormError(w, r, pageSignup, data, err)
		return
	}

	h.cookies.Set(w, sess)
	redirectWithFlash(w, r, "/profile", "success", "Welcome! Your account was created.")
}

// HandleLoginPage renders the sign-in options.
//
// HTTP: GET /login?next=/path
func (h *AuthHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := gate.SafeNext(r.URL.Query().Get("next"), "")
	if signedIn(w, r, gate.SafeNext(next, "/profile")) {
		return
	}
	h.render.Render(w, r, http.StatusOK, pageLogin, h.loginData(next))
}

// HandleLogin signs in with e-mail and password.
//
// HTTP: POST /login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, formMaxBytes); err != nil {
		h.render.FormError(w, r, pageLogin, h.loginData(""), err)
		return
	}
	next := gate.SafeNext(r.PostFormValue("next"), "")
	data := h.loginData(next)
	data.Form = formValues(r, "email")

	sess, err := h.svc.Login(r.Context(), service.LoginInput{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		h.render.FormError(w, r, pageLogin, data, err)
		return
	}

	h.cookies.Set(w, sess)
	http.Redirect(w, r, gate.SafeNext(next, "/profile"), http.StatusSeeOther)
}

// HandleRequestLink mails a one-time sign-in link. The answer does not
// reveal whether the address has an account.
//
// HTTP: POST /login/link
func (h *AuthHandler) HandleRequestLink(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, formMaxBytes); err != nil {
		h.render.FormError(w, r, pageLogin, h.loginData(""), err)
		return
	}
	next := gate.SafeNext(r.PostFormValue("next"), "/profile")

	landing := h.baseURL + "/auth/link?" + url.Values{"next": {next}}.Encode()
	err := h.svc.RequestLink(r.Context(), r.PostFormValue("email"), landing)

	var appErr *apperror.AppError
	if errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr) {
		data := h.loginData(next)
		data.Errors = map[string]string{"link_email": appErr.Message}
		h.render.Render(w, r, http.StatusBadRequest, pageLogin, data)
		return
	}
	if err != nil {
		h.render.FormError(w, r, pageLogin, h.loginData(next), err)
		return
	}

	redirectWithFlash(w, r, "/login", "info", "If an account exists for that address, a sign-in link is on its way.")
}

// HandleVerifyLink signs in with a mailed link.
//
// HTTP: GET /auth/link?token=xxx&next=/path
func (h *AuthHandler) HandleVerifyLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		token = q.Get("token_hash")
	}

	sess, err := h.svc.VerifyLink(r.Context(), token)
	if errors.Is(err, apperror.ErrValidation) {
		redirectWithFlash(w, r, "/login", "error", apperror.UserMessage(err))
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	h.cookies.Set(w, sess)
	http.Redirect(w, r, gate.SafeNext(q.Get("next"), "/profile"), http.StatusSeeOther)
}

// HandleGitHubLogin sends the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// The random state goes into a short-lived HttpOnly cookie and must come
// back unchanged on the callback.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if !h.githubEnabled() {
		h.render.NotFound(w, r, "GitHub sign-in is not available.")
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// Step order matters here:
//  1. The state must match the cookie before anything else is looked at
//  2. The state cookie is deleted whatever happens next, so it works once
//  3. An ?error= answer means the user declined on GitHub
//  4. Only then is the code exchanged and the account linked
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if !h.githubEnabled() {
		h.render.NotFound(w, r, "GitHub sign-in is not available.")
		return
	}
	log := logger.FromContext(r.Context())
	q := r.URL.Query()

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || q.Get("state") != c.Value {
		log.Warn("auth callback: state mismatch")
		redirectWithFlash(w, r, "/login", "error", "GitHub sign-in could not be verified. Please try again.")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	if errParam := q.Get("error"); errParam != "" {
		log.Info("auth callback: user denied authorization", zap.String("error", errParam))
		redirectWithFlash(w, r, "/login", "info", "GitHub sign-in was cancelled.")
		return
	}

	code := q.Get("code")
	if code == "" {
		redirectWithFlash(w, r, "/login", "error", "GitHub sign-in could not be verified. Please try again.")
		return
	}

	gh, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		log.Error("auth callback: GitHub exchange failed", zap.Error(err))
		redirectWithFlash(w, r, "/login", "error", "GitHub sign-in failed. Please try again.")
		return
	}

	sess, err := h.svc.SignInWithGitHub(r.Context(), gh)
	if err != nil {
		redirectWithFlash(w, r, "/login", "error", "GitHub sign-in failed. Please try again.")
		return
	}

	log.Info("user authenticated with GitHub", zap.String("user_id", sess.AccountID), zap.String("login", gh.Login))
	h.cookies.Set(w, sess)
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

// HandleLogout ends the session and clears the cookie. The cookie goes even
// when the backend could not be told.
//
// HTTP: POST /logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Logout(r.Context(), h.cookies.Token(r))
	h.cookies.Clear(w)
	if err != nil {
		redirectWithFlash(w, r, "/login", "error", "You were signed out here, but the server could not end your session everywhere.")
		return
	}
	redirectWithFlash(w, r, "/login", "info", "You have been signed out.")
}
