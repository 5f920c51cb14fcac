package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/config"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App: config.AppConfig{Name: "course-portal", Env: "test", Port: "0", BaseURL: "http://portal.test"},
		HTTP: config.HTTPConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: time.Second,
			MaxUploadBytes:  2 << 20,
		},
		Session: config.SessionConfig{
			Secret:        "test-secret-that-is-long-enough",
			TTL:           time.Hour,
			RefreshWindow: 10 * time.Minute,
			LinkTTL:       15 * time.Minute,
			CookieName:    "session",
		},
		Backend:  config.BackendConfig{Mode: config.BackendEmbedded},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "db", "portal.db")},
		Storage: config.StorageConfig{
			Driver:        config.StorageLocal,
			LocalDir:      filepath.Join(dir, "uploads"),
			PublicBaseURL: "/uploads",
		},
		Mail: config.MailConfig{Driver: config.MailConsole},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

// browser is a client with its own cookie jar that does not follow
// redirects, so tests can assert on them.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newBrowser(t *testing.T, ts *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: ts.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postMultipart(path string, fields map[string]string, fileField, filename string, data []byte) (*http.Response, string) {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(b.t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(b.t, err)
		_, err = fw.Write(data)
		require.NoError(b.t, err)
	}
	require.NoError(b.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, b.base+path, &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func (b *browser) signUp(name, email string) {
	b.t.Helper()
	resp, _ := b.post("/signup", url.Values{"name": {name}, "email": {email}, "password": {"secret123"}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(b.t, "/profile", resp.Header.Get("Location"))
}

func (b *browser) sessionToken() string {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "session" {
			return c.Value
		}
	}
	return ""
}

func TestServer_Health(t *testing.T) {
	b := newBrowser(t, newTestServer(t))

	resp, body := b.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestServer_PublicPages(t *testing.T) {
	b := newBrowser(t, newTestServer(t))

	resp, body := b.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/login"`)
	assert.Contains(t, body, `href="/signup"`)
	assert.NotContains(t, body, "data-session-events")

	resp, body = b.get("/courses")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "No courses yet.")

	resp, body = b.get("/courses/does-not-exist")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Course not found.")

	resp, _ = b.get("/no/such/page")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = b.get("/static/style.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body)
}

func TestServer_GatedPagesRedirectToLogin(t *testing.T) {
	b := newBrowser(t, newTestServer(t))

	for _, path := range []string{"/profile", "/dashboard", "/enrolled", "/courses/new"} {
		t.Run(path, func(t *testing.T) {
			resp, _ := b.get(path)
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
			assert.Equal(t, "/login?next="+url.QueryEscape(path), resp.Header.Get("Location"))
		})
	}

	resp, body := b.get("/api/me")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "unauthorized")
}

func TestServer_SignUpAndLogin(t *testing.T) {
	ts := newTestServer(t)
	b := newBrowser(t, ts)

	resp, body := b.post("/signup", url.Values{"name": {"Ada"}, "email": {"ada@example.com"}, "password": {"123"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Password must be at least 6 characters in length")
	assert.Contains(t, body, `value="ada@example.com"`)

	b.signUp("Ada", "ada@example.com")

	resp, body = b.get("/profile")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome! Your account was created.")
	assert.Contains(t, body, "Ada")
	assert.Contains(t, body, `href="/enrolled"`)
	assert.Contains(t, body, "data-session-events")

	resp, body = b.get("/api/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Profile struct {
			Role string `json:"role"`
		} `json:"profile"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &me))
	assert.Equal(t, "student", me.Profile.Role)

	resp, _ = b.get("/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "signed-in visitors skip the login page")

	// A fresh browser signs in with the same account and lands on next.
	other := newBrowser(t, ts)
	resp, body = other.post("/login", url.Values{"email": {"ada@example.com"}, "password": {"wrong-one"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Invalid email or password.")

	resp, _ = other.post("/login", url.Values{"email": {"ada@example.com"}, "password": {"secret123"}, "next": {"/enrolled"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/enrolled", resp.Header.Get("Location"))

	resp, _ = other.post("/login", url.Values{"email": {"ada@example.com"}, "password": {"secret123"}, "next": {"https://evil.example"}})
	assert.Equal(t, "/profile", resp.Header.Get("Location"), "absolute next targets are ignored")
}

func TestServer_LogoutRevokesToken(t *testing.T) {
	b := newBrowser(t, newTestServer(t))
	b.signUp("Ada", "ada@example.com")
	token := b.sessionToken()
	require.NotEmpty(t, token)

	resp, _ := b.post("/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Empty(t, b.sessionToken())

	resp, _ = b.get("/profile")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, b.base+"/api/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = b.do(req)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a signed-out token stays dead")
}

var courseLocation = regexp.MustCompile(`^/courses/([^/]+)$`)

func TestServer_CourseLifecycle(t *testing.T) {
	ts := newTestServer(t)

	instructor := newBrowser(t, ts)
	instructor.signUp("Grace", "grace@example.com")

	// Students may not create courses.
	resp, _ := instructor.get("/courses/new")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = instructor.post("/profile", url.Values{"name": {"Grace Hopper"}, "role": {"instructor"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body := instructor.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Grace Hopper")

	resp, body = instructor.postMultipart("/courses", map[string]string{"title": ""}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Title is required")

	resp, _ = instructor.postMultipart("/courses",
		map[string]string{"title": "Go Basics", "description": "Types, slices and maps."},
		"image", "cover.png", pngHeader)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	m := courseLocation.FindStringSubmatch(resp.Header.Get("Location"))
	require.Len(t, m, 2)
	courseID := m[1]

	resp, body = instructor.get("/courses/" + courseID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Course created.")
	assert.Contains(t, body, "Go Basics")
	assert.Contains(t, body, "/courses/"+courseID+"/edit")

	imageURL := regexp.MustCompile(`src="(/uploads/course-thumbnails/[^"]+)"`).FindStringSubmatch(body)
	require.Len(t, imageURL, 2)
	resp, img := instructor.get(imageURL[1])
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(pngHeader), img)

	resp, _ = instructor.postMultipart("/courses/"+courseID+"/lessons",
		map[string]string{"title": "Slices", "content": "A slice is a view into an array."}, "", "", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	lessonPath := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(lessonPath, "/lessons/"))

	resp, body = instructor.get(lessonPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "A slice is a view into an array.")

	resp, body = instructor.get("/api/courses?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Go Basics")

	resp, _ = instructor.get("/api/courses?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A student enrolls, sees the course and leaves it.
	student := newBrowser(t, ts)
	student.signUp("Linus", "linus@example.com")

	resp, _ = student.get("/courses/" + courseID + "/edit")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "only the owner manages a course")

	resp, body = student.get("/courses/" + courseID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "/courses/"+courseID+"/edit")
	assert.Contains(t, body, "/courses/"+courseID+"/enroll")

	resp, _ = student.post("/courses/"+courseID+"/enroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = student.get("/courses/" + courseID)
	assert.Contains(t, body, "You are now enrolled.")

	resp, _ = student.post("/courses/"+courseID+"/enroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = student.get("/courses/" + courseID)
	assert.Contains(t, body, "You are already enrolled in this course.")

	_, body = student.get("/enrolled")
	assert.Contains(t, body, "Go Basics")

	resp, _ = student.post("/courses/"+courseID+"/unenroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = student.get("/courses/" + courseID)
	assert.Contains(t, body, "You have been unenrolled.")

	resp, _ = student.post("/courses/"+courseID+"/unenroll", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	_, body = student.get("/courses/" + courseID)
	assert.Contains(t, body, "You were not enrolled in this course.")

	_, body = student.get("/enrolled")
	assert.NotContains(t, body, "Go Basics")

	// The owner deletes the course.
	resp, _ = student.post("/courses/"+courseID+"/delete", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = instructor.post("/courses/"+courseID+"/delete", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard", resp.Header.Get("Location"))

	resp, _ = instructor.get("/courses/" + courseID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
