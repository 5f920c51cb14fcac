// Package handler contains the portal's HTTP handlers: server-rendered pages
// for browsers and a small JSON API for the navigation script.
//
// Handlers parse the request, call one service method at a time and render.
// They never talk to the store or the auth backend directly.
package handler

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
)

// Page names, one per file under templates/pages.
const (
	pageHome       = "home"
	pageCourses    = "courses"
	pageCourse     = "course"
	pageCourseForm = "course_form"
	pageLesson     = "lesson"
	pageLessonForm = "lesson_form"
	pageEnrolled   = "enrolled"
	pageDashboard  = "dashboard"
	pageProfile    = "profile"
	pageSignup     = "signup"
	pageLogin      = "login"
	pageError      = "error"
)

var pages = []string{
	pageHome, pageCourses, pageCourse, pageCourseForm, pageLesson, pageLessonForm,
	pageEnrolled, pageDashboard, pageProfile, pageSignup, pageLogin, pageError,
}

// ProfileSource returns the signed-in viewer's profile for the navigation
// bar.
type ProfileSource interface {
	Ensure(ctx context.Context, sess *model.Session) (*model.Profile, error)
}

// Nav is what the navigation bar needs to know about the viewer.
type Nav struct {
	SignedIn     bool
	Name         string
	AvatarURL    string
	IsInstructor bool
}

// PageData is handed to every page template. Data holds the page's own
// values; Form and Errors echo a submitted form back with field messages.
type PageData struct {
	Title  string
	Nav    Nav
	Flash  *Flash
	Error  string
	Form   map[string]string
	Errors map[string]string
	Data   any
}

// Renderer executes page templates inside the shared layout.
type Renderer struct {
	pages    map[string]*template.Template
	profiles ProfileSource
}

// NewRenderer parses base.html together with each page from fsys.
func NewRenderer(fsys fs.FS, profiles ProfileSource) (*Renderer, error) {
	rd := &Renderer{pages: make(map[string]*template.Template, len(pages)), profiles: profiles}
	for _, name := range pages {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(fsys, "base.html", "pages/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		rd.pages[name] = tmpl
	}
	return rd, nil
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("Jan 2, 2006")
	},
	"initial": func(s string) string {
		r, _ := utf8.DecodeRuneInString(strings.TrimSpace(s))
		if r == utf8.RuneError {
			return "?"
		}
		return string(unicode.ToUpper(r))
	},
	"title": func(s string) string {
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 {
			return s
		}
		return string(unicode.ToUpper(r)) + s[size:]
	},
}

// Render writes page with status. The page is executed into a buffer first
// so a template error still yields a clean 500, and nothing at all is
// written when the request was cancelled in the meantime.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page string, data PageData) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	tmpl, ok := rd.pages[page]
	if !ok {
		log.Error("unknown page template", zap.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if !data.Nav.SignedIn {
		data.Nav = rd.nav(ctx)
	}
	if data.Flash == nil {
		data.Flash = popFlash(w, r)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		log.Error("failed to render template", zap.String("page", page), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if ctx.Err() != nil {
		log.Debug("request cancelled before render", zap.String("page", page))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// nav describes the viewer. A failing profile lookup still renders the page,
// with the e-mail standing in for the name.
func (rd *Renderer) nav(ctx context.Context) Nav {
	sess, ok := auth.SessionFromContext(ctx)
	if !ok {
		return Nav{}
	}

	p, err := rd.profiles.Ensure(ctx, sess)
	if err != nil {
		logger.FromContext(ctx).Warn("navigation profile unavailable", zap.Error(err))
		return Nav{SignedIn: true, Name: sess.Email}
	}
	return navFor(p)
}

// navFor describes a viewer whose profile is already loaded.
func navFor(p *model.Profile) Nav {
	if p == nil {
		return Nav{}
	}
	return Nav{
		SignedIn:     true,
		Name:         p.DisplayName(),
		AvatarURL:    p.AvatarURL,
		IsInstructor: p.IsInstructor(),
	}
}
