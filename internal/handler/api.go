package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/service"
)

// maxAPIListLimit caps ?limit on listing endpoints.
const maxAPIListLimit = 100

// APIHandler serves the JSON endpoints used by the navigation script and
// API clients.
type APIHandler struct {
	profiles *service.ProfileService
	courses  *service.CourseService
}

func NewAPIHandler(profiles *service.ProfileService, courses *service.CourseService) *APIHandler {
	return &APIHandler{profiles: profiles, courses: courses}
}

// MeResponse describes the caller.
type MeResponse struct {
	Session *model.Session `json:"session"`
	Profile *model.Profile `json:"profile"`
}

// HandleMe returns the caller's session and profile.
//
// HTTP: GET /api/me
// Auth: required
func (h *APIHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	p, err := h.profiles.Ensure(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, MeResponse{Session: sess, Profile: p})
}

// HandleCourses lists courses newest first.
//
// HTTP: GET /api/courses?instructor=<id>&limit=<n>
func (h *APIHandler) HandleCourses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CourseFilter{InstructorID: q.Get("instructor")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, apperror.ValidationFailed("limit", "limit must be a positive number"))
			return
		}
		filter.Limit = min(n, maxAPIListLimit)
	}

	courses, err := h.courses.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if courses == nil {
		courses = []model.Course{}
	}
	writeJSON(w, r, http.StatusOK, courses)
}

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth is the liveness check. With a pinger it also checks the
// store.
//
// HTTP: GET /healthz
func HandleHealth(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				logger.FromContext(r.Context()).Error("health check failed", zap.Error(err))
				writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleHome renders the landing page.
//
// HTTP: GET /
func (rd *Renderer) HandleHome(w http.ResponseWriter, r *http.Request) {
	rd.Render(w, r, http.StatusOK, pageHome, PageData{})
}

// HandleNotFound renders the not-found view for unknown routes.
func (rd *Renderer) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	rd.NotFound(w, r, "The page you were looking for does not exist.")
}
