package handler

import (
	"net/http"

	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/service"
)

// ProfileHandler serves the signed-in viewer's own pages: profile, enrolled
// courses and dashboard.
type ProfileHandler struct {
	profiles    *service.ProfileService
	courses     *service.CourseService
	enrollments *service.EnrollmentService
	render      *Renderer
	maxUpload   int64
}

// ProfileDeps groups ProfileHandler's collaborators.
type ProfileDeps struct {
	Profiles       *service.ProfileService
	Courses        *service.CourseService
	Enrollments    *service.EnrollmentService
	Render         *Renderer
	MaxUploadBytes int64
}

func NewProfileHandler(deps ProfileDeps) *ProfileHandler {
	return &ProfileHandler{
		profiles:    deps.Profiles,
		courses:     deps.Courses,
		enrollments: deps.Enrollments,
		render:      deps.Render,
		maxUpload:   deps.MaxUploadBytes,
	}
}

type profilePage struct {
	Profile *model.Profile
	Roles   []model.Role
}

func profileData(p *model.Profile) PageData {
	return PageData{
		Title: "Profile",
		Nav:   navFor(p),
		Form:  map[string]string{"name": p.Name, "bio": p.Bio, "role": string(p.Role)},
		Data:  profilePage{Profile: p, Roles: model.SelectableRoles},
	}
}

// HandleShow renders the profile form, creating the profile on first visit.
//
// HTTP: GET /profile
func (h *ProfileHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), session(r))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, pageProfile, profileData(p))
}

// HandleUpdate saves name, bio and role.
//
// HTTP: POST /profile
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), session(r))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	data := profileData(p)

	if err := parseForm(w, r, formMaxBytes); err != nil {
		h.render.FormError(w, r, pageProfile, data, err)
		return
	}
	data.Form = formValues(r, "name", "bio", "role")

	_, err = h.profiles.Update(r.Context(), session(r), service.ProfileInput{
		Name: r.PostFormValue("name"),
		Bio:  r.PostFormValue("bio"),
		Role: r.PostFormValue("role"),
	})
	if err != nil {
		h.render.FormError(w, r, pageProfile, data, err)
		return
	}
	redirectWithFlash(w, r, "/profile", "success", "Profile saved.")
}

// HandleAvatar replaces the viewer's avatar.
//
// HTTP: POST /profile/avatar
func (h *ProfileHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), session(r))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	data := profileData(p)

	if err := parseForm(w, r, h.maxUpload); err != nil {
		h.render.FormError(w, r, pageProfile, data, err)
		return
	}
	file, err := formFile(r, "avatar")
	if err != nil {
		h.render.FormError(w, r, pageProfile, data, err)
		return
	}

	if _, err := h.profiles.UploadAvatar(r.Context(), session(r), file); err != nil {
		h.render.FormError(w, r, pageProfile, data, err)
		return
	}
	redirectWithFlash(w, r, "/profile", "success", "Avatar updated.")
}

type enrolledPage struct {
	Enrollments []model.Enrollment
}

// HandleEnrolled lists the courses the viewer is enrolled in.
//
// HTTP: GET /enrolled
func (h *ProfileHandler) HandleEnrolled(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.enrollments.List(r.Context(), session(r))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, pageEnrolled, PageData{
		Title: "My Courses",
		Data:  enrolledPage{Enrollments: enrollments},
	})
}

type dashboardPage struct {
	Instructor  bool
	Courses     []model.Course
	Enrollments []model.Enrollment
}

// HandleDashboard shows instructors their own courses and students a
// summary of their enrollments.
//
// HTTP: GET /dashboard
func (h *ProfileHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.profiles.Ensure(ctx, session(r))
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	d := dashboardPage{Instructor: p.IsInstructor()}
	if d.Instructor {
		d.Courses, err = h.courses.List(ctx, repository.CourseFilter{InstructorID: p.ID})
	} else {
		d.Enrollments, err = h.enrollments.List(ctx, session(r))
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	h.render.Render(w, r, http.StatusOK, pageDashboard, PageData{Title: "Dashboard", Nav: navFor(p), Data: d})
}
