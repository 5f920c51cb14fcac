package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/auth"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
	"github.com/sakif/course-portal/internal/service"
)

// CourseHandler serves the course catalogue, course management, lessons and
// enrollment.
type CourseHandler struct {
	courses     *service.CourseService
	lessons     *service.LessonService
	enrollments *service.EnrollmentService
	render      *Renderer
	maxUpload   int64
}

// CourseDeps groups CourseHandler's collaborators. MaxUploadBytes caps
// multipart request bodies.
type CourseDeps struct {
	Courses        *service.CourseService
	Lessons        *service.LessonService
	Enrollments    *service.EnrollmentService
	Render         *Renderer
	MaxUploadBytes int64
}

func NewCourseHandler(deps CourseDeps) *CourseHandler {
	return &CourseHandler{
		courses:     deps.Courses,
		lessons:     deps.Lessons,
		enrollments: deps.Enrollments,
		render:      deps.Render,
		maxUpload:   deps.MaxUploadBytes,
	}
}

func session(r *http.Request) *model.Session {
	sess, _ := auth.SessionFromContext(r.Context())
	return sess
}

type coursesPage struct {
	Courses   []model.Course
	CanCreate bool
}

// HandleList shows every course, newest first.
//
// HTTP: GET /courses
func (h *CourseHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	courses, err := h.courses.List(r.Context(), repository.CourseFilter{})
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	nav := h.render.nav(r.Context())
	h.render.Render(w, r, http.StatusOK, pageCourses, PageData{
		Title: "Courses",
		Nav:   nav,
		Data:  coursesPage{Courses: courses, CanCreate: nav.IsInstructor},
	})
}

// HandleShow renders one course with its lessons and the viewer's
// affordances.
//
// HTTP: GET /courses/{id}
func (h *CourseHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	d, err := h.courses.Detail(r.Context(), chi.URLParam(r, "id"), session(r))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	h.render.Render(w, r, http.StatusOK, pageCourse, PageData{Title: d.Course.Title, Nav: navFor(d.Viewer), Data: d})
}

type courseFormPage struct {
	Action string
	Cancel string
}

// HandleNew renders the empty course form.
//
// HTTP: GET /courses/new
func (h *CourseHandler) HandleNew(w http.ResponseWriter, r *http.Request) {
	if err := h.courses.AuthorizeCreate(r.Context(), session(r)); err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, pageCourseForm, PageData{
		Title: "Add Course",
		Data:  courseFormPage{Action: "/courses", Cancel: "/courses"},
	})
}

// HandleCreate creates a course, uploading its image first.
//
// HTTP: POST /courses
func (h *CourseHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title: "Add Course",
		Data:  courseFormPage{Action: "/courses", Cancel: "/courses"},
	}
	if err := parseForm(w, r, h.maxUpload); err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}
	data.Form = formValues(r, "title", "description")

	image, err := formFile(r, "image")
	if err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}

	c, err := h.courses.Create(r.Context(), session(r), service.CourseInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
	}, image)
	if err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}

	redirectWithFlash(w, r, "/courses/"+c.ID, "success", "Course created.")
}

// HandleEdit renders the course form filled with the course.
//
// HTTP: GET /courses/{id}/edit
func (h *CourseHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	c, err := h.courses.Manageable(r.Context(), session(r), chi.URLParam(r, "id"))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	h.render.Render(w, r, http.StatusOK, pageCourseForm, PageData{
		Title: "Edit Course",
		Form:  map[string]string{"title": c.Title, "description": c.Description},
		Data:  courseFormPage{Action: "/courses/" + c.ID, Cancel: "/courses/" + c.ID},
	})
}

// HandleUpdate saves the course form. A new image replaces the old one only
// when a file was chosen.
//
// HTTP: POST /courses/{id}
func (h *CourseHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data := PageData{
		Title: "Edit Course",
		Data:  courseFormPage{Action: "/courses/" + id, Cancel: "/courses/" + id},
	}
	if err := parseForm(w, r, h.maxUpload); err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}
	data.Form = formValues(r, "title", "description")

	image, err := formFile(r, "image")
	if err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}

	c, err := h.courses.Update(r.Context(), session(r), id, service.CourseInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
	}, image)
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.FormError(w, r, pageCourseForm, data, err)
		return
	}

	redirectWithFlash(w, r, "/courses/"+c.ID, "success", "Course updated.")
}

// HandleDelete removes the caller's course.
//
// HTTP: POST /courses/{id}/delete
func (h *CourseHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.courses.Delete(r.Context(), session(r), chi.URLParam(r, "id"))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	redirectWithFlash(w, r, "/dashboard", "success", "Course deleted.")
}

// HandleEnroll enrolls the caller. Enrolling twice lands on the same page.
//
// HTTP: POST /courses/{id}/enroll
func (h *CourseHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	already, err := h.enrollments.Enroll(r.Context(), session(r), id)
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	msg := "You are now enrolled."
	if already {
		msg = "You are already enrolled in this course."
	}
	redirectWithFlash(w, r, "/courses/"+id, "success", msg)
}

// HandleUnenroll removes the caller's enrollment. Not being enrolled is not
// an error.
//
// HTTP: POST /courses/{id}/unenroll
func (h *CourseHandler) HandleUnenroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.enrollments.Unenroll(r.Context(), session(r), id)
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	if !removed {
		redirectWithFlash(w, r, "/courses/"+id, "info", service.NotEnrolledMessage)
		return
	}
	redirectWithFlash(w, r, "/courses/"+id, "success", "You have been unenrolled.")
}

type lessonFormPage struct {
	Course *model.Course
}

// HandleNewLesson renders the lesson form for a course the caller owns.
//
// HTTP: GET /courses/{id}/lessons/new
func (h *CourseHandler) HandleNewLesson(w http.ResponseWriter, r *http.Request) {
	c, err := h.courses.Manageable(r.Context(), session(r), chi.URLParam(r, "id"))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, pageLessonForm, PageData{
		Title: "Add Lesson",
		Data:  lessonFormPage{Course: c},
	})
}

// HandleCreateLesson adds a lesson, uploading its resource file first.
//
// HTTP: POST /courses/{id}/lessons
func (h *CourseHandler) HandleCreateLesson(w http.ResponseWriter, r *http.Request) {
	c, err := h.courses.Manageable(r.Context(), session(r), chi.URLParam(r, "id"))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, "Course not found.")
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}

	data := PageData{Title: "Add Lesson", Data: lessonFormPage{Course: c}}
	if err := parseForm(w, r, h.maxUpload); err != nil {
		h.render.FormError(w, r, pageLessonForm, data, err)
		return
	}
	data.Form = formValues(r, "title", "content")

	resource, err := formFile(r, "resource")
	if err != nil {
		h.render.FormError(w, r, pageLessonForm, data, err)
		return
	}

	l, err := h.lessons.Create(r.Context(), session(r), c.ID, service.LessonInput{
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
	}, resource)
	if err != nil {
		h.render.FormError(w, r, pageLessonForm, data, err)
		return
	}

	redirectWithFlash(w, r, "/lessons/"+l.ID, "success", "Lesson added.")
}

type lessonPage struct {
	Lesson *model.Lesson
}

// HandleLesson renders one lesson.
//
// HTTP: GET /lessons/{id}
func (h *CourseHandler) HandleLesson(w http.ResponseWriter, r *http.Request) {
	l, err := h.lessons.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, apperror.ErrNotFound) {
		h.render.NotFound(w, r, apperror.UserMessage(err))
		return
	}
	if err != nil {
		h.render.Error(w, r, err)
		return
	}
	h.render.Render(w, r, http.StatusOK, pageLesson, PageData{Title: l.Title, Data: lessonPage{Lesson: l}})
}
