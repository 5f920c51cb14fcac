package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fixture struct {
	profiles    *fakeProfiles
	courses     *fakeCourses
	lessons     *fakeLessons
	enrollments *fakeEnrollments
	storage     *fakeStorage

	profileSvc    *ProfileService
	courseSvc     *CourseService
	lessonSvc     *LessonService
	enrollmentSvc *EnrollmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		profiles: newFakeProfiles(
			model.Profile{ID: "teach", Name: "Grace", Role: model.RoleInstructor},
			model.Profile{ID: "other", Name: "Linus", Role: model.RoleInstructor},
			model.Profile{ID: "stud", Name: "Ada", Role: model.RoleStudent},
		),
		lessons:     &fakeLessons{},
		enrollments: &fakeEnrollments{},
		storage:     newFakeStorage(),
	}
	f.courses = &fakeCourses{rows: make(map[string]model.Course), profiles: f.profiles}
	f.lessons.courses = f.courses

	v := NewValidator()
	f.profileSvc = NewProfileService(f.profiles, f.storage, v)
	f.courseSvc = NewCourseService(CourseDeps{
		Courses:     f.courses,
		Lessons:     f.lessons,
		Enrollments: f.enrollments,
		Profiles:    f.profileSvc,
		Storage:     f.storage,
		Validator:   v,
	})
	f.lessonSvc = NewLessonService(f.lessons, f.courseSvc, f.storage, v)
	f.enrollmentSvc = NewEnrollmentService(f.enrollments, f.courseSvc)
	return f
}

func (f *fixture) course(t *testing.T, owner string) *model.Course {
	t.Helper()
	c, err := f.courseSvc.Create(context.Background(), session(owner), CourseInput{Title: "Course of " + owner}, nil)
	require.NoError(t, err)
	return c
}

func appErrOf(t *testing.T, err error) *apperror.AppError {
	t.Helper()
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr), "want *AppError, got %v", err)
	return appErr
}

func TestCourseService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("instructor with image", func(t *testing.T) {
		f := newFixture(t)
		img := &Upload{Filename: "Cover.PNG", Data: pngBytes}

		c, err := f.courseSvc.Create(ctx, session("teach"), CourseInput{Title: "  Go  ", Description: "basics"}, img)
		require.NoError(t, err)
		assert.Equal(t, "Go", c.Title)
		assert.True(t, strings.HasPrefix(c.ImageURL, "https://cdn.test/course-thumbnails/thumbnails/teach-"))
		assert.True(t, strings.HasSuffix(c.ImageURL, ".png"))
		assert.Equal(t, "Grace", c.InstructorName())
		assert.Len(t, f.storage.objects, 1)
		assert.Equal(t, []bool{false}, f.storage.overwrite)
	})

	t.Run("title required", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.courseSvc.Create(ctx, session("teach"), CourseInput{Title: "   "}, nil)
		assert.Equal(t, "title", appErrOf(t, err).Field)
		assert.Empty(t, f.courses.rows)
	})

	t.Run("students cannot create", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.courseSvc.Create(ctx, session("stud"), CourseInput{Title: "Go"}, nil)
		assert.ErrorIs(t, err, apperror.ErrForbidden)
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.courseSvc.Create(ctx, nil, CourseInput{Title: "Go"}, nil)
		assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
	})

	t.Run("non-image rejected before upload", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.courseSvc.Create(ctx, session("teach"), CourseInput{Title: "Go"},
			&Upload{Filename: "notes.txt", Data: []byte("plain text")})
		assert.Equal(t, "image", appErrOf(t, err).Field)
		assert.Empty(t, f.storage.objects)
	})

	t.Run("upload fails, nothing inserted", func(t *testing.T) {
		f := newFixture(t)
		f.storage.uploadErr = errors.New("bucket unavailable")

		_, err := f.courseSvc.Create(ctx, session("teach"), CourseInput{Title: "Go"}, &Upload{Filename: "a.png", Data: pngBytes})
		appErr := appErrOf(t, err)
		assert.ErrorIs(t, err, apperror.ErrUpstream)
		assert.Equal(t, "uploading image", appErr.Step)
		assert.Empty(t, f.courses.rows)
	})

	t.Run("insert fails after upload", func(t *testing.T) {
		f := newFixture(t)
		f.courses.createErr = errors.New("store unavailable")

		_, err := f.courseSvc.Create(ctx, session("teach"), CourseInput{Title: "Go"}, &Upload{Filename: "a.png", Data: pngBytes})
		appErr := appErrOf(t, err)
		assert.Equal(t, "saving course", appErr.Step)
		assert.Contains(t, appErr.Message, "image was uploaded")
		assert.Len(t, f.storage.objects, 1)
	})
}

func TestCourseService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.course(t, "teach")

	_, err := f.courseSvc.Update(ctx, session("other"), c.ID, CourseInput{Title: "Stolen"}, nil)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.courseSvc.Update(ctx, session("stud"), c.ID, CourseInput{Title: "Stolen"}, nil)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	updated, err := f.courseSvc.Update(ctx, session("teach"), c.ID, CourseInput{Title: "Go 2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Go 2", updated.Title)
	assert.Equal(t, "Go 2", f.courses.rows[c.ID].Title)

	assert.ErrorIs(t, f.courseSvc.Delete(ctx, session("other"), c.ID), apperror.ErrForbidden)
	require.NoError(t, f.courseSvc.Delete(ctx, session("teach"), c.ID))
	assert.ErrorIs(t, f.courseSvc.Delete(ctx, session("teach"), c.ID), apperror.ErrNotFound)
}

// The store guards must see the caller's id, not the owner id read back
// from the row, or they could never reject anyone.
func TestCourseService_PassesCallerToStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.course(t, "teach")

	var callers []string
	svc := NewCourseService(CourseDeps{
		Courses:     &recordingCourses{fakeCourses: f.courses, callers: &callers},
		Lessons:     f.lessons,
		Enrollments: f.enrollments,
		Profiles:    f.profileSvc,
		Storage:     f.storage,
		Validator:   NewValidator(),
	})

	_, err := svc.Update(ctx, session("teach"), c.ID, CourseInput{Title: "Go 2"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, session("teach"), c.ID))
	assert.Equal(t, []string{"teach", "teach"}, callers)
}

type recordingCourses struct {
	*fakeCourses
	callers *[]string
}

func (r *recordingCourses) Update(ctx context.Context, c *model.Course, instructorID string) error {
	*r.callers = append(*r.callers, instructorID)
	return r.fakeCourses.Update(ctx, c, instructorID)
}

func (r *recordingCourses) Delete(ctx context.Context, id, instructorID string) (bool, error) {
	*r.callers = append(*r.callers, instructorID)
	return r.fakeCourses.Delete(ctx, id, instructorID)
}

func TestCourseService_Detail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.course(t, "teach")
	f.lessons.rows = []model.Lesson{{ID: "l1", CourseID: c.ID, Title: "Intro"}}

	anon, err := f.courseSvc.Detail(ctx, c.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, anon.Viewer)
	assert.Equal(t, model.CoursePermissions{}, anon.Permissions)
	assert.Len(t, anon.Lessons, 1)

	owner, err := f.courseSvc.Detail(ctx, c.ID, session("teach"))
	require.NoError(t, err)
	assert.True(t, owner.Permissions.CanManage)
	assert.False(t, owner.Permissions.CanEnroll)

	_, err = f.enrollmentSvc.Enroll(ctx, session("stud"), c.ID)
	require.NoError(t, err)
	student, err := f.courseSvc.Detail(ctx, c.ID, session("stud"))
	require.NoError(t, err)
	assert.False(t, student.Permissions.CanManage)
	assert.True(t, student.Permissions.CanEnroll)
	assert.True(t, student.Enrolled)

	_, err = f.courseSvc.Detail(ctx, "missing", nil)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCourseService_DetailEnrollmentLookupFails(t *testing.T) {
	f := newFixture(t)
	c := f.course(t, "teach")
	f.enrollments.findErr = errors.New("timeout")

	_, err := f.courseSvc.Detail(context.Background(), c.ID, session("stud"))
	assert.ErrorIs(t, err, apperror.ErrUpstream)
	assert.False(t, errors.Is(err, apperror.ErrNotFound))
}

func TestCourseService_ListByInstructor(t *testing.T) {
	f := newFixture(t)
	f.course(t, "teach")
	f.course(t, "other")

	courses, err := f.courseSvc.List(context.Background(), repository.CourseFilter{InstructorID: "other"})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "other", courses[0].InstructorID)
}

func TestLessonService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.course(t, "teach")

	l, err := f.lessonSvc.Create(ctx, session("teach"), c.ID, LessonInput{Title: "Intro", Content: "hello"},
		&Upload{Filename: "my slides.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")})
	require.NoError(t, err)
	assert.Contains(t, l.ResourceURL, "https://cdn.test/lesson-resources/"+c.ID+"/")
	assert.Equal(t, c.ID, l.Course.ID)

	got, err := f.lessonSvc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Title)

	_, err = f.lessonSvc.Create(ctx, session("other"), c.ID, LessonInput{Title: "Mine now"}, nil)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.lessonSvc.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Lesson not found.", apperror.UserMessage(err))
}
