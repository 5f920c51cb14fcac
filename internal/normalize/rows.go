package normalize

import "github.com/sakif/course-portal/internal/model"

// InstructorRow is the profile expanded onto a course as "instructor".
type InstructorRow struct {
	ID   ID   `json:"id"`
	Name Text `json:"name"`
}

func (r InstructorRow) HasID() bool { return r.ID != "" }

// CourseRow is a course as selected from the store, optionally with its
// instructor expanded. It also serves as the course snapshot expanded onto
// enrollments and lessons, where most columns are left out.
type CourseRow struct {
	ID           ID                 `json:"id"`
	Title        Text               `json:"title"`
	Description  Text               `json:"description"`
	ImageURL     Text               `json:"image_url"`
	ThumbnailURL Text               `json:"thumbnail_url"` // legacy column name, read only
	InstructorID ID                 `json:"instructor_id"`
	CreatedAt    Time               `json:"created_at"`
	Instructor   One[InstructorRow] `json:"instructor"`
}

func (r CourseRow) HasID() bool { return r.ID != "" }

// LessonRow is a lesson with its parent course expanded as "course".
type LessonRow struct {
	ID          ID             `json:"id"`
	CourseID    ID             `json:"course_id"`
	Title       Text           `json:"title"`
	Content     Text           `json:"content"`
	ResourceURL Text           `json:"resource_url"`
	CreatedAt   Time           `json:"created_at"`
	Course      One[CourseRow] `json:"course"`
}

// EnrollmentRow is an enrollment with the course snapshot expanded as
// "course".
type EnrollmentRow struct {
	ID        ID             `json:"id"`
	UserID    ID             `json:"user_id"`
	CourseID  ID             `json:"course_id"`
	CreatedAt Time           `json:"created_at"`
	Course    One[CourseRow] `json:"course"`
}

// ProfileRow is a profiles table row.
type ProfileRow struct {
	ID        ID   `json:"id"`
	Name      Text `json:"name"`
	Email     Text `json:"email"`
	Role      Text `json:"role"`
	Bio       Text `json:"bio"`
	AvatarURL Text `json:"avatar_url"`
	CreatedAt Time `json:"created_at"`
	UpdatedAt Time `json:"updated_at"`
}

// Course converts a course row. Title falls back to "Untitled Course";
// description and image fall back to empty. An instructor is kept only when
// the expansion produced a row with an id, and its name falls back to
// "Unknown Instructor".
func Course(r CourseRow) model.Course {
	c := model.Course{
		ID:           r.ID.String(),
		Title:        r.Title.Or(model.UntitledCourse),
		Description:  r.Description.Or(""),
		ImageURL:     r.ImageURL.Or(r.ThumbnailURL.Or("")),
		InstructorID: r.InstructorID.String(),
		CreatedAt:    r.CreatedAt.Time,
	}
	if in := r.Instructor.Get(); in != nil {
		c.Instructor = &model.Instructor{
			ID:   in.ID.String(),
			Name: in.Name.Or(model.UnknownInstructor),
		}
		if c.InstructorID == "" {
			c.InstructorID = c.Instructor.ID
		}
	}
	return c
}

// Courses converts rows element-wise, preserving order and count.
func Courses(rows []CourseRow) []model.Course {
	return Map(rows, Course)
}

// Enrollment converts an enrollment row. Course is nil when the expansion
// produced no usable row.
func Enrollment(r EnrollmentRow) model.Enrollment {
	e := model.Enrollment{
		ID:        r.ID.String(),
		UserID:    r.UserID.String(),
		CourseID:  r.CourseID.String(),
		CreatedAt: r.CreatedAt.Time,
	}
	if cr := r.Course.Get(); cr != nil {
		c := Course(*cr)
		e.Course = &c
	}
	return e
}

// Enrollments converts rows element-wise, preserving order and count.
func Enrollments(rows []EnrollmentRow) []model.Enrollment {
	return Map(rows, Enrollment)
}

// Lesson converts a lesson row. ok is false for an orphan: a lesson with no
// course id or whose course expansion came back empty.
func Lesson(r LessonRow) (l model.Lesson, ok bool) {
	l = model.Lesson{
		ID:          r.ID.String(),
		CourseID:    r.CourseID.String(),
		Title:       r.Title.Or("Untitled Lesson"),
		Content:     r.Content.Or(""),
		ResourceURL: r.ResourceURL.Or(""),
		CreatedAt:   r.CreatedAt.Time,
	}
	cr := r.Course.Get()
	if l.CourseID == "" || cr == nil {
		return l, false
	}
	c := Course(*cr)
	l.Course = &c
	return l, true
}

// Lessons converts rows in order and drops orphans.
func Lessons(rows []LessonRow) []model.Lesson {
	out := make([]model.Lesson, 0, len(rows))
	for _, r := range rows {
		if l, ok := Lesson(r); ok {
			out = append(out, l)
		}
	}
	return out
}

// Profile converts a profile row. Unknown or missing roles become student.
func Profile(r ProfileRow) model.Profile {
	role := model.Role(r.Role.Or(string(model.RoleStudent)))
	if !role.Valid() {
		role = model.RoleStudent
	}
	return model.Profile{
		ID:        r.ID.String(),
		Name:      r.Name.Or(""),
		Email:     r.Email.Or(""),
		Role:      role,
		Bio:       r.Bio.Or(""),
		AvatarURL: r.AvatarURL.Or(""),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

// Map applies f to every row, preserving order and count.
func Map[R, E any](rows []R, f func(R) E) []E {
	out := make([]E, len(rows))
	for i, r := range rows {
		out[i] = f(r)
	}
	return out
}
