package model

import "time"

const (
	UntitledCourse    = "Untitled Course"
	UnknownInstructor = "Unknown Instructor"
)

// Instructor is the denormalized instructor data joined onto a course.
type Instructor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Course is a course as shown to viewers. ImageURL is empty when the course
// has no image; Instructor is nil when the join produced no usable row.
type Course struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	ImageURL     string      `json:"image_url,omitempty"`
	InstructorID string      `json:"instructor_id,omitempty"`
	Instructor   *Instructor `json:"instructor"`
	CreatedAt    time.Time   `json:"created_at,omitzero"`
}

func (c *Course) HasImage() bool {
	return c.ImageURL != ""
}

func (c *Course) InstructorName() string {
	if c.Instructor == nil || c.Instructor.Name == "" {
		return UnknownInstructor
	}
	return c.Instructor.Name
}

// OwnedBy reports whether accountID is the course's instructor.
func (c *Course) OwnedBy(accountID string) bool {
	return accountID != "" && c.InstructorID == accountID
}

// CoursePermissions is what a viewer may do with one course.
type CoursePermissions struct {
	CanManage bool // edit, delete, add lessons
	CanEnroll bool
}

// PermissionsFor derives the affordances shown to viewer. Management needs
// the instructor role AND ownership; the store still has the final say.
func PermissionsFor(viewer *Profile, c *Course) CoursePermissions {
	if viewer == nil {
		return CoursePermissions{}
	}
	manage := viewer.IsInstructor() && c.OwnedBy(viewer.ID)
	return CoursePermissions{
		CanManage: manage,
		CanEnroll: !c.OwnedBy(viewer.ID),
	}
}
