package model

import "time"

// Enrollment links an account to a course. Course is the joined snapshot and
// is nil when the course row is gone.
type Enrollment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CourseID  string    `json:"course_id"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Course    *Course   `json:"course"`
}

// DistinctByCourse keeps the first enrollment per course, preserving order.
func DistinctByCourse(enrollments []Enrollment) []Enrollment {
	seen := make(map[string]struct{}, len(enrollments))
	out := make([]Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if _, dup := seen[e.CourseID]; dup {
			continue
		}
		seen[e.CourseID] = struct{}{}
		out = append(out, e)
	}
	return out
}
