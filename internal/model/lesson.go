package model

import "time"

// Lesson belongs to exactly one course. Lessons whose course no longer
// exists are orphans and never listed.
type Lesson struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ResourceURL string    `json:"resource_url,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	Course      *Course   `json:"course,omitempty"`
}
