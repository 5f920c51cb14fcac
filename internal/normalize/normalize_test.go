package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/course-portal/internal/model"
)

func TestToOne(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantID string // "" means nil
	}{
		{name: "absent", raw: ``},
		{name: "null", raw: `null`},
		{name: "empty array", raw: `[]`},
		{name: "single element array", raw: `[{"id":"a","name":"Ada"}]`, wantID: "a"},
		{name: "object", raw: `{"id":"a","name":"Ada"}`, wantID: "a"},
		{name: "two element array keeps first", raw: `[{"id":"a"},{"id":"b"}]`, wantID: "a"},
		{name: "object without id", raw: `{"name":"Ada"}`},
		{name: "object with empty id", raw: `{"id":"","name":"Ada"}`},
		{name: "object with null id", raw: `{"id":null,"name":"Ada"}`},
		{name: "first element without id", raw: `[{"name":"Ada"},{"id":"b"}]`},
		{name: "array of null", raw: `[null]`},
		{name: "numeric id", raw: `{"id":42}`, wantID: "42"},
		{name: "numeric id in array", raw: `[{"id":7,"name":"Ada"}]`, wantID: "7"},
		{name: "stray string", raw: `"a"`},
		{name: "stray number", raw: `12`},
		{name: "padded object", raw: "  \n{\"id\":\"a\"}\t", wantID: "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToOne[InstructorRow](json.RawMessage(tt.raw))
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, ID(tt.wantID), got.ID)
		})
	}
}

func TestToOneWithoutIdentity(t *testing.T) {
	type plain struct {
		Name string `json:"name"`
	}

	got := ToOne[plain](json.RawMessage(`[{"name":"x"}]`))
	require.NotNil(t, got)
	assert.Equal(t, "x", got.Name)
}

func TestIDDecoding(t *testing.T) {
	tests := []struct {
		raw  string
		want ID
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`-5`, "-5"},
		{`9007199254740993`, "9007199254740993"},
		{`null`, ""},
		{`true`, ""},
		{`{"x":1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var row struct {
				ID ID `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(`{"id":`+tt.raw+`}`), &row))
			assert.Equal(t, tt.want, row.ID)
		})
	}
}

func TestCourse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.Course
	}{
		{
			name: "instructor as array",
			raw:  `{"id":1,"title":"Go","description":"Basics","image_url":"https://cdn/x.png","instructor_id":"u1","instructor":[{"id":"u1","name":"Ada"}]}`,
			want: model.Course{ID: "1", Title: "Go", Description: "Basics", ImageURL: "https://cdn/x.png", InstructorID: "u1",
				Instructor: &model.Instructor{ID: "u1", Name: "Ada"}},
		},
		{
			name: "instructor as object without name",
			raw:  `{"id":"c2","title":"Rust","instructor_id":"u2","instructor":{"id":"u2"}}`,
			want: model.Course{ID: "c2", Title: "Rust", InstructorID: "u2",
				Instructor: &model.Instructor{ID: "u2", Name: model.UnknownInstructor}},
		},
		{
			name: "missing title, null description and image",
			raw:  `{"id":"c3","title":null,"description":null,"image_url":null,"instructor":null}`,
			want: model.Course{ID: "c3", Title: model.UntitledCourse},
		},
		{
			name: "instructor without id is dropped",
			raw:  `{"id":"c4","title":"SQL","instructor":[{"name":"Ghost"}]}`,
			want: model.Course{ID: "c4", Title: "SQL"},
		},
		{
			name: "legacy thumbnail column",
			raw:  `{"id":"c5","title":"Old","thumbnail_url":"https://cdn/old.png"}`,
			want: model.Course{ID: "c5", Title: "Old", ImageURL: "https://cdn/old.png"},
		},
		{
			name: "image_url wins over thumbnail_url",
			raw:  `{"id":"c6","title":"New","image_url":"https://cdn/new.png","thumbnail_url":"https://cdn/old.png"}`,
			want: model.Course{ID: "c6", Title: "New", ImageURL: "https://cdn/new.png"},
		},
		{
			name: "instructor id taken from the join when the column is missing",
			raw:  `{"id":"c7","title":"Join","instructor":{"id":"u9","name":"Grace"}}`,
			want: model.Course{ID: "c7", Title: "Join", InstructorID: "u9",
				Instructor: &model.Instructor{ID: "u9", Name: "Grace"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var row CourseRow
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &row))
			assert.Equal(t, tt.want, Course(row))
		})
	}
}

func TestCoursesPreservesOrderAndCount(t *testing.T) {
	raw := `[
		{"id":"a","instructor":[]},
		{"id":"b","instructor":{"id":"u1"}},
		{"id":"c","instructor":[{"id":"u2"},{"id":"u3"}]},
		{"id":"d"}
	]`

	var rows []CourseRow
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))

	got := Courses(rows)
	require.Len(t, got, 4)

	for i, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, got[i].ID)
		// each element gets the single-record rule
		assert.Equal(t, Course(rows[i]), got[i])
	}
	assert.Nil(t, got[0].Instructor)
	assert.Equal(t, "u2", got[2].Instructor.ID)
}

func TestCoursesEmpty(t *testing.T) {
	assert.Empty(t, Courses(nil))
}

func TestEnrollment(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantCourse *model.Course
	}{
		{
			name:       "course as array",
			raw:        `{"id":10,"user_id":"u1","course_id":3,"created_at":"2025-01-02T03:04:05Z","course":[{"id":3,"title":"Go","description":null,"image_url":null}]}`,
			wantCourse: &model.Course{ID: "3", Title: "Go"},
		},
		{
			name:       "course as object",
			raw:        `{"id":10,"user_id":"u1","course_id":3,"course":{"id":"3","title":"Go","thumbnail_url":"t.png"}}`,
			wantCourse: &model.Course{ID: "3", Title: "Go", ImageURL: "t.png"},
		},
		{
			name: "course deleted",
			raw:  `{"id":10,"user_id":"u1","course_id":3,"course":null}`,
		},
		{
			name: "course row without id",
			raw:  `{"id":10,"user_id":"u1","course_id":3,"course":[{"title":"Go"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var row EnrollmentRow
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &row))

			got := Enrollment(row)
			assert.Equal(t, "10", got.ID)
			assert.Equal(t, "u1", got.UserID)
			assert.Equal(t, "3", got.CourseID)
			assert.Equal(t, tt.wantCourse, got.Course)
		})
	}
}

func TestEnrollmentTimestamp(t *testing.T) {
	var row EnrollmentRow
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e","created_at":"2025-01-02T03:04:05.5+02:00"}`), &row))

	want := time.Date(2025, 1, 2, 1, 4, 5, 500_000_000, time.UTC)
	assert.True(t, want.Equal(Enrollment(row).CreatedAt))
}

func TestLessonsDropOrphans(t *testing.T) {
	raw := `[
		{"id":"l1","course_id":"c1","title":"Intro","course":{"id":"c1","title":"Go"}},
		{"id":"l2","course_id":"c9","title":"Gone","course":null},
		{"id":"l3","course_id":"c1","title":"Next","course":[{"id":"c1"}]},
		{"id":"l4","title":"No parent","course":{"id":"c1"}},
		{"id":"l5","course_id":"c1","title":null,"content":null,"course":[{"id":"c1"}]}
	]`

	var rows []LessonRow
	require.NoError(t, json.Unmarshal([]byte(raw), &rows))

	got := Lessons(rows)
	require.Len(t, got, 3)
	assert.Equal(t, "l1", got[0].ID)
	assert.Equal(t, "Go", got[0].Course.Title)
	assert.Equal(t, "l3", got[1].ID)
	assert.Equal(t, "l5", got[2].ID)
	assert.Equal(t, "Untitled Lesson", got[2].Title)
	assert.Empty(t, got[2].Content)
}

func TestProfile(t *testing.T) {
	tests := []struct {
		raw      string
		wantRole model.Role
		wantName string
	}{
		{`{"id":"u1","name":"Ada","role":"instructor"}`, model.RoleInstructor, "Ada"},
		{`{"id":"u1","name":null,"role":null}`, model.RoleStudent, ""},
		{`{"id":"u1","role":"wizard"}`, model.RoleStudent, ""},
		{`{"id":"u1","role":"admin"}`, model.RoleAdmin, ""},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			var row ProfileRow
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &row))
			p := Profile(row)
			assert.Equal(t, "u1", p.ID)
			assert.Equal(t, tt.wantRole, p.Role)
			assert.Equal(t, tt.wantName, p.Name)
		})
	}
}

func TestOneMarshalRoundTrip(t *testing.T) {
	row := CourseRow{ID: "c1", Title: Str("Go"), Instructor: Some(InstructorRow{ID: "u1", Name: Str("Ada")})}

	b, err := json.Marshal(row)
	require.NoError(t, err)

	var back CourseRow
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Course(row), Course(back))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	assert.True(t, want.Equal(ParseTime("2025-03-04T05:06:07Z")))
	assert.True(t, want.Equal(ParseTime("2025-03-04 05:06:07")))
	assert.True(t, ParseTime("yesterday").IsZero())
	assert.True(t, ParseTime("").IsZero())
}
