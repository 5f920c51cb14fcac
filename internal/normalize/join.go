// Package normalize turns raw backend rows into model entities.
//
// Rows come from a relational store that can expand foreign keys inside a
// select. A to-one expansion is not reliably shaped on the wire: depending on
// how the join was executed it arrives as null, as a single object, or as an
// array holding zero or more objects. Every decoder in this package is total:
// it accepts any of those shapes and never fails, so one malformed related row
// cannot break a whole listing.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// identified is implemented by related-row types that carry a required id.
// A related row without one is treated as absent.
type identified interface {
	HasID() bool
}

// ToOne applies the to-one rule to a raw JSON value:
//
//	null, absent, []  -> nil
//	[X, ...]          -> X (further elements are ignored)
//	X                 -> X
//
// The result is also nil when X cannot be decoded into T or when T carries an
// id (see identified) and X has none.
func ToOne[T any](raw json.RawMessage) *T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
			return nil
		}
		return decodeObject[T](elems[0])
	case '{':
		return decodeObject[T](raw)
	default:
		// null and stray scalars
		return nil
	}
}

func decodeObject[T any](raw json.RawMessage) *T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil
	}
	if id, ok := any(v).(identified); ok && !id.HasID() {
		return nil
	}
	return v
}

// One is a to-one join field. Decoding never fails; use Get to read it.
type One[T any] struct {
	v *T
}

func (o *One[T]) UnmarshalJSON(b []byte) error {
	o.v = ToOne[T](b)
	return nil
}

func (o One[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.v)
}

// Get returns the related row or nil.
func (o One[T]) Get() *T {
	return o.v
}

// Some builds a populated join field. Used by stores that already hold the
// related row.
func Some[T any](v T) One[T] {
	return One[T]{v: &v}
}

// ID is an identifier in canonical string form. It decodes from a JSON
// string or number; anything else decodes to the empty id.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	*id = ID(scalarText(b))
	return nil
}

func (id ID) String() string { return string(id) }

// Text is an optional textual column. Numbers are kept as their literal
// text; null, objects and arrays decode as unset.
type Text struct {
	S   string
	Set bool
}

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] == 'n' || b[0] == '{' || b[0] == '[' {
		*t = Text{}
		return nil
	}
	*t = Text{S: scalarText(b), Set: true}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Set {
		return []byte("null"), nil
	}
	return json.Marshal(t.S)
}

// Or returns the value, or def when it is unset or blank.
func (t Text) Or(def string) string {
	if !t.Set || strings.TrimSpace(t.S) == "" {
		return def
	}
	return t.S
}

// String returns the value or "".
func (t Text) String() string { return t.S }

// Str wraps a Go string as a set Text.
func Str(s string) Text { return Text{S: s, Set: true} }

// timeLayouts are tried in order. The last one is what SQLite's
// CURRENT_TIMESTAMP produces.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
}

// Time is a timestamp column. Unparseable or missing values decode to the
// zero time.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	t.Time = ParseTime(scalarText(b))
	return nil
}

// ParseTime parses the timestamp formats the stores emit, in UTC.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// scalarText returns the text of a JSON string or number, or "" for
// anything else.
func scalarText(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	switch c := b[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ""
		}
		return s
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}
