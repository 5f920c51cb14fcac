// Package sqlite implements the repository interfaces on an embedded SQLite
// database.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary needs no C toolchain
// and cross-compiles like any other Go program.
//
// ROWS AS JSON:
// Every read builds the whole row, joined entities included, with
// json_object() and decodes it into the row types of package normalize. A
// to-one join is expanded as a json_group_array() subquery, so it arrives
// as [] or [row], which is exactly the ambiguous shape the normalizer
// collapses. Both store backends therefore share one decoding path.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed-width so that text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a sql.DB connection pool. The per-entity stores share it.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "portal.db"  → file-based database (persistent)
//   - ":memory:"   → in-memory database (tests; lost on close)
//
// sql.Open does not connect; Ping forces the first connection so a bad path
// fails here instead of on the first request.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty
	// database, so in-memory databases use exactly one connection.
	if isMemory(dbPath) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress. The setting
	// is stored in the database file, so running it once is enough.
	if !isMemory(dbPath) {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	db := NewWithConn(conn)
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// NewWithConn wraps an existing pool without running migrations.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn, now: time.Now}
}

// dsn adds per-connection pragmas. foreign_keys is off by default in SQLite
// and, like busy_timeout, only applies to the connection that set it.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func isMemory(dbPath string) bool {
	return strings.HasPrefix(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Courses() *CourseStore         { return &CourseStore{db: db} }
func (db *DB) Lessons() *LessonStore         { return &LessonStore{db: db} }
func (db *DB) Enrollments() *EnrollmentStore { return &EnrollmentStore{db: db} }
func (db *DB) Profiles() *ProfileStore       { return &ProfileStore{db: db} }
func (db *DB) Accounts() *AccountStore       { return &AccountStore{db: db} }

// migrate creates the schema. Every statement is idempotent.
//
// Lessons carry no foreign key to courses: deleting a course leaves its
// lessons behind as orphans, which reads filter out through the join.
// Enrollments cascade with their course.
//
// The accounts trigger creates each new account's student profile in the
// same statement, taking the display name from sign-up metadata and
// falling back to the e-mail.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"accounts table", `
			CREATE TABLE IF NOT EXISTS accounts (
				id            TEXT PRIMARY KEY,
				email         TEXT NOT NULL UNIQUE,
				name          TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL DEFAULT '',
				github_id     INTEGER UNIQUE,
				created_at    TEXT NOT NULL
			)`},
		{"profiles table", `
			CREATE TABLE IF NOT EXISTS profiles (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL DEFAULT '',
				email      TEXT NOT NULL DEFAULT '',
				role       TEXT NOT NULL DEFAULT 'student'
				           CHECK (role IN ('student', 'instructor', 'admin')),
				bio        TEXT NOT NULL DEFAULT '',
				avatar_url TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`},
		{"profile trigger", `
			CREATE TRIGGER IF NOT EXISTS accounts_create_profile
			AFTER INSERT ON accounts
			BEGIN
				INSERT OR IGNORE INTO profiles (id, name, email, role, bio, created_at, updated_at)
				VALUES (NEW.id, COALESCE(NULLIF(TRIM(NEW.name), ''), NEW.email), NEW.email,
				        'student', '', NEW.created_at, NEW.created_at);
			END`},
		{"courses table", `
			CREATE TABLE IF NOT EXISTS courses (
				id            TEXT PRIMARY KEY,
				title         TEXT NOT NULL,
				description   TEXT NOT NULL DEFAULT '',
				image_url     TEXT,
				thumbnail_url TEXT,
				instructor_id TEXT,
				created_at    TEXT NOT NULL
			)`},
		{"courses index", `CREATE INDEX IF NOT EXISTS idx_courses_instructor ON courses(instructor_id, created_at)`},
		{"lessons table", `
			CREATE TABLE IF NOT EXISTS lessons (
				id           TEXT PRIMARY KEY,
				course_id    TEXT NOT NULL,
				title        TEXT NOT NULL,
				content      TEXT NOT NULL DEFAULT '',
				resource_url TEXT,
				created_at   TEXT NOT NULL
			)`},
		{"lessons index", `CREATE INDEX IF NOT EXISTS idx_lessons_course ON lessons(course_id, created_at)`},
		{"enrollments table", `
			CREATE TABLE IF NOT EXISTS enrollments (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL,
				course_id  TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
				created_at TEXT NOT NULL,
				UNIQUE (user_id, course_id)
			)`},
		{"enrollments index", `CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id, created_at)`},
	}

	for _, s := range steps {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s: %w", s.name, err)
		}
	}
	return nil
}

func (db *DB) timestamp() string {
	return db.now().UTC().Format(timeLayout)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullable stores empty strings as NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// queryJSON runs a query whose single column is a JSON object and decodes
// each row into R.
func queryJSON[R any](ctx context.Context, conn *sql.DB, query string, args ...any) ([]R, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r R
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryJSONRow is queryJSON for a single row. It returns sql.ErrNoRows when
// nothing matched.
func queryJSONRow[R any](ctx context.Context, conn *sql.DB, query string, args ...any) (R, error) {
	var r R
	var raw string
	if err := conn.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("decoding row: %w", err)
	}
	return r, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
