package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

const profileObject = `json_object(
	'id', p.id,
	'name', p.name,
	'email', p.email,
	'role', p.role,
	'bio', p.bio,
	'avatar_url', p.avatar_url,
	'created_at', p.created_at,
	'updated_at', p.updated_at
)`

// ProfileStore implements repository.ProfileRepository.
type ProfileStore struct {
	db *DB
}

var _ repository.ProfileRepository = (*ProfileStore)(nil)

func (s *ProfileStore) Get(ctx context.Context, id string) (*model.Profile, error) {
	row, err := queryJSONRow[normalize.ProfileRow](ctx, s.db.conn,
		`SELECT `+profileObject+` FROM profiles p WHERE p.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", id, err)
	}

	p := normalize.Profile(row)
	return &p, nil
}

// Create inserts a profile under the account id it already carries.
func (s *ProfileStore) Create(ctx context.Context, p *model.Profile) error {
	now := s.db.timestamp()

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email, role, bio, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Email, string(p.Role), p.Bio, nullable(p.AvatarURL), now, now,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("profile", p.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting profile %s: %w", p.ID, err)
	}

	p.CreatedAt = parseTime(now)
	p.UpdatedAt = p.CreatedAt
	return nil
}

func (s *ProfileStore) Update(ctx context.Context, p *model.Profile) error {
	now := s.db.timestamp()

	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE profiles SET name = ?, role = ?, bio = ?, avatar_url = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, string(p.Role), p.Bio, nullable(p.AvatarURL), now, p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: updating profile %s: %w", p.ID, err)
	}
	if n == 0 {
		return apperror.NotFound("profile", p.ID)
	}

	p.UpdatedAt = parseTime(now)
	return nil
}
