package rest

import (
	"context"
	"time"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/hosted"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/normalize"
	"github.com/sakif/course-portal/internal/repository"
)

const profileSelect = `id, name, email, role, bio, avatar_url, created_at, updated_at`

// ProfileStore implements repository.ProfileRepository.
type ProfileStore struct {
	c *hosted.Client
}

var _ repository.ProfileRepository = (*ProfileStore)(nil)

func (s *ProfileStore) Get(ctx context.Context, id string) (*model.Profile, error) {
	db := s.c.Rest(ctx)
	var row normalize.ProfileRow
	err := db.Run(db.From("profiles").Select(profileSelect, "", false).Eq("id", id).Single(), &row)
	if err != nil {
		return nil, classify(err, "profile", id, "getting profile "+id)
	}
	p := normalize.Profile(row)
	return &p, nil
}

func (s *ProfileStore) Create(ctx context.Context, p *model.Profile) error {
	db := s.c.Rest(ctx)
	var rows []normalize.ProfileRow
	err := db.Run(db.From("profiles").Insert(map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"email":      nullable(p.Email),
		"role":       string(p.Role),
		"bio":        p.Bio,
		"avatar_url": nullable(p.AvatarURL),
	}, false, "", "representation", ""), &rows)
	if err != nil {
		return classify(err, "profile", p.ID, "inserting profile "+p.ID)
	}
	if len(rows) > 0 {
		stored := normalize.Profile(rows[0])
		p.CreatedAt = stored.CreatedAt
		p.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

func (s *ProfileStore) Update(ctx context.Context, p *model.Profile) error {
	db := s.c.Rest(ctx)
	var rows []normalize.ProfileRow
	err := db.Run(db.From("profiles").Update(map[string]any{
		"name":       p.Name,
		"role":       string(p.Role),
		"bio":        p.Bio,
		"avatar_url": nullable(p.AvatarURL),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}, "representation", "").Eq("id", p.ID), &rows)
	if err != nil {
		return classify(err, "profile", p.ID, "updating profile "+p.ID)
	}
	if len(rows) == 0 {
		return apperror.NotFound("profile", p.ID)
	}
	p.UpdatedAt = normalize.Profile(rows[0]).UpdatedAt
	return nil
}
