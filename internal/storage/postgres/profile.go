package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftflare/orderflow/internal/profile"
)

var _ profile.Directory = (*ProfileRepository)(nil)

// ProfileRepository resolves buyer profiles from the profiles table.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Get fetches one profile or profile.ErrNotFound.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	var p profile.Profile
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, phone, role, city FROM profiles WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Role, &p.City)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get profile %q", userID)
	}
	return &p, nil
}
