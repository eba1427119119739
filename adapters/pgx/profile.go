package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/kapitbahay/core"
)

// GetProfileByID returns (nil, nil) when the user has no profile row yet
func (a *Adapter) GetProfileByID(ctx context.Context, id string) (*core.Profile, error) {
	q := `SELECT id, display_name, avatar_url, latitude, longitude, neighborhood_id, created_at, updated_at
	      FROM public.profiles WHERE id = $1`

	p := &core.Profile{}
	err := a.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.DisplayName, &p.AvatarURL, &p.Latitude, &p.Longitude, &p.NeighborhoodID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (a *Adapter) UpsertProfile(ctx context.Context, p *core.Profile) error {
	q := `INSERT INTO public.profiles (id, display_name, avatar_url, latitude, longitude, neighborhood_id)
	      VALUES ($1, $2, $3, $4, $5, $6)
	      ON CONFLICT (id) DO UPDATE SET
	          display_name = EXCLUDED.display_name,
	          avatar_url = EXCLUDED.avatar_url,
	          latitude = EXCLUDED.latitude,
	          longitude = EXCLUDED.longitude,
	          neighborhood_id = EXCLUDED.neighborhood_id,
	          updated_at = now()
	      RETURNING created_at, updated_at`

	return a.pool.QueryRow(ctx, q,
		p.ID, p.DisplayName, p.AvatarURL, p.Latitude, p.Longitude, p.NeighborhoodID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}
