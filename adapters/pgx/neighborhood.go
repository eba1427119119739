package pgx

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/lborres/kapitbahay/core"
)

func (a *Adapter) CreateNeighborhood(ctx context.Context, n *core.Neighborhood) error {
	q := `INSERT INTO public.neighborhoods (name, boundary, created_by)
	      VALUES ($1, ST_SetSRID(ST_GeomFromGeoJSON($2), 4326), $3)
	      RETURNING id, created_at`

	err := a.pool.QueryRow(ctx, q, n.Name, n.Boundary, n.CreatedBy).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		if isGeometryError(err) {
			return core.ErrInvalidBoundary
		}
		return err
	}
	return nil
}

const selectNeighborhood = `SELECT id, name, ST_AsGeoJSON(boundary), created_by, created_at`

func scanNeighborhood(row pgx.Row) (*core.Neighborhood, error) {
	n := &core.Neighborhood{}
	err := row.Scan(&n.ID, &n.Name, &n.Boundary, &n.CreatedBy, &n.CreatedAt)
	return n, err
}

func (a *Adapter) ListNeighborhoods(ctx context.Context) ([]*core.Neighborhood, error) {
	rows, err := a.pool.Query(ctx, selectNeighborhood+` FROM public.neighborhoods ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*core.Neighborhood
	for rows.Next() {
		n, err := scanNeighborhood(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// ResolveNeighborhood asks the database which neighborhood contains the
// point. The containment check runs in resolve_neighborhood.
func (a *Adapter) ResolveNeighborhood(ctx context.Context, lat, lng float64) (*core.Neighborhood, error) {
	n, err := scanNeighborhood(a.pool.QueryRow(ctx, selectNeighborhood+` FROM public.resolve_neighborhood($1, $2)`, lat, lng))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNeighborhoodNotFound
		}
		return nil, err
	}
	return n, nil
}
