package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

// NeighborhoodService manages the administrator-defined neighborhoods.
// Containment lookups stay in the database; this only guards writes.
type NeighborhoodService struct {
	db  core.NeighborhoodStorage
	log zerolog.Logger
}

func NewNeighborhoodService(db core.NeighborhoodStorage, log zerolog.Logger) *NeighborhoodService {
	return &NeighborhoodService{db: db, log: log}
}

type geoPolygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// validateBoundary accepts a GeoJSON Polygon whose rings are closed and
// hold at least four positions in lng/lat order.
func validateBoundary(boundary string) error {
	var poly geoPolygon
	if err := json.Unmarshal([]byte(boundary), &poly); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidBoundary, err)
	}
	if poly.Type != "Polygon" || len(poly.Coordinates) == 0 {
		return core.ErrInvalidBoundary
	}
	for _, ring := range poly.Coordinates {
		if len(ring) < 4 || ring[0] != ring[len(ring)-1] {
			return core.ErrInvalidBoundary
		}
		for _, pos := range ring {
			if !validCoordinates(pos[1], pos[0]) {
				return core.ErrInvalidBoundary
			}
		}
	}
	return nil
}

// Create stores a new neighborhood on behalf of creator, who must be an
// administrator.
func (s *NeighborhoodService) Create(ctx context.Context, creator *core.Identity, input core.NeighborhoodInput) (*core.Neighborhood, error) {
	if creator == nil || !creator.IsAdmin {
		return nil, core.ErrForbidden
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", core.ErrInvalidBoundary)
	}
	if err := validateBoundary(input.Boundary); err != nil {
		return nil, err
	}

	n := &core.Neighborhood{
		Name:      name,
		Boundary:  input.Boundary,
		CreatedBy: creator.ID,
	}
	if err := s.db.CreateNeighborhood(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create neighborhood: %w", err)
	}

	s.log.Info().Str("neighborhood_id", n.ID).Str("user_id", creator.ID).Msg("neighborhood created")
	return n, nil
}

func (s *NeighborhoodService) List(ctx context.Context) ([]*core.Neighborhood, error) {
	list, err := s.db.ListNeighborhoods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list neighborhoods: %w", err)
	}
	return list, nil
}
