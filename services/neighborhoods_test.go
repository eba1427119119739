package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

const squareBoundary = `{"type":"Polygon","coordinates":[[[121.0,14.5],[121.1,14.5],[121.1,14.6],[121.0,14.6],[121.0,14.5]]]}`

// Requirement: only administrators create neighborhoods, and only with a
// closed GeoJSON polygon and a name.
func TestNeighborhoodService_Create(t *testing.T) {
	admin := &core.Identity{ID: "a1", IsAdmin: true}
	member := &core.Identity{ID: "u1"}

	tests := []struct {
		name    string
		creator *core.Identity
		input   core.NeighborhoodInput
		wantErr error
	}{
		{
			name:    "admin with valid polygon",
			creator: admin,
			input:   core.NeighborhoodInput{Name: "Poblacion", Boundary: squareBoundary},
		},
		{
			name:    "non-admin is forbidden",
			creator: member,
			input:   core.NeighborhoodInput{Name: "Poblacion", Boundary: squareBoundary},
			wantErr: core.ErrForbidden,
		},
		{
			name:    "anonymous is forbidden",
			input:   core.NeighborhoodInput{Name: "Poblacion", Boundary: squareBoundary},
			wantErr: core.ErrForbidden,
		},
		{
			name:    "blank name",
			creator: admin,
			input:   core.NeighborhoodInput{Name: "  ", Boundary: squareBoundary},
			wantErr: core.ErrInvalidBoundary,
		},
		{
			name:    "not json",
			creator: admin,
			input:   core.NeighborhoodInput{Name: "Poblacion", Boundary: "POLYGON((0 0))"},
			wantErr: core.ErrInvalidBoundary,
		},
		{
			name:    "open ring",
			creator: admin,
			input: core.NeighborhoodInput{
				Name:     "Poblacion",
				Boundary: `{"type":"Polygon","coordinates":[[[121.0,14.5],[121.1,14.5],[121.1,14.6],[121.0,14.6]]]}`,
			},
			wantErr: core.ErrInvalidBoundary,
		},
		{
			name:    "wrong geometry type",
			creator: admin,
			input:   core.NeighborhoodInput{Name: "Poblacion", Boundary: `{"type":"Point","coordinates":[121.0,14.5]}`},
			wantErr: core.ErrInvalidBoundary,
		},
		{
			name:    "latitude out of range",
			creator: admin,
			input: core.NeighborhoodInput{
				Name:     "Poblacion",
				Boundary: `{"type":"Polygon","coordinates":[[[0,0],[0,95],[1,95],[0,0]]]}`,
			},
			wantErr: core.ErrInvalidBoundary,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			storage := NewFakeStorage()
			svc := NewNeighborhoodService(storage, zerolog.Nop())

			// Act
			n, err := svc.Create(context.Background(), test.creator, test.input)

			// Assert
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Create() error = %v, want %v", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() unexpected error: %v", err)
			}
			if n.ID == "" || n.CreatedBy != test.creator.ID {
				t.Errorf("Create() = %+v, want id assigned and CreatedBy %q", n, test.creator.ID)
			}
			list, _ := svc.List(context.Background())
			if len(list) != 1 {
				t.Errorf("List() returned %d neighborhoods, want 1", len(list))
			}
		})
	}
}

// Requirement: storage failures surface wrapped.
func TestNeighborhoodService_CreateStorageError(t *testing.T) {
	storage := NewFakeStorage()
	boom := errors.New("disk full")
	storage.SetError("CreateNeighborhood", boom)
	svc := NewNeighborhoodService(storage, zerolog.Nop())

	_, err := svc.Create(context.Background(), &core.Identity{ID: "a1", IsAdmin: true},
		core.NeighborhoodInput{Name: "Poblacion", Boundary: squareBoundary})

	if !errors.Is(err, boom) {
		t.Errorf("Create() error = %v, want wrapped %v", err, boom)
	}
}
