package pgx

import (
	"context"
	_ "embed"
	"fmt"
)

// EventsChannel is the NOTIFY channel the schema triggers publish on
const EventsChannel = "auth_events"

//go:embed schema.sql
var schema string

// Migrate creates the tables, the resolve_neighborhood function and the
// notify triggers. It is safe to run more than once.
func (a *Adapter) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	a.log.Info().Msg("schema applied")
	return nil
}
