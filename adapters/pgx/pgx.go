package pgx

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lborres/kapitbahay/core"
)

// Adapter implements core.Storage on a pgx connection pool
type Adapter struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

var _ core.Storage = (*Adapter)(nil)

func New(pool *pgxpool.Pool, log zerolog.Logger) *Adapter {
	return &Adapter{
		pool: pool,
		log:  log,
	}
}

// Pool exposes the underlying pool, e.g. for health checks
func (a *Adapter) Pool() *pgxpool.Pool {
	return a.pool
}

const (
	uniqueViolation       = "23505"
	invalidParameterValue = "22023"
	// PostGIS reports unparseable GeoJSON as an internal error
	internalError = "XX000"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == uniqueViolation
}

func isGeometryError(err error) bool {
	code := pgCode(err)
	return code == invalidParameterValue || code == internalError
}
