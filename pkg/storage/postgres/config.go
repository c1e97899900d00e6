package postgres

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool defaults applied to zero-valued Config fields.
const (
	DefaultMaxConns        int32 = 10
	DefaultMinConns        int32 = 1
	DefaultMaxConnLifetime       = 30 * time.Minute
)

// Config holds the connection settings of the store.
type Config struct {
	// DSN is a libpq connection string or URL, for example
	// "postgres://verlauf:secret@db:5432/verlauf?sslmode=require".
	DSN string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration

	// MigrateOnStart applies the embedded migrations in New.
	MigrateOnStart bool
}

// poolConfig parses the DSN and applies the pool limits, falling back to
// the package defaults.
func (c Config) poolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	pc.MaxConns = cmp.Or(c.MaxConns, DefaultMaxConns)
	pc.MinConns = cmp.Or(c.MinConns, DefaultMinConns)
	pc.MaxConnLifetime = cmp.Or(c.MaxConnLifetime, DefaultMaxConnLifetime)
	return pc, nil
}
