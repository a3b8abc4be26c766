package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a provisioned database and a pool bound to the migrated schema.
type Harness struct {
	db       *Database
	pool     *pgxpool.Pool
	teardown func(context.Context) error
}

// NewHarness provisions PostgreSQL and applies the embedded migrations. A shared
// database gets its own schema for the life of the harness.
func NewHarness(ctx context.Context) (*Harness, error) {
	return NewHarnessDSN(ctx, "")
}

// NewHarnessDSN is NewHarness with an explicit DSN taking precedence.
func NewHarnessDSN(ctx context.Context, dsn string) (*Harness, error) {
	db, err := Provision(ctx, dsn)
	if err != nil {
		return nil, err
	}

	pool, teardown, err := ApplyMigrations(ctx, db.DSN, db.Shared())
	if err != nil {
		_ = db.Close(ctx)
		return nil, err
	}
	return &Harness{db: db, pool: pool, teardown: teardown}, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Origin reports where the database came from, for test logs.
func (h *Harness) Origin() Origin {
	return h.db.Origin
}

// Close releases the pool, drops an isolated schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var err error
	if h.teardown != nil {
		err = h.teardown(ctx)
	}
	if cerr := h.db.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// Reset empties the workflow tables between subtests.
func (h *Harness) Reset(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, "TRUNCATE TABLE outbox, engagements, offers, requests CASCADE"); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
