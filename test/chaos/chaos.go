package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Monkey injects database faults while actors run against the same pool.
type Monkey struct {
	Pool     *pgxpool.Pool
	Interval time.Duration
	// Hold is how long a stalled request stays row-locked.
	Hold time.Duration

	terminated atomic.Int64
	stalled    atomic.Int64
}

func (m *Monkey) String() string {
	return fmt.Sprintf("terminated=%d stalled=%d", m.terminated.Load(), m.stalled.Load())
}

// Run ticks until ctx ends or stop closes. On each tick it may kill a client
// backend of the current database, or hold a live request's row lock so that
// concurrent writers queue behind it and race once it is released.
func (m *Monkey) Run(ctx context.Context, stop <-chan struct{}) {
	interval := m.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			switch rand.Intn(5) {
			case 0:
				m.terminateBackend(ctx)
			case 1, 2:
				m.stallRequest(ctx)
			}
		}
	}
}

func (m *Monkey) terminateBackend(ctx context.Context) {
	tag, err := m.Pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
		WHERE datname = current_database()
		  AND pid <> pg_backend_pid()
		  AND backend_type = 'client backend'
		ORDER BY random() LIMIT 1`)
	if err == nil && tag.RowsAffected() > 0 {
		m.terminated.Add(1)
	}
}

func (m *Monkey) stallRequest(ctx context.Context) {
	hold := m.Hold
	if hold <= 0 {
		hold = 300 * time.Millisecond
	}
	tx, err := m.Pool.Begin(ctx)
	if err != nil {
		return
	}
	defer tx.Rollback(ctx)

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM requests
		WHERE status IN ('open', 'negotiating')
		ORDER BY random() LIMIT 1
		FOR UPDATE SKIP LOCKED`).Scan(&id)
	if err != nil {
		return
	}
	m.stalled.Add(1)

	select {
	case <-ctx.Done():
	case <-time.After(hold):
	}
}
