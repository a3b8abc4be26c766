package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// EnvDSN names the variable that points the suites at an existing database.
const EnvDSN = "OFFERFLOW_TEST_PG_DSN"

// ErrNoDatabase means neither Docker nor a local server was reachable.
var ErrNoDatabase = errors.New("infra: no postgres available")

// Origin records where a test database came from.
type Origin string

const (
	OriginShared    Origin = "shared"
	OriginContainer Origin = "container"
	OriginLocal     Origin = "local"
)

// Database is a provisioned PostgreSQL instance.
type Database struct {
	DSN    string
	Origin Origin

	container *postgres.PostgresContainer
}

// Shared reports whether other runs may use the same database, in which case
// callers isolate themselves in a per-run schema.
func (d *Database) Shared() bool {
	return d.Origin == OriginShared
}

// Close terminates the container, if this run started one.
func (d *Database) Close(ctx context.Context) error {
	if d == nil || d.container == nil {
		return nil
	}
	return d.container.Terminate(ctx)
}

// Provision returns the first usable database in order: dsn, $OFFERFLOW_TEST_PG_DSN,
// a postgres:16 container when Docker answers, then a fresh database on a local
// server. It returns ErrNoDatabase when none of those work.
func Provision(ctx context.Context, dsn string) (*Database, error) {
	if dsn == "" {
		dsn = os.Getenv(EnvDSN)
	}
	if dsn != "" {
		return &Database{DSN: dsn, Origin: OriginShared}, nil
	}

	if dockerAvailable(ctx) {
		return startContainer(ctx)
	}

	local, err := createLocalDatabase(ctx, "offerflow_stress")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDatabase, err)
	}
	return &Database{DSN: local, Origin: OriginLocal}, nil
}

func startContainer(ctx context.Context) (*Database, error) {
	c, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("offerflow"),
		postgres.WithUsername("offerflow"),
		postgres.WithPassword("offerflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("infra: start container: %w", err)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("infra: container dsn: %w", err)
	}
	return &Database{DSN: dsn, Origin: OriginContainer, container: c}, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "docker", "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}
