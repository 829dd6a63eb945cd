package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentinel/internal/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	maxQueryLimit = 1000
)

// ErrUnknownDriver marks an unsupported storage driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Repository persists events and alerts and serves the most recent ones.
type Repository interface {
	InsertEvents(ctx context.Context, events []model.Event) error
	InsertAlerts(ctx context.Context, alerts []model.Alert) error
	LatestEvents(ctx context.Context, limit int) ([]model.Event, error)
	LatestAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and parameterizes a storage driver.
type Options struct {
	Driver string
	// DSN overrides the composed connection string when set.
	DSN            string
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	SSLMode        string
	MemoryCapacity int
}

// Open builds the repository for opts.Driver and migrates its schema.
// Params: ctx for connection checks; opts driver settings.
// Returns: ready repository or open error.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverPostgres:
		s, err := OpenPostgres(ctx, postgresDSN(opts))
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, opts.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", DriverMemory:
		return NewMemoryStore(opts.MemoryCapacity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// postgresDSN composes a lib/pq key/value connection string with every value quoted.
// Params: opts connection fields.
// Returns: DSN string.
func postgresDSN(opts Options) string {
	if strings.TrimSpace(opts.DSN) != "" {
		return opts.DSN
	}
	sslMode := opts.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	pairs := []struct{ key, value string }{
		{"host", opts.Host},
		{"port", strconv.Itoa(opts.Port)},
		{"user", opts.User},
		{"password", opts.Password},
		{"dbname", opts.Name},
		{"sslmode", sslMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		parts = append(parts, pair.key+"='"+dsnEscaper.Replace(pair.value)+"'")
	}
	return strings.Join(parts, " ")
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// ClampLimit bounds a requested row count to 1..1000.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
