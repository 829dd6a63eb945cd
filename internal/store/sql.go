package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"sentinel/internal/model"
)

// dialect captures the per-driver SQL differences.
type dialect struct {
	driver     string
	schema     []string
	insertEvt  string
	insertAlrt string
	// sqlite keeps timestamps as unix nanoseconds; postgres uses TIMESTAMPTZ.
	encodeTime func(time.Time) any
}

var postgresDialect = dialect{
	driver: DriverPostgres,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			event_type TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			title TEXT NOT NULL,
			severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			details JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts (severity)`,
	},
	insertEvt:  `INSERT INTO events (event_type, data, created_at) VALUES ($1, $2, $3)`,
	insertAlrt: `INSERT INTO alerts (alert_id, title, severity, details, created_at) VALUES ($1, $2, $3, $4, $5)`,
	encodeTime: func(t time.Time) any { return t.UTC() },
}

var sqliteDialect = dialect{
	driver: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_event_type ON events (event_type)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			title TEXT NOT NULL,
			severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
			details TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts (severity)`,
	},
	insertEvt:  `INSERT INTO events (event_type, data, created_at) VALUES (?, ?, ?)`,
	insertAlrt: `INSERT INTO alerts (alert_id, title, severity, details, created_at) VALUES (?, ?, ?, ?, ?)`,
	encodeTime: func(t time.Time) any { return t.UTC().UnixNano() },
}

// SQLStore persists events and alerts in PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenPostgres connects through lib/pq, checks reachability and migrates.
// Params: ctx for ping; dsn lib/pq connection string.
// Returns: store or connection error.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLStore(ctx, db, postgresDialect)
}

// OpenSQLite opens (or creates) a SQLite database file and migrates.
// Params: ctx for migration; path database file or ":memory:".
// Returns: store or open error.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		path = "sentinel.db"
	}
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite single-writer; also keeps one shared :memory: database.
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sqliteDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates tables and indexes when missing.
func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.driver, err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.driver, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InsertEvents batch-inserts events in one transaction.
// Params: ctx request scope; events to persist.
// Returns: first insert error; nothing is committed on failure.
func (s *SQLStore) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, s.dialect.insertEvt, func(stmt *sql.Stmt) error {
		for _, event := range events {
			data, err := json.Marshal(event.Data)
			if err != nil {
				return fmt.Errorf("marshal event data: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, event.EventType, string(data), s.dialect.encodeTime(event.CreatedAt)); err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

// InsertAlerts batch-inserts alerts in one transaction.
// Params: ctx request scope; alerts to persist.
// Returns: first insert error; nothing is committed on failure.
func (s *SQLStore) InsertAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return s.inTx(ctx, s.dialect.insertAlrt, func(stmt *sql.Stmt) error {
		for _, alert := range alerts {
			details, err := json.Marshal(alert.Details)
			if err != nil {
				return fmt.Errorf("marshal alert details: %w", err)
			}
			if _, err := stmt.ExecContext(
				ctx,
				alert.ID,
				alert.Title,
				string(alert.Severity),
				string(details),
				s.dialect.encodeTime(alert.CreatedAt),
			); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, query string, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestEvents returns up to limit events, newest first.
// Params: ctx request scope; limit clamped to 1..1000.
// Returns: events or query error.
func (s *SQLStore) LatestEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT event_type, data, created_at FROM events ORDER BY created_at DESC, id DESC LIMIT %d`, ClampLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var (
			event   model.Event
			data    []byte
			created any
		)
		if err := rows.Scan(&event.EventType, &data, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &event.Data); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		if event.CreatedAt, err = decodeTime(created); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestAlerts returns up to limit alerts, newest first.
// Params: ctx request scope; limit clamped to 1..1000.
// Returns: alerts or query error.
func (s *SQLStore) LatestAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT alert_id, title, severity, details, created_at FROM alerts ORDER BY created_at DESC, id DESC LIMIT %d`, ClampLimit(limit)))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]model.Alert, 0)
	for rows.Next() {
		var (
			alert    model.Alert
			severity string
			details  []byte
			created  any
		)
		if err := rows.Scan(&alert.ID, &alert.Title, &severity, &details, &created); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Severity = model.Severity(severity)
		if err := json.Unmarshal(details, &alert.Details); err != nil {
			return nil, fmt.Errorf("decode alert details: %w", err)
		}
		if alert.CreatedAt, err = decodeTime(created); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

// decodeTime converts a scanned timestamp column from either dialect.
// Params: raw scanned value.
// Returns: UTC time or decode error.
func decodeTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return time.Unix(0, v).UTC(), nil
	case []byte:
		return parseTimeText(string(v))
	case string:
		return parseTimeText(v)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", raw)
	}
}

func parseTimeText(text string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	return t.UTC(), nil
}
