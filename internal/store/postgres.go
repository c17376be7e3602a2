package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending migrations. It is a no-op when the
// schema is already current.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresStore keeps each event as a JSONB document keyed by ID.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection and migrates the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := RunMigrations(databaseURL); err != nil {
		db.Close()
		return nil, err
	}
	appLog.Info("postgres store ready")
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an already-migrated connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.CalendarEvent, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM calendar_events WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CalendarEvent{}, ErrNotFound
	}
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("get event %s: %w", id, err)
	}
	return decodeEvent(doc)
}

func (s *PostgresStore) List(ctx context.Context) ([]model.CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM calendar_events ORDER BY event_date, id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.CalendarEvent, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := decodeEvent(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, ev model.CalendarEvent) error {
	if ev.ID == "" {
		return errors.New("event id is empty")
	}
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, doc, event_date, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET doc = EXCLUDED.doc, event_date = EXCLUDED.event_date, updated_at = now()`,
		ev.ID, doc, ev.Date,
	)
	if err != nil {
		return fmt.Errorf("put event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func decodeEvent(doc []byte) (model.CalendarEvent, error) {
	var ev model.CalendarEvent
	if err := json.Unmarshal(doc, &ev); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
