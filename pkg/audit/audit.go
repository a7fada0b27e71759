// Package audit implements an optional, write-only history sink for
// terminal CommandResults. It is wired into ReplyHub as an additional
// fan-out target: it never feeds back into PendingTracker or queue
// admission, so its absence (no DATABASE_URL configured) changes nothing
// about orchestration behavior.
package audit

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver, used only to run migrations

	"github.com/wcsconnector/core/pkg/model"
)

//go:embed migrations
var migrationsFS embed.FS

// Sink records terminal CommandResults into Postgres via a pooled pgx
// connection. Writes are fire-and-forget from the caller's perspective:
// Record logs and swallows errors rather than propagating them into the
// orchestration hot path.
type Sink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to databaseURL, applies any pending migrations, and
// returns a ready Sink. Callers should defer Close.
func Open(ctx context.Context, databaseURL string) (*Sink, error) {
	if err := migrateUp(databaseURL); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}

	return &Sink{pool: pool, log: slog.With("component", "audit")}, nil
}

func migrateUp(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	if _, err := fs.Stat(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("embedded migrations missing: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "command_history", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Only close the source; closing m would also close db via the
	// postgres driver, and db is shared with nothing else here but we
	// still want the sourceDriver handle released deterministically.
	return sourceDriver.Close()
}

// Record inserts one row for a terminal (or alarm) result. Errors are
// logged, not returned: a reporting sink must never become a reason the
// orchestration core backs up or fails a command.
func (s *Sink) Record(ctx context.Context, res model.CommandResult) {
	if s == nil {
		return
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO command_history
			(command_id, device_id, status, message, started_at, completed_at, plc_error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.CommandID, res.DeviceID, string(res.Status), res.Message, nullableTime(res.StartedAt), nullableTime(res.CompletedAt), res.PlcErrorCode)
	if err != nil {
		s.log.Error("failed to record command history", "command_id", res.CommandID, "error", err)
	}
}

// DeleteOlderThan removes command_history rows recorded before cutoff,
// returning the number of rows removed. Used by pkg/cleanup's retention
// sweep.
func (s *Sink) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM command_history WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: delete old rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Close releases the connection pool.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}
