package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/example/driver-console/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresJournal{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (p *PostgresJournal) Append(ctx context.Context, rec models.LifecycleRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO lifecycle_journal(event_id, driver_id, type, phase, request_id, trip_id, fare, occurred_at)
		VALUES($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8) ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.DriverID, rec.Type, rec.Phase, rec.RequestID, rec.TripID, rec.Fare, rec.At)
	return err
}

func (p *PostgresJournal) Recent(ctx context.Context, driverID string, limit int) ([]models.LifecycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT event_id, driver_id, type, phase, COALESCE(request_id,''), COALESCE(trip_id,''), COALESCE(fare,0), occurred_at
		FROM lifecycle_journal WHERE driver_id=$1 ORDER BY occurred_at DESC LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.LifecycleRecord
	for rows.Next() {
		var r models.LifecycleRecord
		if err := rows.Scan(&r.EventID, &r.DriverID, &r.Type, &r.Phase, &r.RequestID, &r.TripID, &r.Fare, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresJournal) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresJournal) Close() error { return p.db.Close() }
