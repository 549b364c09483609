package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error
}

type service struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 UUID PRIMARY KEY,
	order_number       TEXT NOT NULL UNIQUE,
	customer_name      TEXT NOT NULL CHECK (customer_name <> ''),
	phone              TEXT NOT NULL CHECK (phone <> ''),
	email              TEXT NOT NULL CHECK (email <> ''),
	address            TEXT NOT NULL DEFAULT '',
	payment_method     TEXT NOT NULL,
	items              JSONB NOT NULL,
	total              NUMERIC NOT NULL,
	status             TEXT NOT NULL DEFAULT 'new',
	order_date         TIMESTAMPTZ NOT NULL,
	accepted_at        TIMESTAMPTZ,
	estimated_delivery TIMESTAMPTZ,
	device             JSONB,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_status_order_date_idx ON orders (status, order_date);
-- total must keep the exact sum of the line items, whatever their scale.
ALTER TABLE orders ALTER COLUMN total TYPE NUMERIC;
`

// NewPostgres opens a pool through the pgx stdlib driver and pings it.
func NewPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Migrate creates the orders table when it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func New(db *sql.DB) Service {
	return &service{db: db}
}

// Health checks the health of the database connection by pinging the database.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 20 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}
	return stats
}

func (s *service) Close() error {
	return s.db.Close()
}

// memoryService reports health for the in-process store.
type memoryService struct{}

func NewMemory() Service { return memoryService{} }

func (memoryService) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (memoryService) Close() error { return nil }
