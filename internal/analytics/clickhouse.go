package analytics

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/affbridge/affbridge/internal/models"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Analytics wraps a ClickHouse connection used as a long-retention sink for
// click events. The primary store keeps the counters; this keeps the raw
// stream for reporting.
type Analytics struct {
	DB *sql.DB
}

// InitClickHouse connects to ClickHouse and ensures the events table exists.
func InitClickHouse(dsn string) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS click_events (
       id             UUID,
       timestamp      DateTime,
       slug           String,
       ip             String,
       user_agent     String,
       referer        String,
       device         String,
       valid          UInt8,
       invalid_reason String
   ) ENGINE=MergeTree() ORDER BY (slug, timestamp)`
	if _, err := db.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: db}, nil
}

// RecordClickEvent inserts one click event row.
func (a *Analytics) RecordClickEvent(ctx context.Context, rec models.ClickRecord) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	valid := uint8(0)
	if rec.Valid {
		valid = 1
	}
	stmt := `INSERT INTO click_events (id, timestamp, slug, ip, user_agent, referer, device, valid, invalid_reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt,
		uuid.New(), rec.At, rec.Slug, rec.IP, rec.UserAgent, rec.Referer, rec.Device, valid, rec.InvalidReason); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("slug", rec.Slug))
		return fmt.Errorf("insert click event: %w", err)
	}
	return nil
}

// Close shuts down the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
