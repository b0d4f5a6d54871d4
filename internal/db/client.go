package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB exposes the connection pool for migrations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreReading archives an accepted telemetry reading
func (c *Client) StoreReading(ctx context.Context, r *types.TelemetryReading) error {
	query := `
		INSERT INTO telemetry_readings (
			time, source, session_id, latitude, longitude, rssi, battery
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := c.db.ExecContext(ctx, query,
		r.ReceivedAt, r.Source, r.SessionID, r.Latitude, r.Longitude,
		nullInt(r.RSSI), nullInt(r.Battery),
	)
	return err
}

// GetReadings retrieves archived readings for a time range, newest first
func (c *Client) GetReadings(ctx context.Context, start, end time.Time) ([]*types.TelemetryReading, error) {
	query := `
		SELECT time, source, session_id, latitude, longitude, rssi, battery
		FROM telemetry_readings
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`
	rows, err := c.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*types.TelemetryReading
	for rows.Next() {
		var (
			r       types.TelemetryReading
			rssi    sql.NullInt64
			battery sql.NullInt64
		)
		if err := rows.Scan(
			&r.ReceivedAt, &r.Source, &r.SessionID, &r.Latitude, &r.Longitude,
			&rssi, &battery,
		); err != nil {
			return nil, err
		}
		r.RSSI = intPtr(rssi)
		r.Battery = intPtr(battery)
		readings = append(readings, &r)
	}
	return readings, rows.Err()
}

// StorePipelineStats stores a statistics snapshot
func (c *Client) StorePipelineStats(s *types.PipelineStats) error {
	query := `
		INSERT INTO pipeline_stats (
			time, payloads, decoded, malformed, acks,
			history_appends, archived, archive_failures, alerts,
			processing_time_ms, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.Exec(query,
		s.Time,
		int64(s.Payloads),
		int64(s.Decoded),
		int64(s.Malformed),
		int64(s.Acks),
		int64(s.HistoryAppends),
		int64(s.Archived),
		int64(s.ArchiveFailures),
		int64(s.Alerts),
		s.ProcessingTime.Milliseconds(),
		int64(s.Uptime.Seconds()),
	)
	return err
}

// GetPipelineStats retrieves statistics snapshots for a time range
func (c *Client) GetPipelineStats(start, end time.Time) ([]*types.PipelineStats, error) {
	query := `
		SELECT
			time, payloads, decoded, malformed, acks,
			history_appends, archived, archive_failures, alerts,
			processing_time_ms, uptime_seconds
		FROM pipeline_stats
		WHERE time BETWEEN $1 AND $2
		ORDER BY time DESC
	`
	rows, err := c.db.Query(query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*types.PipelineStats
	for rows.Next() {
		var (
			s                types.PipelineStats
			processingTimeMs int64
			uptimeSeconds    int64
		)
		if err := rows.Scan(
			&s.Time, &s.Payloads, &s.Decoded, &s.Malformed, &s.Acks,
			&s.HistoryAppends, &s.Archived, &s.ArchiveFailures, &s.Alerts,
			&processingTimeMs, &uptimeSeconds,
		); err != nil {
			return nil, err
		}
		s.ProcessingTime = time.Duration(processingTimeMs) * time.Millisecond
		s.Uptime = time.Duration(uptimeSeconds) * time.Second
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// ApplyRetention deletes rows past their retention window and returns the
// number of rows removed.
func (c *Client) ApplyRetention(ctx context.Context) (int64, error) {
	var removed int64
	err := c.db.QueryRowContext(ctx, `SELECT apply_retention()`).Scan(&removed)
	return removed, err
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
