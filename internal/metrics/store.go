package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const timestampLayout = "2006-01-02 15:04:05"

// MutationMetric records one settled optimistic mutation.
type MutationMetric struct {
	RequestID string
	Kind      string
	Target    string
	Result    string
	ErrorKind string
	LatencyMS int64
	Timestamp time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m MutationMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if m.RequestID == "" {
		m.RequestID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mutation_metrics (request_id, kind, target, result, error_kind, latency_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RequestID, m.Kind, m.Target, m.Result, m.ErrorKind, m.LatencyMS, ts.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mutation metric: %w", err)
	}
	return nil
}

// DailyUsage aggregates one day of mutations.
type DailyUsage struct {
	Date         string
	Total        int
	Committed    int
	RolledBack   int
	AvgLatencyMS float64
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timestampLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT date(timestamp) AS day,
		        COUNT(*),
		        SUM(CASE WHEN result = 'committed' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN result = 'rolled_back' THEN 1 ELSE 0 END),
		        AVG(latency_ms)
		 FROM mutation_metrics
		 WHERE timestamp >= ?
		 GROUP BY day
		 ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var (
			u   DailyUsage
			day sql.NullString
			avg sql.NullFloat64
		)
		if err := rows.Scan(&day, &u.Total, &u.Committed, &u.RolledBack, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		u.Date = "Unknown"
		if day.Valid {
			u.Date = day.String
		}
		if avg.Valid {
			u.AvgLatencyMS = avg.Float64
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(timestampLayout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM mutation_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up mutation metrics: %w", err)
	}
	return res.RowsAffected()
}
