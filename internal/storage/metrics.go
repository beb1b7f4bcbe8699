package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MetricEvent is one recorded pipeline measurement.
type MetricEvent struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	DurationMs float64           `json:"duration_ms"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MetricSummary aggregates all events of one type.
type MetricSummary struct {
	Type          string  `json:"type"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
}

// InsertMetric stores one event.
func (d *DB) InsertMetric(ctx context.Context, ev *MetricEvent) error {
	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO metrics (event_type, duration_ms, metadata, created_at) VALUES (?, ?, ?, ?)`,
		ev.Type, ev.DurationMs, string(metadataJSON), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// ListMetrics returns the most recent events, newest first.
func (d *DB) ListMetrics(ctx context.Context, limit int) ([]*MetricEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, event_type, duration_ms, metadata, created_at
		 FROM metrics ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	events := make([]*MetricEvent, 0, limit)
	for rows.Next() {
		var ev MetricEvent
		var metadataJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.DurationMs, &metadataJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// SummarizeMetrics aggregates count, average, and max duration per event type.
func (d *DB) SummarizeMetrics(ctx context.Context) ([]*MetricSummary, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*), AVG(duration_ms), MAX(duration_ms)
		 FROM metrics GROUP BY event_type ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize metrics: %w", err)
	}
	defer rows.Close()

	summaries := make([]*MetricSummary, 0)
	for rows.Next() {
		var s MetricSummary
		if err := rows.Scan(&s.Type, &s.Count, &s.AvgDurationMs, &s.MaxDurationMs); err != nil {
			return nil, err
		}
		summaries = append(summaries, &s)
	}
	return summaries, rows.Err()
}
