// Package metrics records pipeline measurements asynchronously so timing
// writes never sit on the request path.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/storage"
)

// Recorder writes metric events in the background. A failed write is logged
// and dropped; metrics must never fail a query.
type Recorder struct {
	db     *storage.DB
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewRecorder returns a recorder backed by the application database.
func NewRecorder(db *storage.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record stores an event asynchronously, fire-and-forget.
func (r *Recorder) Record(eventType string, duration time.Duration, metadata map[string]string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ev := &storage.MetricEvent{
			Type:       eventType,
			DurationMs: float64(duration.Microseconds()) / 1000.0,
			Metadata:   metadata,
		}
		if err := r.db.InsertMetric(ctx, ev); err != nil {
			r.logger.Warn("failed to record metric", zap.String("type", eventType), zap.Error(err))
		}
	}()
}

// Wait blocks until all in-flight writes finish. Called on shutdown.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
