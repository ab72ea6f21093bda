// Package recorder polls the local sensors on a schedule and stores what
// they read.
package recorder

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
	"github.com/anibaldeboni/zero-paper/sensorhub/store"
)

// Poller is satisfied by *sensor.Poller.
type Poller interface {
	Poll(ctx context.Context) sensor.Snapshot
}

// Publisher receives every interval snapshot, typically the telemetry hub.
type Publisher interface {
	Publish(snap sensor.Snapshot)
}

// Interval records a full snapshot every Every.
type Interval struct {
	Poller    Poller
	Store     store.TimeSeriesStore
	Publisher Publisher
	Every     time.Duration
	Logger    *zap.Logger
}

// Run records until ctx is cancelled.
func (r *Interval) Run(ctx context.Context) error {
	logger := orNop(r.Logger)
	logger.Info("starting interval recording", zap.Duration("interval", r.Every))

	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("interval recording stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RecordOnce(ctx); err != nil {
				logger.Error("interval record failed", zap.Error(err))
			}
		}
	}
}

// RecordOnce polls, stores and publishes one snapshot.
func (r *Interval) RecordOnce(ctx context.Context) (sensor.Snapshot, error) {
	snap := r.Poller.Poll(ctx)
	if snap.IsZero() {
		orNop(r.Logger).Debug("no sensor values to record")
		return snap, nil
	}
	if r.Store != nil {
		if err := r.Store.RecordInterval(ctx, snap); err != nil {
			return snap, err
		}
		observability.ReadingsRecorded.WithLabelValues("interval").Inc()
	}
	if r.Publisher != nil {
		r.Publisher.Publish(snap)
	}
	return snap, nil
}

// Trigger records single values that moved by at least their variance since
// they were last recorded. Fields without a variance are ignored.
type Trigger struct {
	Poller    Poller
	Store     store.TimeSeriesStore
	Variances map[string]float64
	Every     time.Duration
	Logger    *zap.Logger

	last map[string]float64
}

func (t *Trigger) Run(ctx context.Context) error {
	logger := orNop(t.Logger)
	logger.Info("starting trigger recording", zap.Duration("check_interval", t.Every), zap.Int("fields", len(t.Variances)))

	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("trigger recording stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := t.Check(ctx, t.Poller.Poll(ctx)); err != nil {
				logger.Error("trigger record failed", zap.Error(err))
			}
		}
	}
}

// Check records the fields of snap that crossed their variance and returns
// their names. The first value seen for a field is always recorded.
func (t *Trigger) Check(ctx context.Context, snap sensor.Snapshot) ([]string, error) {
	if t.last == nil {
		t.last = make(map[string]float64)
	}

	var recorded []string
	fields := make([]string, 0, len(t.Variances))
	for f := range t.Variances {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		v, ok := snap.Value(field)
		if !ok {
			continue
		}
		prev, seen := t.last[field]
		if seen && math.Abs(v-prev) < t.Variances[field] {
			continue
		}
		if err := t.Store.RecordTrigger(ctx, snap.Time, field, v); err != nil {
			return recorded, err
		}
		t.last[field] = v
		recorded = append(recorded, field)
		observability.ReadingsRecorded.WithLabelValues("trigger").Inc()
	}
	return recorded, nil
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
