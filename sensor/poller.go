package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller reads every source in turn. Sources share the I2C bus, so they are
// never read concurrently.
type Poller struct {
	sources []Source
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	latency map[string]time.Duration
	last    Snapshot
}

// NewPoller creates a poller over sources. A nil logger discards output.
func NewPoller(logger *zap.Logger, sources ...Source) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		sources: sources,
		logger:  logger,
		now:     time.Now,
		latency: make(map[string]time.Duration),
	}
}

// Poll reads all sources and returns the merged snapshot. Missing sensors
// are skipped silently and failing ones are logged and skipped.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	snap := Snapshot{Time: p.now(), Values: make(map[string]float64)}
	latency := make(map[string]time.Duration, len(p.sources))

	for _, src := range p.sources {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		reading, err := src.Read(ctx)
		took := time.Since(start)

		switch {
		case errors.Is(err, ErrNoSensor):
			continue
		case err != nil:
			p.logger.Warn("sensor read failed", zap.String("source", src.Name()), zap.Error(err))
			continue
		}

		latency[src.Name()] = took
		for field, v := range reading {
			snap.Values[field] = v
		}
	}

	p.mu.Lock()
	p.latency = latency
	p.last = snap
	p.mu.Unlock()

	p.logger.Debug("sensors polled", zap.Int("fields", len(snap.Values)), zap.Int("sources", len(latency)))
	return snap
}

// Latest returns the last polled snapshot.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, !p.last.IsZero()
}

// Latency returns the last read time of each responding source in seconds.
func (p *Poller) Latency() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]float64, len(p.latency))
	for name, d := range p.latency {
		out[name] = d.Seconds()
	}
	return out
}

// Sources returns the configured source names.
func (p *Poller) Sources() []string {
	names := make([]string, 0, len(p.sources))
	for _, s := range p.sources {
		names = append(names, s.Name())
	}
	return names
}
