// Package telemetry forwards sensor snapshots to online services. Each sink
// gets its own rate limit and retry queue so a slow service never holds up
// the others.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anibaldeboni/zero-paper/sensorhub/observability"
	"github.com/anibaldeboni/zero-paper/sensorhub/queue"
	"github.com/anibaldeboni/zero-paper/sensorhub/sensor"
)

const defaultTimeout = 30 * time.Second

// Sink delivers one snapshot to a service.
type Sink interface {
	Name() string
	Send(ctx context.Context, snap sensor.Snapshot) error
}

// HTTPError is a non-2xx reply from a service. Server errors and throttling
// are worth retrying.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode < 600)
}

func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// SinkStats describes one sink's delivery.
type SinkStats struct {
	Name        string           `json:"name"`
	Every       string           `json:"every"`
	RateLimited int64            `json:"rate_limited"`
	Queue       queue.QueueStats `json:"queue"`
}

type route struct {
	sink    Sink
	every   time.Duration
	limiter *rate.Limiter
	queue   *queue.Queue[sensor.Snapshot]
	limited atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// Hub fans snapshots out to the registered sinks.
type Hub struct {
	ctx     context.Context
	config  queue.QueueConfig
	logger  *zap.Logger
	mu      sync.RWMutex
	routes  []*route
	started bool
}

// NewHub creates a hub whose sink queues live as long as ctx.
func NewHub(ctx context.Context, config queue.QueueConfig, opts ...HubOption) *Hub {
	h := &Hub{ctx: ctx, config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add registers s, sending at most once per every. Sinks must be added
// before Start.
func (h *Hub) Add(s Sink, every time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := &route{sink: s, every: every, limiter: rate.NewLimiter(rate.Inf, 1)}
	if every > 0 {
		r.limiter = rate.NewLimiter(rate.Every(every), 1)
	}

	name := s.Name()
	logger := h.logger.With(zap.String("sink", name))
	worker := queue.WorkerFunc[sensor.Snapshot](func(ctx context.Context, msg queue.Message[sensor.Snapshot]) error {
		err := s.Send(ctx, msg.Data)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.TelemetryPublishes.WithLabelValues(name, outcome).Inc()
		return err
	})
	r.queue = queue.NewQueue[sensor.Snapshot](h.ctx, worker, h.config,
		queue.WithLogger[sensor.Snapshot](logger),
		queue.WithDropHandler(func(msg queue.Message[sensor.Snapshot], err error) {
			observability.TelemetryPublishes.WithLabelValues(name, "dropped").Inc()
			logger.Warn("telemetry upload abandoned", zap.Time("taken", msg.Data.Time), zap.Error(err))
		}),
	)

	h.routes = append(h.routes, r)
	h.logger.Info("telemetry sink registered", zap.String("sink", name), zap.Duration("every", every))
}

// Publish offers snap to every sink whose rate allows it. It never blocks.
func (h *Hub) Publish(snap sensor.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, r := range h.routes {
		if !r.limiter.Allow() {
			r.limited.Add(1)
			continue
		}
		if err := r.queue.Enqueue(snap); err != nil {
			h.logger.Warn("telemetry enqueue failed", zap.String("sink", r.sink.Name()), zap.Error(err))
		}
	}
}

// Start runs every sink queue and blocks until the hub context ends and the
// queues have drained.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("telemetry hub already started")
	}
	h.started = true
	routes := append([]*route(nil), h.routes...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(r *route) {
			defer wg.Done()
			_ = r.queue.Start()
		}(r)
	}
	<-h.ctx.Done()
	wg.Wait()
	return h.ctx.Err()
}

// Stats reports every sink in registration order.
func (h *Hub) Stats() []SinkStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]SinkStats, 0, len(h.routes))
	for _, r := range h.routes {
		out = append(out, SinkStats{
			Name:        r.sink.Name(),
			Every:       r.every.String(),
			RateLimited: r.limited.Load(),
			Queue:       r.queue.Stats(),
		})
	}
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
