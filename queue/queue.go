// Package queue is a generic in-process work queue with a worker pool,
// exponential retries and a circuit breaker in front of the worker.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithLogger sets the queue logger. The default discards everything.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(q *Queue[T]) {
		q.logger = logger
	}
}

// WithDropHandler is called for every message given up on, with the last
// error it failed with.
func WithDropHandler[T any](fn func(Message[T], error)) Option[T] {
	return func(q *Queue[T]) {
		q.onDrop = fn
	}
}

// Queue buffers messages for a pool of workers. Failed messages go through a
// delayed retry queue until the retry policy gives up.
type Queue[T any] struct {
	config         QueueConfig
	messages       chan Message[T]
	retryQueue     chan Message[T]
	worker         Worker[T]
	circuitBreaker *CircuitBreaker
	logger         *zap.Logger
	onDrop         func(Message[T], error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closing and the close of messages.
	mu      sync.RWMutex
	closing bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewQueue creates a queue bound to ctx. Workers start with Start.
func NewQueue[T any](ctx context.Context, worker Worker[T], config QueueConfig, opts ...Option[T]) *Queue[T] {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	queueCtx, cancel := context.WithCancel(ctx)

	q := &Queue[T]{
		config:     config,
		messages:   make(chan Message[T], config.BufferSize),
		retryQueue: make(chan Message[T], config.BufferSize),
		worker:     worker,
		circuitBreaker: NewCircuitBreaker(
			config.CircuitBreakerConfig.FailureThreshold,
			config.CircuitBreakerConfig.Timeout,
		),
		logger: zap.NewNop(),
		ctx:    queueCtx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start runs the workers and blocks until the queue context is cancelled and
// the remaining messages are drained or ShutdownTimeout elapses.
func (q *Queue[T]) Start() error {
	q.logger.Info("starting queue", zap.Int("workers", q.config.Workers))

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(i)
	}
	q.wg.Add(1)
	go q.retryLoop()

	<-q.ctx.Done()
	q.beginShutdown()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timeout := q.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-done:
		q.logger.Info("queue drained")
	case <-time.After(timeout):
		q.logger.Warn("queue shutdown timed out", zap.Int("pending", len(q.messages)+len(q.retryQueue)))
	}
	return q.ctx.Err()
}

// Stop cancels the queue context.
func (q *Queue[T]) Stop() { q.cancel() }

// Enqueue adds data without blocking. It fails with ErrQueueFull when the
// buffer is full and ErrQueueClosed once shutdown has begun.
func (q *Queue[T]) Enqueue(data T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closing || q.ctx.Err() != nil {
		return ErrQueueClosed
	}
	select {
	case q.messages <- newMessage(data, q.config.RetryPolicy.MaxRetries):
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue[T]) beginShutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return
	}
	q.closing = true
	close(q.messages)
	q.logger.Info("queue shutting down", zap.Int("pending", len(q.messages)))
}

// workerLoop consumes messages until the channel is closed and empty.
func (q *Queue[T]) workerLoop(workerID int) {
	defer q.wg.Done()

	for msg := range q.messages {
		q.processMessage(msg, workerID)
	}
	q.logger.Debug("worker stopped", zap.Int("worker", workerID))
}

// retryLoop holds failed messages for their backoff delay and feeds them
// back. Once shutdown starts, pending retries get one immediate attempt.
func (q *Queue[T]) retryLoop() {
	defer q.wg.Done()

	for {
		select {
		case msg := <-q.retryQueue:
			q.delayRetry(msg)
		case <-q.ctx.Done():
			q.drainRetries()
			return
		}
	}
}

func (q *Queue[T]) delayRetry(msg Message[T]) {
	delay := q.config.RetryPolicy.CalculateDelay(msg.Attempts)
	q.logger.Debug("retrying message", zap.String("id", msg.ID), zap.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		q.requeue(msg)
	case <-q.ctx.Done():
		q.processMessage(msg, -1)
	}
}

// requeue puts a retried message back on the main channel, or processes it
// inline when shutdown has closed that channel in the meantime.
func (q *Queue[T]) requeue(msg Message[T]) {
	q.mu.RLock()
	if q.closing {
		q.mu.RUnlock()
		q.processMessage(msg, -1)
		return
	}
	select {
	case q.messages <- msg:
		q.mu.RUnlock()
	default:
		q.mu.RUnlock()
		q.drop(msg, ErrQueueFull)
	}
}

func (q *Queue[T]) drainRetries() {
	for {
		select {
		case msg := <-q.retryQueue:
			q.processMessage(msg, -1)
		default:
			return
		}
	}
}

func (q *Queue[T]) processMessage(msg Message[T], workerID int) {
	msg.Attempts++
	msg.LastTry = time.Now()
	shutdown := q.ctx.Err() != nil

	ctx, cancel := q.processingContext(shutdown)
	err := q.circuitBreaker.Call(func() error {
		return q.worker.Process(ctx, msg)
	})
	cancel()

	if err == nil {
		q.processed.Add(1)
		q.logger.Debug("message processed",
			zap.Int("worker", workerID), zap.String("id", msg.ID), zap.Int("attempt", msg.Attempts))
		return
	}

	q.failed.Add(1)
	q.logger.Warn("message failed",
		zap.Int("worker", workerID),
		zap.String("id", msg.ID),
		zap.Int("attempt", msg.Attempts),
		zap.Int("max_tries", msg.MaxTries),
		zap.Bool("shutdown", shutdown),
		zap.Error(err))

	if !q.shouldRetry(msg, err) {
		q.drop(msg, err)
		return
	}
	if q.ctx.Err() != nil {
		q.processMessage(msg, workerID)
		return
	}
	q.scheduleRetry(msg)
}

func (q *Queue[T]) processingContext(shutdown bool) (context.Context, context.CancelFunc) {
	if shutdown {
		timeout := q.config.ProcessingTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(q.ctx)
}

func (q *Queue[T]) shouldRetry(msg Message[T], err error) bool {
	return msg.Attempts < msg.MaxTries &&
		!errors.Is(err, ErrCircuitBreakerOpen) &&
		ShouldRetry(q.ctx, err, msg.Attempts, msg.MaxTries)
}

func (q *Queue[T]) scheduleRetry(msg Message[T]) {
	select {
	case q.retryQueue <- msg:
	default:
		q.drop(msg, ErrQueueFull)
	}
}

func (q *Queue[T]) drop(msg Message[T], err error) {
	q.dropped.Add(1)
	q.logger.Warn("dropping message",
		zap.String("id", msg.ID), zap.Int("attempts", msg.Attempts), zap.Error(err))
	if q.onDrop != nil {
		q.onDrop(msg, err)
	}
}

// Stats snapshots the queue.
func (q *Queue[T]) Stats() QueueStats {
	return QueueStats{
		QueueSize:           len(q.messages),
		RetryQueueSize:      len(q.retryQueue),
		CircuitBreakerState: q.circuitBreaker.State(),
		Workers:             q.config.Workers,
		Processed:           q.processed.Load(),
		Failed:              q.failed.Load(),
		Dropped:             q.dropped.Load(),
	}
}
