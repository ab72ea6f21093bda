package queue

import "time"

// QueueConfig sizes a queue and its failure handling.
type QueueConfig struct {
	Workers              int
	BufferSize           int
	RetryPolicy          RetryPolicy
	CircuitBreakerConfig CircuitBreakerConfig
	// ShutdownTimeout bounds the drain after the context is cancelled.
	ShutdownTimeout time.Duration
	// ProcessingTimeout bounds each message processed during the drain.
	ProcessingTimeout time.Duration
}

// CircuitBreakerConfig opens the breaker after FailureThreshold consecutive
// failures and probes again after Timeout.
type CircuitBreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
}

// DefaultQueueConfig suits a single remote sink on a small board.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:           1,
		BufferSize:        100,
		RetryPolicy:       DefaultRetryPolicy(),
		ShutdownTimeout:   10 * time.Second,
		ProcessingTimeout: 5 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			FailureThreshold: 5,
			Timeout:          time.Minute,
		},
	}
}

// QueueStats is a snapshot of a queue.
type QueueStats struct {
	QueueSize           int                 `json:"queue_size"`
	RetryQueueSize      int                 `json:"retry_queue_size"`
	CircuitBreakerState CircuitBreakerState `json:"circuit_breaker_state"`
	Workers             int                 `json:"workers"`
	Processed           int64               `json:"processed"`
	Failed              int64               `json:"failed"`
	Dropped             int64               `json:"dropped"`
}
