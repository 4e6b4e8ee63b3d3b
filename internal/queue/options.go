package queue

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultConcurrency = 5
	DefaultMaxSize     = 10000
	DefaultRetries     = 2
	DefaultRetryDelay  = time.Second
)

type Option func(*Keyed)

// WithConcurrency caps how many lanes are serviced at once. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(q *Keyed) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithMaxSize caps the number of admitted but unfinished items across all lanes.
func WithMaxSize(n int) Option {
	return func(q *Keyed) {
		if n > 0 {
			q.maxSize = n
		}
	}
}

// WithRetries sets how many times a failed item is retried. Zero disables retries.
func WithRetries(n int) Option {
	return func(q *Keyed) {
		if n >= 0 {
			q.retries = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(q *Keyed) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

// WithTaskTimeout bounds the context handed to each task attempt. Tasks that
// ignore their context still hold the lane until they return.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Keyed) {
		if d > 0 {
			q.taskTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(q *Keyed) {
		if l != nil {
			q.log = l
		}
	}
}
