// Package queue implements an in-memory work queue that runs tasks sharing a
// key strictly in submission order while tasks under different keys run in
// parallel. It is used to push attendance rows to external spreadsheets
// without holding up the HTTP response.
//
// Nothing here is durable: queued work is lost when the process exits, and
// there is no way to cancel an item once it has been admitted.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultKey is the lane used when Enqueue is called without a key. Everything
// enqueued under it is globally ordered.
const DefaultKey = "__default__"

var (
	ErrQueueFull = errors.New("queue full")
	ErrNilTask   = errors.New("nil task")
)

// Task is one unit of work. A returned error (or a panic) counts as a failed attempt.
type Task func(ctx context.Context) error

// Callbacks are invoked once per item after it finally succeeds or fails.
// Panics raised by a callback are recovered and logged.
type Callbacks struct {
	OnSuccess func()
	OnFailure func(error)
}

type item struct {
	task    Task
	label   string
	key     string
	retries int
	cb      Callbacks
}

type lane struct {
	items []*item
}

// Stats is a point-in-time snapshot used for health reporting.
type Stats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Lanes     int `json:"lanes"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type Keyed struct {
	name        string
	concurrency int
	maxSize     int
	retries     int
	retryDelay  time.Duration
	taskTimeout time.Duration
	log         *zap.Logger

	mu        sync.Mutex
	lanes     map[string]*lane
	order     []string // lane keys in creation order; the scan order
	active    map[string]struct{}
	pending   int // admitted and not yet finished, including in-flight and backing-off items
	processed int
	failed    int
	idle      chan struct{}
	idleShut  bool
}

func New(name string, opts ...Option) *Keyed {
	q := &Keyed{
		name:        name,
		concurrency: DefaultConcurrency,
		maxSize:     DefaultMaxSize,
		retries:     DefaultRetries,
		retryDelay:  DefaultRetryDelay,
		log:         zap.NewNop(),
		lanes:       make(map[string]*lane),
		active:      make(map[string]struct{}),
		idle:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.With(zap.String("queue", name))
	close(q.idle)
	q.idleShut = true
	return q
}

func (q *Keyed) Name() string { return q.name }

// Enqueue admits task into the lane for key and returns immediately. When the
// queue is at capacity the item is rejected: OnFailure receives ErrQueueFull
// synchronously and Enqueue returns false without touching queue state.
func (q *Keyed) Enqueue(task Task, label, key string, cb Callbacks) bool {
	if key == "" {
		key = DefaultKey
	}
	if task == nil {
		q.notifyFailure(label, cb, errors.Wrapf(ErrNilTask, "enqueue %s", label))
		return false
	}

	q.mu.Lock()
	if q.pending >= q.maxSize {
		pending := q.pending
		q.mu.Unlock()
		q.log.Warn("queue full, rejecting task",
			zap.String("label", label), zap.String("key", key), zap.Int("pending", pending))
		q.notifyFailure(label, cb, errors.Wrapf(ErrQueueFull, "enqueue %s", label))
		return false
	}

	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
		q.order = append(q.order, key)
	}
	l.items = append(l.items, &item{task: task, label: label, key: key, cb: cb})
	q.pending++
	if q.idleShut {
		q.idle = make(chan struct{})
		q.idleShut = false
	}
	q.pumpLocked()
	q.mu.Unlock()
	return true
}

// pumpLocked starts a drain loop for every waiting lane while slots remain.
func (q *Keyed) pumpLocked() {
	for _, key := range q.order {
		if len(q.active) >= q.concurrency {
			return
		}
		if _, busy := q.active[key]; busy {
			continue
		}
		l := q.lanes[key]
		if len(l.items) == 0 {
			continue
		}
		q.active[key] = struct{}{}
		go q.drain(key, l)
	}
}

// drain owns lane l until it is empty, including items appended while it runs.
func (q *Keyed) drain(key string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.items) == 0 {
			q.removeLaneLocked(key)
			delete(q.active, key)
			q.pumpLocked()
			if q.pending == 0 && len(q.active) == 0 && !q.idleShut {
				close(q.idle)
				q.idleShut = true
			}
			q.mu.Unlock()
			return
		}
		it := l.items[0]
		l.items[0] = nil
		l.items = l.items[1:]
		q.mu.Unlock()

		q.process(l, it)
	}
}

func (q *Keyed) process(l *lane, it *item) {
	err := q.run(it)
	if err == nil {
		q.mu.Lock()
		q.pending--
		q.processed++
		q.mu.Unlock()
		if it.cb.OnSuccess != nil {
			q.guard(it.label, "OnSuccess", it.cb.OnSuccess)
		}
		return
	}

	if it.retries < q.retries {
		it.retries++
		delay := Backoff(q.retryDelay, it.retries)
		q.log.Warn("task failed, retrying",
			zap.String("label", it.label), zap.String("key", it.key),
			zap.Int("attempt", it.retries), zap.Duration("backoff", delay), zap.Error(err))
		time.Sleep(delay)

		// Back at the front so later siblings keep waiting behind it.
		q.mu.Lock()
		l.items = append([]*item{it}, l.items...)
		q.mu.Unlock()
		return
	}

	q.mu.Lock()
	q.pending--
	q.failed++
	q.mu.Unlock()
	q.log.Error("task failed permanently",
		zap.String("label", it.label), zap.String("key", it.key),
		zap.Int("retries", it.retries), zap.Error(err))
	q.notifyFailure(it.label, it.cb, err)
}

func (q *Keyed) run(it *item) (err error) {
	ctx := context.Background()
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", it.label, r)
		}
	}()
	return it.task(ctx)
}

func (q *Keyed) notifyFailure(label string, cb Callbacks, err error) {
	if cb.OnFailure == nil {
		return
	}
	q.guard(label, "OnFailure", func() { cb.OnFailure(err) })
}

func (q *Keyed) guard(label, which string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("callback panicked",
				zap.String("label", label), zap.String("callback", which), zap.Any("panic", r))
		}
	}()
	fn()
}

func (q *Keyed) removeLaneLocked(key string) {
	delete(q.lanes, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *Keyed) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    q.pending,
		Active:    len(q.active),
		Lanes:     len(q.lanes),
		Processed: q.processed,
		Failed:    q.failed,
	}
}

// Wait blocks until every admitted item has finished or ctx is done. It does
// not stop new work from being enqueued.
func (q *Keyed) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// base, 2*base, 4*base, ...
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(int64(1)<<uint(attempt-1))
}
