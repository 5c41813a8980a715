// Package queue is the durable offline action queue. Actions are replayed
// strictly in submission order, one at a time.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/store"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/transport"
)

const (
	defaultBackoffInitial = 2 * time.Second
	defaultBackoffMax     = 2 * time.Minute
	defaultDrainInterval  = 30 * time.Second
)

type Queue struct {
	cache *store.Cache
	opts  Options

	mu        sync.Mutex
	items     []*models.QueuedAction
	exec      Executor
	listener  Listener
	bo        *backoff.ExponentialBackOff
	notBefore time.Time

	draining atomic.Bool
	wake     chan struct{}
}

// New loads persisted actions from cache and returns the queue. Actions are
// replayed in the order they were enqueued, across restarts.
func New(cache *store.Cache, opts Options) (*Queue, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = transport.IsRetryable
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = defaultDrainInterval
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = defaultBackoffInitial
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = defaultBackoffMax
	}
	if opts.Backoff.Multiplier < 1 {
		opts.Backoff.Multiplier = 2
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.Backoff.Initial
	bo.MaxInterval = opts.Backoff.Max
	bo.Multiplier = opts.Backoff.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	q := &Queue{cache: cache, opts: opts, bo: bo, wake: make(chan struct{}, 1)}
	items, err := cache.Actions()
	if err != nil {
		return nil, fmt.Errorf("load queued actions: %w", err)
	}
	q.items = items
	if len(items) > 0 {
		logger.Info("queue_restored", "actions", len(items))
	}
	q.opts.Metrics.SetQueueDepth(len(items))
	return q, nil
}

// Bind sets the executor and listener. It must be called before Process.
func (q *Queue) Bind(exec Executor, l Listener) {
	q.mu.Lock()
	q.exec = exec
	q.listener = l
	q.mu.Unlock()
}

// Enqueue appends the action and persists it. Missing ids, timestamps and
// attempt budgets are filled in. An action that already used its whole
// budget is refused with ErrExhausted.
func (q *Queue) Enqueue(a *models.QueuedAction) (string, error) {
	if a.ID == "" {
		a.ID = models.NewActionID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.opts.Now()
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = q.maxAttempts(a.Kind)
	}
	if a.Attempts >= a.MaxAttempts {
		return "", fmt.Errorf("%w: %s after %d of %d", ErrExhausted, a.Kind, a.Attempts, a.MaxAttempts)
	}
	stored := a.Clone()
	if err := q.cache.SaveAction(&stored); err != nil {
		logger.Error("queue_persist_failed", "action", a.ID, "kind", a.Kind, "error", err)
		return "", err
	}

	q.mu.Lock()
	q.items = append(q.items, &stored)
	n := len(q.items)
	q.mu.Unlock()

	q.opts.Metrics.SetQueueDepth(n)
	logger.Debug("queue_enqueued", "action", a.ID, "kind", a.Kind, "conversation", a.ConversationID, "attempts", a.Attempts)
	q.Notify()
	return a.ID, nil
}

// Notify wakes Run for an early drain pass.
func (q *Queue) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns copies of the queued actions in replay order.
func (q *Queue) Pending() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, len(q.items))
	for i, a := range q.items {
		out[i] = a.Clone()
	}
	return out
}

// Cancel removes an action; it reports whether it was queued.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	ok := q.removeLocked(id)
	n := len(q.items)
	q.mu.Unlock()
	if ok {
		q.opts.Metrics.SetQueueDepth(n)
		logger.Debug("queue_cancelled", "action", id)
	}
	return ok
}

// CancelForClient removes every action tied to a local message id.
func (q *Queue) CancelForClient(clientID string) int {
	if clientID == "" {
		return 0
	}
	q.mu.Lock()
	var ids []string
	for _, a := range q.items {
		if a.ClientID == clientID {
			ids = append(ids, a.ID)
		}
	}
	for _, id := range ids {
		q.removeLocked(id)
	}
	n := len(q.items)
	q.mu.Unlock()
	q.opts.Metrics.SetQueueDepth(n)
	return len(ids)
}

// HasClient reports whether an action for the local message id is queued.
func (q *Queue) HasClient(clientID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.items {
		if a.ClientID == clientID {
			return true
		}
	}
	return false
}

func (q *Queue) containsLocked(id string) bool {
	for _, a := range q.items {
		if a.ID == id {
			return true
		}
	}
	return false
}

// removeLocked drops the action from memory and storage; q.mu must be held.
func (q *Queue) removeLocked(id string) bool {
	for i, a := range q.items {
		if a.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			if err := q.cache.DeleteAction(id); err != nil {
				logger.Error("queue_delete_failed", "action", id, "error", err)
			}
			return true
		}
	}
	return false
}

func (q *Queue) maxAttempts(kind models.ActionKind) int {
	if n := q.opts.MaxAttempts[kind]; n > 0 {
		return n
	}
	if n := DefaultMaxAttempts[kind]; n > 0 {
		return n
	}
	return 1
}
