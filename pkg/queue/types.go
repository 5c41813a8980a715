package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/models"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/telemetry"
)

// Queue errors
var (
	ErrDrainInProgress = errors.New("offline queue: drain already in progress")
	ErrNotBound        = errors.New("offline queue: no executor bound")

	// ErrExhausted rejects an action that has no attempt left.
	ErrExhausted = errors.New("offline queue: attempts exhausted")
)

// Executor performs one queued action against the remote API and applies the
// result. A nil error removes the action from the queue.
type Executor interface {
	ExecuteAction(ctx context.Context, a models.QueuedAction) error
}

// Listener is told about actions the queue gives up on.
type Listener interface {
	ActionFailed(a models.QueuedAction, err error)
}

type BackoffOptions struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type Options struct {
	// MaxAttempts per action kind; kinds without an entry use DefaultMaxAttempts.
	MaxAttempts   map[models.ActionKind]int
	Backoff       BackoffOptions
	DrainInterval time.Duration
	// Ready gates draining; a queue that is not ready defers without attempting.
	Ready       func() bool
	IsRetryable func(error) bool
	Metrics     *telemetry.Metrics
	Now         func() time.Time
}

// DefaultMaxAttempts is used for kinds missing from Options.MaxAttempts.
var DefaultMaxAttempts = map[models.ActionKind]int{
	models.ActionSendMessage:   3,
	models.ActionDeleteMessage: 5,
	models.ActionMarkRead:      5,
	models.ActionTyping:        1,
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Succeeded int
	Retried   int
	Failed    int
	Expired   int
	// Deferred is set when the pass did not attempt anything because of
	// backoff or readiness.
	Deferred    bool
	NextAttempt time.Time
}
