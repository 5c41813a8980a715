package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
)

// Process drains the queue in FIFO order, awaiting each action before the
// next. The pass stops at the first retryable failure so later actions never
// overtake it; the next pass is then held back by exponential backoff. Only
// one pass runs at a time.
func (q *Queue) Process(ctx context.Context) (DrainResult, error) {
	var res DrainResult
	if !q.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	q.mu.Lock()
	exec, listener := q.exec, q.listener
	gate := q.notBefore
	q.mu.Unlock()
	if exec == nil {
		return res, ErrNotBound
	}
	if q.opts.Ready != nil && !q.opts.Ready() {
		res.Deferred = true
		return res, nil
	}
	if now := q.opts.Now(); now.Before(gate) {
		res.Deferred = true
		res.NextAttempt = gate
		return res, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		head := q.items[0]
		now := q.opts.Now()
		if head.Expired(now) {
			q.removeLocked(head.ID)
			q.mu.Unlock()
			res.Expired++
			q.opts.Metrics.QueueAttempt(string(head.Kind), "expired")
			logger.Debug("queue_action_expired", "action", head.ID, "kind", head.Kind)
			continue
		}
		action := head.Clone()
		q.mu.Unlock()

		err := exec.ExecuteAction(ctx, action)
		if err == nil {
			q.mu.Lock()
			q.removeLocked(action.ID)
			q.bo.Reset()
			q.notBefore = time.Time{}
			q.mu.Unlock()
			res.Succeeded++
			q.opts.Metrics.QueueAttempt(string(action.Kind), "success")
			continue
		}
		if ctx.Err() != nil {
			// cancelled mid-flight; the attempt does not count
			return res, ctx.Err()
		}

		q.mu.Lock()
		if !q.containsLocked(head.ID) {
			// cancelled while in flight
			q.mu.Unlock()
			continue
		}
		head.Attempts++
		head.LastError = err.Error()
		retryable := q.opts.IsRetryable(err)
		if !retryable || head.Exhausted() {
			failed := head.Clone()
			q.removeLocked(head.ID)
			q.mu.Unlock()
			res.Failed++
			q.opts.Metrics.QueueAttempt(string(failed.Kind), "failed")
			logger.Warn("queue_action_failed", "action", failed.ID, "kind", failed.Kind,
				"attempts", failed.Attempts, "max_attempts", failed.MaxAttempts, "retryable", retryable, "error", err)
			if listener != nil {
				listener.ActionFailed(failed, err)
			}
			continue
		}
		delay := q.bo.NextBackOff()
		q.notBefore = now.Add(delay)
		head.NextAttemptAt = q.notBefore
		persisted := head.Clone()
		q.mu.Unlock()

		if perr := q.cache.SaveAction(&persisted); perr != nil {
			logger.Error("queue_persist_failed", "action", persisted.ID, "error", perr)
		}
		res.Retried++
		res.NextAttempt = persisted.NextAttemptAt
		q.opts.Metrics.QueueAttempt(string(persisted.Kind), "retry")
		logger.Info("queue_action_retry", "action", persisted.ID, "kind", persisted.Kind,
			"attempts", persisted.Attempts, "next_attempt_in", delay, "error", err)
		break
	}
	q.opts.Metrics.SetQueueDepth(q.Len())
	return res, nil
}

// Run drains on every wake-up, on the drain interval and when a backoff
// window ends, until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}

		wait := q.opts.DrainInterval
		res, err := q.Process(ctx)
		switch {
		case errors.Is(err, ErrDrainInProgress):
		case err != nil && ctx.Err() == nil:
			logger.Error("queue_drain_failed", "error", err)
		case !res.NextAttempt.IsZero():
			if d := res.NextAttempt.Sub(q.opts.Now()); d > 0 && d < wait {
				wait = d
			} else if d <= 0 {
				wait = time.Millisecond
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
	}
}
