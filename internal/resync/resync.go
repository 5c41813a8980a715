// Package resync periodically refreshes the local cache from the server and
// drains the offline queue on a cron schedule.
package resync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/logger"
	"github.com/tiffinwaleofficial/student-app-sub001/pkg/queue"
)

type Syncer interface {
	LoadConversations(ctx context.Context) error
	FetchMessages(ctx context.Context, convID string) error
	Online() bool
}

type Drainer interface {
	Process(ctx context.Context) (queue.DrainResult, error)
}

type Options struct {
	Cron string
	// Conversations lists the conversations whose first page is refreshed,
	// typically the subscribed ones.
	Conversations func() []string
	Now           func() time.Time
}

type Manager struct {
	opts    Options
	syncer  Syncer
	drainer Drainer

	mu      sync.Mutex
	running bool
	runs    int
}

func New(opts Options, s Syncer, d Drainer) (*Manager, error) {
	if !gronx.New().IsValid(opts.Cron) {
		return nil, fmt.Errorf("resync: invalid cron expression %q", opts.Cron)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Conversations == nil {
		opts.Conversations = func() []string { return nil }
	}
	return &Manager{opts: opts, syncer: s, drainer: d}, nil
}

// Start runs the schedule until the returned cancel function is called or
// ctx is done.
func (m *Manager) Start(ctx context.Context) context.CancelFunc {
	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("resync_enabled", "cron", m.opts.Cron)
	go m.scheduleLoop(ctx2)
	return cancel
}

// Runs reports how many passes have completed.
func (m *Manager) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.opts.Cron, m.opts.Now(), false)
		if err != nil {
			logger.Error("resync_nexttick_failed", "cron", m.opts.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		t := time.NewTimer(time.Until(next))
		select {
		case <-t.C:
			m.runJob(ctx)
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (m *Manager) runJob(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if err := m.RunOnce(ctx); err != nil {
		logger.Error("resync_run_error", "error", err)
	}
}

// RunOnce refreshes conversations and the first message page of each listed
// conversation, then drains the queue. Offline passes are skipped.
func (m *Manager) RunOnce(ctx context.Context) error {
	if !m.syncer.Online() {
		logger.Debug("resync_skipped_offline")
		return nil
	}
	started := m.opts.Now()
	var errs []error
	if err := m.syncer.LoadConversations(ctx); err != nil {
		errs = append(errs, err)
	}
	refreshed := 0
	for _, id := range m.opts.Conversations() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.syncer.FetchMessages(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("conversation %s: %w", id, err))
			continue
		}
		refreshed++
	}
	res, err := m.drainer.Process(ctx)
	if err != nil && !errors.Is(err, queue.ErrDrainInProgress) {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	logger.Info("resync_run_done", "conversations", refreshed, "sent", res.Succeeded,
		"retried", res.Retried, "failed", res.Failed, "took", m.opts.Now().Sub(started))
	return errors.Join(errs...)
}
