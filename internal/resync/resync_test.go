package resync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffinwaleofficial/student-app-sub001/pkg/queue"
)

type fakeSyncer struct {
	online  bool
	loads   int
	fetched []string
	failOn  string
}

func (f *fakeSyncer) LoadConversations(context.Context) error { f.loads++; return nil }

func (f *fakeSyncer) FetchMessages(_ context.Context, id string) error {
	if id == f.failOn {
		return errors.New("timeout")
	}
	f.fetched = append(f.fetched, id)
	return nil
}

func (f *fakeSyncer) Online() bool { return f.online }

type fakeDrainer struct {
	calls int
	err   error
}

func (f *fakeDrainer) Process(context.Context) (queue.DrainResult, error) {
	f.calls++
	return queue.DrainResult{Succeeded: 2}, f.err
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(Options{Cron: "every minute"}, &fakeSyncer{}, &fakeDrainer{})
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	s := &fakeSyncer{online: true, failOn: "c2"}
	d := &fakeDrainer{err: queue.ErrDrainInProgress}
	m, err := New(Options{Cron: "*/5 * * * *", Conversations: func() []string { return []string{"c1", "c2", "c3"} }}, s, d)
	require.NoError(t, err)

	err = m.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation c2")
	assert.Equal(t, 1, s.loads)
	assert.Equal(t, []string{"c1", "c3"}, s.fetched)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, 1, m.Runs())
}

func TestRunOnceSkipsOffline(t *testing.T) {
	s := &fakeSyncer{}
	d := &fakeDrainer{}
	m, err := New(Options{Cron: "* * * * *"}, s, d)
	require.NoError(t, err)
	require.NoError(t, m.RunOnce(context.Background()))
	assert.Zero(t, s.loads)
	assert.Zero(t, d.calls)
}
