package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-dispatch-go/config"
	"mail-dispatch-go/internal/syncer"
)

func testScheduler(sendCalls, syncCalls *int) *Scheduler {
	cfg := config.SchedulerConfig{SendIntervalMinutes: 1, SyncIntervalMinutes: 5}
	send := func() (int, int, error) {
		*sendCalls++
		return 1, 0, nil
	}
	sync := func() (*syncer.Result, error) {
		*syncCalls++
		return &syncer.Result{Fetched: 2, Created: 2}, nil
	}
	return NewScheduler(cfg, send, sync)
}

func TestSchedulerStartStop(t *testing.T) {
	var sendCalls, syncCalls int
	s := testScheduler(&sendCalls, &syncCalls)

	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	// Starting twice is rejected
	assert.Error(t, s.Start())

	assert.False(t, s.NextSend().IsZero())
	assert.False(t, s.NextSync().IsZero())

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	// Stopping a stopped scheduler is a no-op
	assert.NoError(t, s.Stop())
}

func TestSchedulerManualTriggers(t *testing.T) {
	var sendCalls, syncCalls int
	s := testScheduler(&sendCalls, &syncCalls)

	sent, failed, err := s.RunSendOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Equal(t, 1, sendCalls)

	res, err := s.RunSyncOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, syncCalls)
}

func TestSchedulerNextRunsZeroWhenStopped(t *testing.T) {
	var sendCalls, syncCalls int
	s := testScheduler(&sendCalls, &syncCalls)

	assert.True(t, s.NextSend().IsZero())
	assert.True(t, s.NextSync().IsZero())
}
