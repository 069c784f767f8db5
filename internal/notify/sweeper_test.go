package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub/internal/shared/testutil"
)

func TestSweeper_InvalidSchedule(t *testing.T) {
	h, _ := newTestHub(t, newApps(), time.Second)
	s := NewSweeper(h, "not a schedule", nil)

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.Nil(t, s.NextRun())
}

func TestSweeper_EmptyScheduleDisabled(t *testing.T) {
	h, _ := newTestHub(t, newApps(), time.Second)
	s := NewSweeper(h, "", nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Nil(t, s.NextRun())
	s.Stop()
}

func TestSweeper_StartAndStop(t *testing.T) {
	h, _ := newTestHub(t, newApps(), time.Second)
	logger, logs := testutil.NewTestLogger(t)
	s := NewSweeper(h, "@every 1h", logger)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	next := s.NextRun()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *next, time.Minute)

	cancel()
	require.Eventually(t, func() bool { return s.NextRun() == nil }, waitFor, tick)
	assert.True(t, logs.ContainsMessage("dead worker sweeper stopped"))
}

func TestSweeper_SweepEvictsDeadWorkers(t *testing.T) {
	app := uuid.New()
	h, _ := newTestHub(t, newApps(app), time.Hour)
	ctx := context.Background()

	broken := NewMockCallback()
	broken.SetDeliverFunc(func(int, Delivery) error { return errors.New("rejected") })
	require.NoError(t, h.Register(ctx, app, NotifyOnlyChanges, broken))

	_, err := h.Dispatch(ctx, PolicyChanged{})
	require.NoError(t, err)

	s := NewSweeper(h, "@every 1h", nil)
	require.Eventually(t, func() bool { return s.Sweep(ctx) == 1 }, waitFor, tick)
	assert.Equal(t, 0, h.Len())
}
