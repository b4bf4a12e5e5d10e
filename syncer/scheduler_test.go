package syncer

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coolsheets/truenorth-sync/connectivity"
	"github.com/coolsheets/truenorth-sync/inspection"
)

func waitForResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sync cycle")
		return Result{}
	}
}

func TestSchedulerRunsStartupCycleWhenOnline(t *testing.T) {
	engine, store, monitor := newTestEngine(t, connectivity.Capabilities{}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"ins-1"}`), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Create(ctx, inspection.NewDraft())
	require.NoError(t, err)

	results := make(chan Result, 1)
	cfg := &SchedulerConfig{StartupDelay: 10 * time.Millisecond, Interval: time.Hour}
	sched := NewScheduler(engine, monitor, cfg, func(r Result) { results <- r }, nil)
	go sched.Run(ctx)

	require.Equal(t, Result{Success: 1, Failed: 0}, waitForResult(t, results))
}

func TestSchedulerPushesOnOnlineTransition(t *testing.T) {
	engine, store, monitor := newTestEngine(t, connectivity.Capabilities{}, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"ins-1"}`), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.SetOnline(false)
	_, err := store.Create(ctx, inspection.NewDraft())
	require.NoError(t, err)

	results := make(chan Result, 1)
	cfg := &SchedulerConfig{StartupDelay: time.Hour, Interval: time.Hour}
	sched := NewScheduler(engine, monitor, cfg, func(r Result) { results <- r }, nil)
	go sched.Run(ctx)

	// Give the scheduler a moment to subscribe before flipping the signal.
	time.Sleep(20 * time.Millisecond)
	monitor.SetOnline(true)

	require.Equal(t, Result{Success: 1, Failed: 0}, waitForResult(t, results))
}

func TestSchedulerSkipsStartupCycleWhenOffline(t *testing.T) {
	calls := 0
	engine, store, monitor := newTestEngine(t, connectivity.Capabilities{}, func(r *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusOK, `{"id":"ins-1"}`), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.SetOnline(false)
	_, err := store.Create(ctx, inspection.NewDraft())
	require.NoError(t, err)

	cfg := &SchedulerConfig{StartupDelay: 10 * time.Millisecond, Interval: time.Hour}
	sched := NewScheduler(engine, monitor, cfg, nil, nil)
	go sched.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, calls, "offline startup must not trigger network calls")
}
