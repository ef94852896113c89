package lifecycle_test

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scannerbot/internal/lifecycle"
	"scannerbot/internal/logging"
)

func TestStateShutdownIsMonotone(t *testing.T) {
	var st lifecycle.State
	st.SetWatch(true)
	require.True(t, st.Active())

	require.True(t, st.BeginShutdown())
	require.False(t, st.BeginShutdown())
	require.False(t, st.WatchEnabled())

	st.SetWatch(true)
	require.False(t, st.WatchEnabled(), "watch cannot be re-enabled after shutdown")
	require.True(t, st.ShuttingDown())
}

func TestRegistryDoubleStartKeepsSingleEntry(t *testing.T) {
	reg := lifecycle.NewRegistry()
	ctx := context.Background()
	var runs atomic.Int32
	block := func(ctx context.Context) {
		runs.Add(1)
		<-ctx.Done()
	}

	require.True(t, reg.Start(ctx, lifecycle.TaskWatcher, block))
	require.False(t, reg.Start(ctx, lifecycle.TaskWatcher, block))
	require.Equal(t, []lifecycle.TaskKind{lifecycle.TaskWatcher}, reg.Kinds())

	require.NoError(t, reg.Stop(ctx, lifecycle.TaskWatcher))
	require.Empty(t, reg.Kinds())
	require.Equal(t, int32(1), runs.Load())
}

func TestRegistryReplacesFinishedTask(t *testing.T) {
	reg := lifecycle.NewRegistry()
	ctx := context.Background()
	require.True(t, reg.Start(ctx, lifecycle.TaskRecorder, func(context.Context) {}))
	require.Eventually(t, func() bool { return !reg.Live(lifecycle.TaskRecorder) }, time.Second, 5*time.Millisecond)
	require.True(t, reg.Registered(lifecycle.TaskRecorder))

	require.True(t, reg.Start(ctx, lifecycle.TaskRecorder, func(ctx context.Context) { <-ctx.Done() }))
	require.True(t, reg.Live(lifecycle.TaskRecorder))
	require.NoError(t, reg.Drain(ctx))
	require.False(t, reg.Registered(lifecycle.TaskRecorder))
}

func TestRegistryStopHonoursDeadline(t *testing.T) {
	reg := lifecycle.NewRegistry()
	release := make(chan struct{})
	defer close(release)
	reg.Start(context.Background(), lifecycle.TaskWatcher, func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, reg.Stop(ctx, lifecycle.TaskWatcher), context.DeadlineExceeded)
}

func TestShutdownRunsTeardownOnceForConcurrentCallers(t *testing.T) {
	var st lifecycle.State
	var calls atomic.Int32
	coord := lifecycle.NewCoordinator(&st, func(context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	}, logging.NewNop())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, coord.Shutdown(context.Background(), i))
			select {
			case <-coord.Done():
			default:
				t.Error("Shutdown returned before teardown finished")
			}
		}()
	}
	coord.Interrupt(syscall.SIGINT)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.True(t, st.ShuttingDown())
}

func TestWatchUsesSignalNumberAsExitCode(t *testing.T) {
	var st lifecycle.State
	coord := lifecycle.NewCoordinator(&st, nil, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Watch(ctx, syscall.SIGUSR1)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case <-coord.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	require.Equal(t, int(syscall.SIGUSR1), coord.ExitCode())
}
