package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"scannerbot/internal/logging"
)

// TeardownFunc releases everything the process owns. It runs exactly once.
type TeardownFunc func(ctx context.Context) error

// Coordinator funnels operator quits and signals into a single teardown.
type Coordinator struct {
	state    *State
	teardown TeardownFunc
	logger   *slog.Logger

	once sync.Once
	done chan struct{}
	code atomic.Int32
	err  error
}

// NewCoordinator builds a coordinator over state.
func NewCoordinator(state *State, teardown TeardownFunc, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		state:    state,
		teardown: teardown,
		logger:   logging.NewComponentLogger(logger, "lifecycle"),
		done:     make(chan struct{}),
	}
}

// Shutdown sets the shutdown flag and runs teardown. The first caller's
// code wins; concurrent callers block until teardown has finished.
func (c *Coordinator) Shutdown(ctx context.Context, code int) error {
	c.once.Do(func() {
		c.state.BeginShutdown()
		c.code.Store(int32(code))
		c.logger.Info("shutting down", logging.Int("exit_code", code), logging.Event("shutdown_begin"))
		if c.teardown != nil {
			c.err = c.teardown(context.WithoutCancel(ctx))
		}
		if c.err != nil {
			logging.ErrorWithContext(c.logger, "teardown incomplete", "shutdown_error", logging.Error(c.err))
		}
		close(c.done)
	})
	<-c.done
	return c.err
}

// Done is closed once teardown has completed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// ExitCode is the code passed by the first Shutdown caller.
func (c *Coordinator) ExitCode() int { return int(c.code.Load()) }

// Watch subscribes to sigs and triggers Shutdown with the signal number as
// exit code. Signal delivery only enqueues; the shutdown itself runs on an
// ordinary goroutine. Watching ends when ctx is done or shutdown completes.
func (c *Coordinator) Watch(ctx context.Context, sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)
	go func() {
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			c.Interrupt(sig)
		case <-ctx.Done():
		case <-c.done:
		}
	}()
}

// Interrupt handles sig as if it had been delivered to the process.
func (c *Coordinator) Interrupt(sig os.Signal) {
	code := 1
	if s, ok := sig.(syscall.Signal); ok {
		code = int(s)
	}
	c.logger.Info("signal received", logging.String("signal", sig.String()), logging.Event("signal_received"))
	_ = c.Shutdown(context.Background(), code)
}
