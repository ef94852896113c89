package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"scannerbot/internal/control"
	"scannerbot/internal/devices"
	"scannerbot/internal/lifecycle"
	"scannerbot/internal/logging"
	"scannerbot/internal/watcher"
)

const (
	joinTimeout = 10 * time.Second
	handoffWait = 2 * time.Second
)

// Run serves operator commands read from in until quit, end of input, or a
// handled signal, then tears down. It returns the process exit code: 0 after
// quit or end of input, the signal number after a signal, and 1 when a
// background task failed.
func (b *Bus) Run(ctx context.Context, in io.Reader) int {
	b.runCtx, b.runCancel = context.WithCancel(ctx)
	defer b.runCancel()

	b.coord = lifecycle.NewCoordinator(b.state, b.teardown, b.logger)
	if !b.signalsSet {
		b.coord.Watch(b.runCtx)
	} else if len(b.signals) > 0 {
		b.coord.Watch(b.runCtx, b.signals...)
	}

	if b.interactive {
		b.println("Scannerbot is running. Type \"help\" for commands.")
	}

	g, gctx := errgroup.WithContext(b.runCtx)
	g.Go(func() error {
		if err := b.link.Run(gctx); err != nil {
			return fmt.Errorf("reply pump: %w", err)
		}
		return nil
	})
	if b.devices != nil {
		g.Go(func() error {
			if err := b.devices.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			b.devices.Stop()
			return nil
		})
	}
	lines := readLines(in, b.coord.Done())
	g.Go(func() error { return b.commandLoop(gctx, lines) })

	err := g.Wait()
	code := 0
	if err != nil {
		logging.ErrorWithContext(b.logger, "bus task failed", "bus_task_failed", logging.Error(err))
		code = 1
	}
	// No-op when quit or a signal already tore down; the first code wins.
	_ = b.coord.Shutdown(ctx, code)
	return b.coord.ExitCode()
}

// readLines feeds scanned lines to the command loop. The scanning goroutine
// may stay blocked on a terminal read after shutdown; the process exits
// around it.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return ch
}

func (b *Bus) commandLoop(ctx context.Context, lines <-chan string) error {
	for {
		b.prompt()
		select {
		case <-ctx.Done():
			return nil
		case <-b.coord.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				b.logger.Info("input closed", logging.Event("input_closed"))
				_ = b.coord.Shutdown(ctx, 0)
				return nil
			}
			if b.Dispatch(ctx, line) {
				return nil
			}
		}
	}
}

// teardown runs once through the coordinator.
func (b *Bus) teardown(ctx context.Context) error {
	var errs []error

	b.mu.Lock()
	if b.recorder != nil {
		if err := b.recorder.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop recorder: %w", err))
		}
	}
	b.mu.Unlock()

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	if err := b.registry.Drain(joinCtx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	// Stops the reply pump and device monitor; their queues go next.
	if b.runCancel != nil {
		b.runCancel()
	}
	if err := b.release(ctx); err != nil {
		errs = append(errs, err)
	}

	b.logger.Info("bus stopped", logging.Event("bus_stopped"))
	return errors.Join(errs...)
}

// startRecorderTask waits for the recorder to exit and reports exits that
// stop did not ask for.
func (b *Bus) startRecorderTask() {
	exited := b.recorder.Exited()
	b.registry.Start(b.runCtx, lifecycle.TaskRecorder, func(ctx context.Context) {
		select {
		case <-exited:
		case <-ctx.Done():
			return
		}
		exit, ok := b.recorder.LastExit()
		if !ok || exit.Requested {
			return
		}
		logging.WarnWithContext(b.logger, "recorder exited unexpectedly", "recorder_exited",
			logging.PID(exit.PID),
			logging.String("exit", exit.String()),
			logging.String(logging.FieldImpact, "no new audio will be captured"),
			logging.String(logging.FieldErrorHint, "check the recorder log, then run start again"),
		)
		b.printf("Recorder exited with %s\n", exit)
	})
}

func (b *Bus) startWatcherTask() {
	b.registry.Start(b.runCtx, lifecycle.TaskWatcher, func(ctx context.Context) {
		w := watcher.New(b.state, b.rules(), b.watcherOptions()...)
		b.current.Store(w)
		if err := w.Run(ctx); err != nil {
			b.logger.Warn("watcher ended", logging.Error(err))
		}
	})
}

func (b *Bus) rules() []watcher.Rule {
	return []watcher.Rule{
		{
			Name:        "audio",
			Dir:         b.cfg.Paths.AudioDir,
			QuietPeriod: b.cfg.AudioQuiet(),
			MinSize:     int64(b.cfg.Watcher.AudioMinBytes),
			Handoff:     b.audioOut,
		},
		{
			Name:        "transcripts",
			Dir:         b.cfg.Paths.TranscriptDir,
			QuietPeriod: b.cfg.TranscriptQuiet(),
			MinSize:     int64(b.cfg.Watcher.TranscriptMinBytes),
			Handoff:     b.transcriptOut,
		},
	}
}

func (b *Bus) watcherOptions() []watcher.Option {
	opts := []watcher.Option{
		watcher.WithInterval(b.cfg.PollInterval()),
		watcher.WithLogger(b.logger),
		watcher.WithNotify(b.cfg.Watcher.NotifyEvents),
	}
	return append(opts, b.watcherOpts...)
}

// onRecorderMessage handles inbound messages no Request is waiting for.
func (b *Bus) onRecorderMessage(m control.Message) {
	if _, ok := m.Acked(); ok {
		b.logger.Debug("late acknowledgement", logging.String("message", m.String()))
		return
	}
	b.printf("Recorder: %s\n", m)
}

func (b *Bus) onDeviceChange(ev devices.Event) {
	if ev.Action == devices.Detached && b.recorder != nil && b.recorder.Running() {
		logging.WarnWithContext(b.logger, "SDR removed while recording", "sdr_detached_recording",
			logging.String("device", ev.Device),
			logging.Alert("sdr_detached"),
			logging.String(logging.FieldImpact, "capture will fail until the dongle is reattached"),
			logging.String(logging.FieldErrorHint, "reattach the dongle, then stop and start"),
		)
		b.printf("SDR dongle %s was removed while recording.\n", ev.Device)
	}
}
