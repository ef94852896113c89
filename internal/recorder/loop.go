package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"scannerbot/internal/control"
	"scannerbot/internal/logging"
	"scannerbot/internal/radio"
	"scannerbot/internal/supervisor"
)

const defaultStopTimeout = 10 * time.Second

// Capture is the supervised capture pipeline. supervisor.Supervisor
// satisfies it.
type Capture interface {
	Start(ctx context.Context, argv []string) (int, error)
	Stop(ctx context.Context) error
	PID() int
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithArgv0 sets argv[0] for capture spawns.
func WithArgv0(name string) Option {
	return func(l *Loop) { l.argv0 = name }
}

// WithStopTimeout bounds how long stopping the capture may take once the
// loop is cancelled.
func WithStopTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.stopTimeout = d
		}
	}
}

// Loop handles control messages for one recorder process.
type Loop struct {
	link        *control.Link
	capture     Capture
	options     *radio.Options
	argv0       string
	stopTimeout time.Duration
	logger      *slog.Logger

	handled atomic.Int64
	quit    atomic.Bool
}

// New builds a loop reading commands from in and acknowledging on out.
// options holds the initial radio settings and is updated in place.
func New(in control.Receiver, out control.Sender, capture Capture, options *radio.Options, opts ...Option) *Loop {
	l := &Loop{
		capture:     capture,
		options:     options,
		stopTimeout: defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.options == nil {
		l.options = &radio.Options{}
	}
	l.logger = logging.NewComponentLogger(l.logger, "recorder")
	l.link = control.NewLink(out, in, l.logger)
	return l
}

// Run serves commands until quit is received, ctx is cancelled, or the
// inbound endpoint fails. The capture pipeline is always stopped before
// Run returns.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.link.OnReply(func(m control.Message) {
		if l.handle(ctx, m) {
			cancel()
		}
	})
	l.logger.Info("recorder watching control channel", logging.Event("recorder_ready"))

	err := l.link.Run(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), l.stopTimeout)
	defer stopCancel()
	if stopErr := l.capture.Stop(stopCtx); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("stop capture: %w", stopErr))
	}
	return err
}

// QuitRequested reports whether the loop ended because the bus sent quit.
func (l *Loop) QuitRequested() bool { return l.quit.Load() }

// Handled counts accepted commands.
func (l *Loop) Handled() int64 { return l.handled.Load() }

// Faults counts inbound messages dropped as malformed.
func (l *Loop) Faults() int64 { return l.link.Faults() }

// handle applies one message and reports whether the loop should end.
func (l *Loop) handle(ctx context.Context, m control.Message) bool {
	logger := l.logger.With(logging.String(logging.FieldVerb, string(m.Verb)))

	switch m.Verb {
	case control.VerbStart:
		if err := l.options.Merge(m.Args); err != nil {
			logging.WarnWithContext(logger, "radio options skipped", "protocol_fault",
				logging.Error(err),
				logging.String(logging.FieldImpact, "remaining options applied"),
				logging.String(logging.FieldErrorHint, "valid keys are f g s r l M"),
			)
		}
		if err := l.respawn(ctx, logger); err != nil {
			return false
		}

	case control.VerbFreq, control.VerbGain, control.VerbSquelch:
		key, _ := radio.KeyForVerb(string(m.Verb))
		if err := l.options.Set(key, m.Args[0]); err != nil {
			logging.WarnWithContext(logger, "radio option rejected", "protocol_fault",
				logging.Error(err),
				logging.String(logging.FieldImpact, "capture settings unchanged"),
			)
			return false
		}
		// Before the first start the value is only remembered.
		if l.capture.PID() != supervisor.NoPID {
			if err := l.respawn(ctx, logger); err != nil {
				return false
			}
		}

	case control.VerbStop:
		if err := l.stopCapture(ctx); err != nil {
			logger.Error("stop capture failed", logging.Error(err), logging.Event("capture_stop_failed"))
			return false
		}

	case control.VerbQuit:
		if err := l.stopCapture(ctx); err != nil {
			logger.Error("stop capture failed", logging.Error(err), logging.Event("capture_stop_failed"))
		}
		l.quit.Store(true)
		l.ack(ctx, m, logger)
		return true

	default:
		logger.Debug("ignoring message", logging.String("message", m.String()))
		return false
	}

	l.ack(ctx, m, logger)
	return false
}

func (l *Loop) respawn(ctx context.Context, logger *slog.Logger) error {
	argv := l.options.Argv(l.argv0)
	pid, err := l.capture.Start(ctx, argv)
	if err != nil {
		logger.Error("capture spawn failed",
			logging.Error(err),
			logging.Event("capture_spawn_failed"),
			logging.String(logging.FieldErrorHint, "check recorder.capture_script and that rtl_fm and sox are installed"),
		)
		return err
	}
	logger.Info("capture running",
		logging.PID(pid),
		logging.String("options", strings.Join(argv[1:], " ")),
		logging.Event("capture_started"),
	)
	return nil
}

func (l *Loop) stopCapture(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.stopTimeout)
	defer cancel()
	return l.capture.Stop(stopCtx)
}

func (l *Loop) ack(ctx context.Context, m control.Message, logger *slog.Logger) {
	l.handled.Add(1)
	if err := l.link.Send(context.WithoutCancel(ctx), control.Ack(m)); err != nil {
		logging.WarnWithContext(logger, "acknowledgement not delivered", "ack_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "bus may report a timeout"),
		)
	}
}
