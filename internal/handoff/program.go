// Package handoff passes completed files to external programs such as the
// transcriber and the publisher. Programs are started with the file's
// absolute path as their only argument, their output is discarded, and they
// are reaped in the background rather than awaited.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"scannerbot/internal/logging"
)

// Launcher starts a process and returns a function that waits for it.
type Launcher interface {
	Launch(binary string, args []string) (wait func() error, err error)
}

// Option configures a Program.
type Option func(*Program)

// WithLauncher injects a custom launcher (primarily for tests).
func WithLauncher(l Launcher) Option {
	return func(p *Program) {
		if l != nil {
			p.launcher = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Program) { p.logger = logger }
}

// Stats counts launches.
type Stats struct {
	Launched int64
	Failed   int64
	Exited   int64
}

// Program is one external hand-off target.
type Program struct {
	name        string
	interpreter string
	script      string
	launcher    Launcher
	logger      *slog.Logger

	inflight sync.WaitGroup
	launched atomic.Int64
	failed   atomic.Int64
	exited   atomic.Int64
}

// NewProgram describes `<interpreter> <script> <path>`. An empty
// interpreter runs the script directly.
func NewProgram(name, interpreter, script string, opts ...Option) *Program {
	p := &Program{
		name:        name,
		interpreter: interpreter,
		script:      script,
		launcher:    execLauncher{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "handoff").With(logging.String("program", name))
	return p
}

// Name identifies the program in logs and status output.
func (p *Program) Name() string { return p.name }

// Handoff launches the program for path and returns once it has started.
func (p *Program) Handoff(_ context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%s: resolve %q: %w", p.name, path, err)
	}
	if p.script == "" {
		p.logger.Debug("hand-off skipped; no script configured", logging.String(logging.FieldPath, abs))
		return nil
	}

	binary, args := p.script, []string{abs}
	if p.interpreter != "" {
		binary, args = p.interpreter, []string{p.script, abs}
	}
	wait, err := p.launcher.Launch(binary, args)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("%s: launch for %s: %w", p.name, abs, err)
	}
	p.launched.Add(1)
	p.logger.Info("file handed off", logging.String(logging.FieldPath, abs), logging.Event("handoff_launched"))

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		err := wait()
		p.exited.Add(1)
		if err != nil {
			logging.WarnWithContext(p.logger, "hand-off program failed", "handoff_failed",
				logging.String(logging.FieldPath, abs),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file was not processed downstream"),
				logging.String(logging.FieldErrorHint, "run the script by hand with this path to see its output"),
			)
			return
		}
		p.logger.Debug("hand-off program finished", logging.String(logging.FieldPath, abs))
	}()
	return nil
}

// Wait blocks until every launched program has been reaped or ctx is done.
func (p *Program) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns launch counters.
func (p *Program) Stats() Stats {
	return Stats{Launched: p.launched.Load(), Failed: p.failed.Load(), Exited: p.exited.Load()}
}

type execLauncher struct{}

func (execLauncher) Launch(binary string, args []string) (func() error, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	// Output goes to /dev/null; the programs log on their own.
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}
