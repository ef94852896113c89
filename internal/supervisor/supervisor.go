package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"scannerbot/internal/logging"
)

// NoPID marks the absence of a tracked child.
const NoPID = -1

const (
	defaultKillGrace = 5 * time.Second
	reapTimeout      = 5 * time.Second
)

// QuitRequester asks a child to exit on its own before it is signalled.
type QuitRequester interface {
	RequestQuit(ctx context.Context) error
}

// SignalFunc delivers sig to pid; a negative pid addresses a process group.
type SignalFunc func(pid int, sig unix.Signal) error

// Exit describes how a child ended.
type Exit struct {
	PID       int
	Code      int
	Signal    string
	Requested bool
	Err       error
}

func (e Exit) String() string {
	if e.Signal != "" {
		return "signal " + e.Signal
	}
	return fmt.Sprintf("status %d", e.Code)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithQuitRequester enables the quit handshake, bounded by timeout.
func WithQuitRequester(q QuitRequester, timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.quit = q
		s.quitTimeout = timeout
	}
}

// WithKillGrace sets the delay between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// WithSignalFunc replaces unix.Kill, mainly for tests.
func WithSignalFunc(fn SignalFunc) Option {
	return func(s *Supervisor) { s.signal = fn }
}

// WithStdio connects the child's output streams.
func WithStdio(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithEnv sets the child's environment; nil inherits ours.
func WithEnv(env []string) Option {
	return func(s *Supervisor) { s.env = env }
}

// WithProcessGroup controls whether the child gets its own group. Enabled by default.
func WithProcessGroup(enabled bool) Option {
	return func(s *Supervisor) { s.group = enabled }
}

// WithParentDeathSignal asks the kernel to send sig to the child when this
// process dies, so a child is not orphaned if we are killed outright.
func WithParentDeathSignal(sig unix.Signal) Option {
	return func(s *Supervisor) { s.deathSignal = syscall.Signal(sig) }
}

// WithExitHandler registers fn for exits that Stop did not cause.
func WithExitHandler(fn func(Exit)) Option {
	return func(s *Supervisor) { s.onExit = fn }
}

// Supervisor owns one child process at a time.
type Supervisor struct {
	path        string
	name        string
	logger      *slog.Logger
	quit        QuitRequester
	quitTimeout time.Duration
	killGrace   time.Duration
	signal      SignalFunc
	stdout      io.Writer
	stderr      io.Writer
	env         []string
	group       bool
	deathSignal syscall.Signal
	onExit      func(Exit)

	// mu serializes Start and Stop and guards current and last.
	mu      sync.Mutex
	current *child
	last    *child
}

// child is one spawned process. exit is written by the reaper before done
// is closed and read only after.
type child struct {
	pid      int
	argv     []string
	done     chan struct{}
	stopping atomic.Bool
	exit     Exit
}

// New returns a supervisor for the binary at path.
func New(path string, opts ...Option) *Supervisor {
	s := &Supervisor{
		path:      path,
		name:      path[strings.LastIndex(path, "/")+1:],
		killGrace: defaultKillGrace,
		signal:    func(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) },
		group:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "supervisor").With(logging.String("program", s.name))
	return s
}

// PID returns the tracked child's pid or NoPID.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return NoPID
	}
	return s.current.pid
}

// Argv returns a copy of the tracked child's argv.
func (s *Supervisor) Argv() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return append([]string(nil), s.current.argv...)
}

// Running reports whether a tracked child has not yet exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !closed(s.current.done)
}

// Exited is closed when the tracked child is reaped. Without a child it
// returns an already-closed channel.
func (s *Supervisor) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.current.done
}

// LastExit returns the exit record of the most recent reaped child.
func (s *Supervisor) LastExit() (Exit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range []*child{s.current, s.last} {
		if c != nil && closed(c.done) {
			return c.exit, true
		}
	}
	return Exit{}, false
}

// Start stops any tracked child, then spawns argv against the configured
// binary. argv[0] is passed through unchanged.
func (s *Supervisor) Start(ctx context.Context, argv []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(ctx); err != nil {
		return NoPID, err
	}

	path := s.path
	if !strings.ContainsRune(path, '/') {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return NoPID, &SpawnError{Path: s.path, Err: err}
		}
		path = resolved
	}
	if len(argv) == 0 {
		argv = []string{path}
	}

	cmd := &exec.Cmd{
		Path:        path,
		Args:        append([]string(nil), argv...),
		Env:         s.env,
		Stdout:      s.stdout,
		Stderr:      s.stderr,
		SysProcAttr: &syscall.SysProcAttr{Setpgid: s.group, Pdeathsig: s.deathSignal},
	}
	if err := cmd.Start(); err != nil {
		s.logger.Error("spawn failed",
			logging.Error(err),
			logging.Event("spawn_failed"),
			logging.String(logging.FieldErrorHint, "check the binary path and permissions"),
		)
		return NoPID, &SpawnError{Path: path, Err: err}
	}

	pid := cmd.Process.Pid
	c := &child{pid: pid, argv: cmd.Args, done: make(chan struct{})}
	s.current = c
	go s.reap(cmd, c)

	s.logger.Info("process started",
		logging.PID(pid),
		logging.Event("process_started"),
		logging.Int("args", len(argv)-1),
	)
	return pid, nil
}

func (s *Supervisor) reap(cmd *exec.Cmd, c *child) {
	err := cmd.Wait()
	exit := Exit{PID: c.pid, Code: -1}
	if state := cmd.ProcessState; state != nil {
		exit.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	exit.Requested = c.stopping.Load()
	c.exit = exit
	close(c.done)

	s.logger.Info("process exited",
		logging.PID(c.pid),
		logging.String("exit", exit.String()),
		logging.Bool("requested", exit.Requested),
		logging.Event("process_exited"),
	)
	if !exit.Requested && s.onExit != nil {
		s.onExit(exit)
	}
}

// Stop tears down the tracked child. Without one it does nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Supervisor) stopLocked(ctx context.Context) error {
	c := s.current
	if c == nil {
		return nil
	}
	pid, done := c.pid, c.done
	c.stopping.Store(true)

	if !closed(done) && s.quit != nil {
		s.requestQuit(ctx, pid, done)
	}

	// The group can outlive its leader when the child left shells behind.
	// Its id is not reused while any member remains, so the group is
	// always signalled. A lone pid is only signalled while unreaped.
	if s.group || !closed(done) {
		if err := s.signalGroup(pid, unix.SIGTERM); err != nil {
			return err
		}
	}
	if !closed(done) {
		grace := time.NewTimer(s.killGrace)
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			logging.WarnWithContext(s.logger, "process ignored SIGTERM; killing", "process_kill",
				logging.PID(pid),
				logging.Duration("grace", s.killGrace),
				logging.String(logging.FieldImpact, "in-progress capture may be truncated"),
			)
			if err := s.signalGroup(pid, unix.SIGKILL); err != nil {
				return err
			}
		}
	}

	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-done:
	case <-reap.C:
		return fmt.Errorf("process %d not reaped within %s", pid, reapTimeout)
	case <-ctx.Done():
		return fmt.Errorf("waiting for process %d: %w", pid, ctx.Err())
	}

	s.last = c
	s.current = nil
	return nil
}

func (s *Supervisor) requestQuit(ctx context.Context, pid int, done <-chan struct{}) {
	timeout := s.quitTimeout
	if timeout <= 0 {
		return
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.quit.RequestQuit(qctx); err != nil {
		s.logger.Info("quit handshake unanswered; signalling",
			logging.PID(pid),
			logging.Error(err),
			logging.Event("quit_unanswered"),
		)
		return
	}
	select {
	case <-done:
	case <-qctx.Done():
	}
}

func (s *Supervisor) signalGroup(pid int, sig unix.Signal) error {
	target := pid
	if s.group {
		target = -pid
	}
	err := s.signal(target, sig)
	switch {
	case err == nil:
		s.logger.Debug("signalled", logging.PID(pid), logging.String("signal", sig.String()))
		return nil
	case errors.Is(err, unix.ESRCH):
		s.logger.Debug("process group already gone",
			logging.PID(pid),
			logging.String("signal", sig.String()),
			logging.Event("signal_esrch"),
		)
		return nil
	default:
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
