package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scannerbot/internal/catalog"
	"scannerbot/internal/config"
	"scannerbot/internal/control"
	"scannerbot/internal/devices"
	"scannerbot/internal/handoff"
	"scannerbot/internal/lifecycle"
	"scannerbot/internal/logging"
	"scannerbot/internal/mqueue"
	"scannerbot/internal/radio"
	"scannerbot/internal/supervisor"
	"scannerbot/internal/watcher"
)

// ErrAlreadyRunning is returned by Open when another bus holds the lock.
var ErrAlreadyRunning = errors.New("another scannerbot bus is already running")

// Recorder is the supervised recorder process. supervisor.Supervisor
// satisfies it.
type Recorder interface {
	Start(ctx context.Context, argv []string) (int, error)
	Stop(ctx context.Context) error
	PID() int
	Running() bool
	Exited() <-chan struct{}
	LastExit() (supervisor.Exit, bool)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithOutput sets where operator-facing text is written.
func WithOutput(w io.Writer) Option {
	return func(b *Bus) {
		if w != nil {
			b.out = w
		}
	}
}

// WithInteractive enables the banner and prompt.
func WithInteractive(enabled bool) Option {
	return func(b *Bus) { b.interactive = enabled }
}

// WithConfigPath records the config file exported to the recorder.
func WithConfigPath(path string) Option {
	return func(b *Bus) { b.configPath = path }
}

// WithChannel replaces the POSIX queues with the given endpoints. Open then
// creates no queues.
func WithChannel(out control.Sender, in control.Receiver) Option {
	return func(b *Bus) {
		b.sender = out
		b.receiver = in
	}
}

// WithRecorder replaces the recorder supervisor.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// WithHandoffs replaces the transcriber and publisher programs. The catalog
// still records audio when enabled.
func WithHandoffs(audio, transcripts watcher.Handoff) Option {
	return func(b *Bus) {
		b.audioOut = audio
		b.transcriptOut = transcripts
	}
}

// WithWatcherOptions appends options to every watcher the bus builds.
func WithWatcherOptions(opts ...watcher.Option) Option {
	return func(b *Bus) { b.watcherOpts = append(b.watcherOpts, opts...) }
}

// WithSignals handles these signals instead of SIGINT and SIGTERM. An empty
// list disables signal handling.
func WithSignals(sigs ...os.Signal) Option {
	return func(b *Bus) {
		b.signals = sigs
		b.signalsSet = true
	}
}

// Bus is the supervisor process state.
type Bus struct {
	cfg         *config.Config
	configPath  string
	logger      *slog.Logger
	out         io.Writer
	interactive bool
	signals     []os.Signal
	signalsSet  bool

	state    *lifecycle.State
	registry *lifecycle.Registry
	coord    *lifecycle.Coordinator
	options  *radio.Options

	// mu serializes recorder transitions and registry changes with teardown.
	mu       sync.Mutex
	recorder Recorder

	sender   control.Sender
	receiver control.Receiver
	queues   []*mqueue.Queue
	link     *control.Link

	catalog       *catalog.Store
	programs      []*handoff.Program
	audioOut      watcher.Handoff
	transcriptOut watcher.Handoff
	watcherOpts   []watcher.Option
	current       atomic.Pointer[watcher.Watcher]
	devices       *devices.Monitor

	lock        *flock.Flock
	releaseOnce sync.Once
	releaseErr  error

	outMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
}

// New builds a bus for cfg. It has no side effects until Open.
func New(cfg *config.Config, opts ...Option) *Bus {
	b := &Bus{
		cfg:      cfg,
		out:      io.Discard,
		state:    &lifecycle.State{},
		registry: lifecycle.NewRegistry(),
		options:  &radio.Options{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.NewComponentLogger(b.logger, "bus")
	return b
}

// State exposes the shared shutdown and watch flags.
func (b *Bus) State() *lifecycle.State { return b.state }

// Options exposes the remembered radio options.
func (b *Bus) Options() *radio.Options { return b.options }

// Open acquires the instance lock and every resource the bus owns. On
// failure everything already acquired is released.
func (b *Bus) Open(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if relErr := b.release(ctx); relErr != nil {
				b.logger.Warn("release after failed setup", logging.Error(relErr))
			}
		}
	}()

	if err := b.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	b.lock = flock.New(b.cfg.LockPath())
	ok, err := b.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		b.lock = nil
		return ErrAlreadyRunning
	}

	if err := b.options.MergeMap(b.cfg.Radio.Defaults); err != nil {
		return fmt.Errorf("radio defaults: %w", err)
	}

	if b.sender == nil && b.receiver == nil {
		if err := b.openQueues(); err != nil {
			return err
		}
	}
	b.link = control.NewLink(b.sender, b.receiver, b.logger)
	b.link.OnReply(b.onRecorderMessage)

	if b.cfg.Catalog.Enabled {
		store, err := catalog.Open(ctx, b.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		b.catalog = store
	}

	b.buildHandoffs()

	if b.recorder == nil {
		env := append(os.Environ(), config.EnvConfigPath+"="+b.configPath)
		b.recorder = supervisor.New(b.cfg.Recorder.Binary,
			supervisor.WithLogger(b.logger),
			supervisor.WithQuitRequester(b.link, b.cfg.QuitTimeout()),
			supervisor.WithKillGrace(b.cfg.KillGrace()),
			supervisor.WithEnv(env),
		)
	}

	if b.cfg.Devices.MonitorSDR {
		b.devices = devices.NewMonitor(b.cfg.Devices.VendorIDs,
			devices.WithLogger(b.logger),
			devices.WithChangeHandler(b.onDeviceChange),
		)
	}

	b.logger.Info("bus ready",
		logging.Event("bus_ready"),
		logging.String("recorder_queue", b.cfg.Channel.RecorderQueue),
		logging.String("bus_queue", b.cfg.Channel.BusQueue),
		logging.Bool("catalog", b.catalog != nil),
	)
	return nil
}

func (b *Bus) openQueues() error {
	attr := mqueue.Attr{MaxMessages: b.cfg.Channel.MaxMessages, MessageSize: b.cfg.Channel.MessageSize}
	toRecorder, err := mqueue.Create(b.cfg.Channel.RecorderQueue, attr, 0o600)
	if err != nil {
		return fmt.Errorf("create recorder queue %s: %w", b.cfg.Channel.RecorderQueue, err)
	}
	b.queues = append(b.queues, toRecorder)
	toBus, err := mqueue.Create(b.cfg.Channel.BusQueue, attr, 0o600)
	if err != nil {
		return fmt.Errorf("create bus queue %s: %w", b.cfg.Channel.BusQueue, err)
	}
	b.queues = append(b.queues, toBus)
	b.sender, b.receiver = toRecorder, toBus
	return nil
}

func (b *Bus) buildHandoffs() {
	if b.audioOut == nil && b.transcriptOut == nil {
		transcriber := handoff.NewProgram("transcriber", b.cfg.Handoff.Interpreter, b.cfg.Handoff.TranscriberScript,
			handoff.WithLogger(b.logger))
		publisher := handoff.NewProgram("publisher", b.cfg.Handoff.Interpreter, b.cfg.Handoff.PublisherScript,
			handoff.WithLogger(b.logger))
		b.programs = []*handoff.Program{transcriber, publisher}
		b.audioOut, b.transcriptOut = transcriber, publisher
	}
	if b.catalog == nil {
		return
	}
	b.audioOut = watcher.Chain(watcher.HandoffFunc(b.recordAudio), b.audioOut)
	b.transcriptOut = watcher.Chain(watcher.HandoffFunc(b.attachTranscript), b.transcriptOut)
}

func (b *Bus) recordAudio(ctx context.Context, path string) error {
	freq, _ := b.options.Get(radio.KeyFrequency)
	entry, err := b.catalog.RecordAudio(ctx, path, freq)
	if err != nil {
		return err
	}
	b.logger.Debug("audio catalogued",
		logging.String(logging.FieldPath, path),
		logging.Int64("id", entry.ID),
		logging.String("date", entry.Date),
		logging.String("time", entry.Time),
	)
	return nil
}

func (b *Bus) attachTranscript(ctx context.Context, path string) error {
	_, err := b.catalog.AttachTranscript(ctx, path)
	if errors.Is(err, catalog.ErrNotFound) {
		b.logger.Debug("transcript has no catalogued audio", logging.String(logging.FieldPath, path))
		return nil
	}
	return err
}

// release frees what Open acquired, in reverse dependency order. It runs
// at most once.
func (b *Bus) release(ctx context.Context) error {
	b.releaseOnce.Do(func() {
		var errs []error
		for _, q := range b.queues {
			if err := q.Remove(); err != nil {
				errs = append(errs, fmt.Errorf("remove queue %s: %w", q.Name(), err))
			}
		}
		for _, p := range b.programs {
			waitCtx, cancel := context.WithTimeout(ctx, handoffWait)
			if err := p.Wait(waitCtx); err != nil {
				b.logger.Info("hand-off still running at exit",
					logging.String("program", p.Name()),
					logging.Event("handoff_detached"),
				)
			}
			cancel()
		}
		if err := b.catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
		if b.lock != nil {
			if err := b.lock.Unlock(); err != nil {
				errs = append(errs, fmt.Errorf("release lock: %w", err))
			}
		}
		b.releaseErr = errors.Join(errs...)
	})
	return b.releaseErr
}
