package bus_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scannerbot/internal/bus"
	"scannerbot/internal/config"
	"scannerbot/internal/control"
	"scannerbot/internal/logging"
	"scannerbot/internal/supervisor"
	"scannerbot/internal/testsupport"
	"scannerbot/internal/watcher"
)

type pipe struct{ ch chan []byte }

func newPipe() *pipe { return &pipe{ch: make(chan []byte, 10)} }

func (p *pipe) Send(_ context.Context, payload []byte) error {
	select {
	case p.ch <- append([]byte(nil), payload...):
		return nil
	default:
		return errors.New("pipe full")
	}
}

func (p *pipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// peer acknowledges every message like a healthy recorder and keeps a log.
type peer struct {
	mu   sync.Mutex
	seen []string
}

func (p *peer) run(ctx context.Context, in, out *pipe) {
	for {
		raw, err := in.Receive(ctx)
		if err != nil {
			return
		}
		m, err := control.Parse(raw)
		if err != nil {
			continue
		}
		p.mu.Lock()
		p.seen = append(p.seen, m.String())
		p.mu.Unlock()
		payload, _ := control.Ack(m).Encode()
		_ = out.Send(ctx, payload)
	}
}

func (p *peer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

// fakeRecorder tracks spawns without creating processes.
type fakeRecorder struct {
	mu     sync.Mutex
	pid    int
	next   int
	argv   [][]string
	stops  int
	exited chan struct{}
	last   *supervisor.Exit
	err    error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{pid: supervisor.NoPID}
}

func (f *fakeRecorder) Start(_ context.Context, argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return supervisor.NoPID, f.err
	}
	f.next++
	f.pid = 4000 + f.next
	f.argv = append(f.argv, append([]string(nil), argv...))
	f.exited = make(chan struct{})
	return f.pid, nil
}

func (f *fakeRecorder) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pid == supervisor.NoPID {
		return nil
	}
	f.stops++
	select {
	case <-f.exited:
	default:
		f.last = &supervisor.Exit{PID: f.pid, Requested: true}
		close(f.exited)
	}
	f.pid = supervisor.NoPID
	return nil
}

// crash simulates the recorder dying on its own.
func (f *fakeRecorder) crash(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = &supervisor.Exit{PID: f.pid, Code: code}
	close(f.exited)
}

func (f *fakeRecorder) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

func (f *fakeRecorder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pid == supervisor.NoPID {
		return false
	}
	select {
	case <-f.exited:
		return false
	default:
		return true
	}
}

func (f *fakeRecorder) Exited() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exited == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return f.exited
}

func (f *fakeRecorder) LastExit() (supervisor.Exit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return supervisor.Exit{}, false
	}
	return *f.last, true
}

func (f *fakeRecorder) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeRecorder) argvs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.argv...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type recordingHandoff struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingHandoff) Handoff(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingHandoff) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type harness struct {
	t          *testing.T
	cfg        *config.Config
	bus        *bus.Bus
	recorder   *fakeRecorder
	peer       *peer
	out        *syncBuffer
	input      *io.PipeWriter
	audio      *recordingHandoff
	transcript *recordingHandoff
	code       chan int
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Channel.ReplyTimeout = 2

	toRecorder, toBus := newPipe(), newPipe()
	h := &harness{
		t:          t,
		cfg:        cfg,
		recorder:   newFakeRecorder(),
		peer:       &peer{},
		out:        &syncBuffer{},
		audio:      &recordingHandoff{},
		transcript: &recordingHandoff{},
		code:       make(chan int, 1),
	}

	peerCtx, stopPeer := context.WithCancel(context.Background())
	peerDone := make(chan struct{})
	go func() { defer close(peerDone); h.peer.run(peerCtx, toRecorder, toBus) }()
	t.Cleanup(func() { stopPeer(); <-peerDone })

	h.bus = bus.New(cfg,
		bus.WithLogger(logging.NewNop()),
		bus.WithOutput(h.out),
		bus.WithChannel(toRecorder, toBus),
		bus.WithRecorder(h.recorder),
		bus.WithHandoffs(h.audio, h.transcript),
		bus.WithWatcherOptions(watcher.WithInterval(20*time.Millisecond), watcher.WithNotify(false)),
		bus.WithSignals(),
	)
	require.NoError(t, h.bus.Open(context.Background()))
	return h
}

func (h *harness) run() {
	h.t.Helper()
	reader, writer := io.Pipe()
	h.input = writer
	go func() { h.code <- h.bus.Run(context.Background(), reader) }()
	h.t.Cleanup(func() {
		_ = writer.Close()
		select {
		case <-h.code:
		case <-time.After(5 * time.Second):
		}
	})
}

func (h *harness) send(line string) {
	h.t.Helper()
	_, err := io.WriteString(h.input, line+"\n")
	require.NoError(h.t, err)
}

func (h *harness) waitOutput(substr string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return strings.Contains(h.out.String(), substr) },
		3*time.Second, 10*time.Millisecond, "output so far:\n%s", h.out.String())
}

func (h *harness) exitCode() int {
	h.t.Helper()
	select {
	case code := <-h.code:
		h.code <- code
		return code
	case <-time.After(5 * time.Second):
		h.t.Fatal("bus did not exit")
		return -1
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	h.run()
	h.send("launch")
	h.waitOutput("No such option.")
}

func TestTuningBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.run()
	for _, line := range []string{"freq 160.71M", "g 40", "l 10", "stop"} {
		h.send(line)
	}
	require.Eventually(t, func() bool {
		return strings.Count(h.out.String(), "The recorder has not started yet.") == 4
	}, 3*time.Second, 10*time.Millisecond)
	require.Empty(t, h.peer.messages())
}

func TestStartSpawnsRecorderAndSendsOptions(t *testing.T) {
	h := newHarness(t, testsupport.WithRadioDefault("g", "50"))
	h.run()

	h.send("start f 160.71M")
	h.waitOutput("Recorder has PID 4001")
	require.Eventually(t, func() bool {
		msgs := h.peer.messages()
		return len(msgs) == 1 && msgs[0] == "start f 160.71M g 50"
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, [][]string{{"", "-f", "160.71M", "-g", "50"}}, h.recorder.argvs())
	require.True(t, h.bus.State().WatchEnabled())
}

func TestDoubleStartKeepsOneRecorder(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start")
	h.waitOutput("Recorder has PID")
	h.send("s l 20")
	h.waitOutput("Recorder updated.")

	require.Len(t, h.recorder.argvs(), 1)
	require.Eventually(t, func() bool {
		msgs := h.peer.messages()
		return len(msgs) == 2 && msgs[1] == "start l 20"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFrequencyIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start")
	h.waitOutput("Recorder has PID")
	h.send("frequency 155.1M")
	require.Eventually(t, func() bool {
		msgs := h.peer.messages()
		return len(msgs) == 2 && msgs[1] == "freq 155.1M"
	}, 3*time.Second, 10*time.Millisecond)

	v, ok := h.bus.Options().Get("f")
	require.True(t, ok)
	require.Equal(t, "155.1M", v)
	require.NotContains(t, h.out.String(), "did not acknowledge")
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start")
	h.waitOutput("Recorder has PID")
	h.send("stop")
	h.waitOutput("Recorder stopped.")
	h.send("stop")
	h.waitOutput("The recorder has not started yet.")

	require.Equal(t, 1, h.recorder.stopCount())
	require.False(t, h.bus.State().WatchEnabled())
}

func TestOptionsPersistAcrossRestart(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start f 160.71M")
	h.waitOutput("Recorder has PID 4001")
	h.send("gain 30")
	h.send("stop")
	h.waitOutput("Recorder stopped.")
	h.send("start")
	h.waitOutput("Recorder has PID 4002")

	argvs := h.recorder.argvs()
	require.Equal(t, []string{"", "-f", "160.71M", "-g", "30"}, argvs[1])
}

func TestSpawnFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.recorder.err = &supervisor.SpawnError{Path: "/nope/recorder", Err: os.ErrNotExist}
	h.run()

	h.send("start")
	h.waitOutput("Error starting recorder")
	require.False(t, h.bus.State().WatchEnabled())
	require.Empty(t, h.peer.messages())
}

func TestUnexpectedRecorderExitIsReported(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start")
	h.waitOutput("Recorder has PID")
	h.recorder.crash(3)
	h.waitOutput("Recorder exited with status 3")

	h.send("freq 1M")
	h.waitOutput("The recorder has not started yet.")
}

func TestWatcherHandsOffAndCatalogues(t *testing.T) {
	h := newHarness(t)
	clip := filepath.Join(h.cfg.Paths.AudioDir, "call.mp3")
	testsupport.WriteFile(t, clip, 2048)
	testsupport.Age(t, clip, time.Minute)
	text := filepath.Join(h.cfg.Paths.TranscriptDir, "call.txt")
	require.NoError(t, os.WriteFile(text, []byte("units responding to the scene"), 0o644))
	h.run()

	h.send("start f 160.71M")
	require.Eventually(t, func() bool {
		return len(h.audio.got()) == 1 && len(h.transcript.got()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, clip, h.audio.got()[0])

	h.send("status")
	h.waitOutput("1 clips")
	h.waitOutput("1 seen, 1 handed off")
	h.waitOutput("call.mp3 ")
	require.Regexp(t, `clip\s+.*call\.mp3 \d{2}-\d{2}-\d{4} \d{2}:\d{2}:\d{2} 160\.71M`, h.out.String())
}

func TestStatusBeforeStart(t *testing.T) {
	h := newHarness(t, testsupport.WithCatalogDisabled())
	h.run()

	h.send("st")
	h.waitOutput("Recorder")
	out := h.out.String()
	require.Contains(t, out, "stopped")
	require.Contains(t, out, "disabled")
	require.Contains(t, out, "not monitored")
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	h.run()
	h.send("h")
	h.waitOutput("squelch <value>")
	require.Contains(t, h.out.String(), "Begin recording transmissions")
}

func TestQuitTearsDownAndReleasesLock(t *testing.T) {
	h := newHarness(t)
	h.run()

	h.send("start")
	h.waitOutput("Recorder has PID")
	h.send("quit")
	require.Equal(t, 0, h.exitCode())
	require.Equal(t, 1, h.recorder.stopCount())
	require.True(t, h.bus.State().ShuttingDown())

	again := bus.New(h.cfg, bus.WithChannel(newPipe(), newPipe()), bus.WithRecorder(newFakeRecorder()))
	require.NoError(t, again.Open(context.Background()))
	again.Run(context.Background(), strings.NewReader(""))
}

func TestEndOfInputQuits(t *testing.T) {
	h := newHarness(t)
	h.run()
	require.NoError(t, h.input.Close())
	require.Equal(t, 0, h.exitCode())
}

func TestSecondBusIsRefused(t *testing.T) {
	h := newHarness(t)
	other := bus.New(h.cfg, bus.WithChannel(newPipe(), newPipe()), bus.WithRecorder(newFakeRecorder()))
	require.ErrorIs(t, other.Open(context.Background()), bus.ErrAlreadyRunning)
}

func TestInterruptAndQuitTearDownOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rec := newFakeRecorder()
	toRecorder, toBus := newPipe(), newPipe()
	p := &peer{}
	peerCtx, stopPeer := context.WithCancel(context.Background())
	defer stopPeer()
	go p.run(peerCtx, toRecorder, toBus)

	b := bus.New(cfg,
		bus.WithChannel(toRecorder, toBus),
		bus.WithRecorder(rec),
		bus.WithHandoffs(&recordingHandoff{}, &recordingHandoff{}),
		bus.WithSignals(syscall.SIGUSR1),
	)
	require.NoError(t, b.Open(context.Background()))

	reader, writer := io.Pipe()
	code := make(chan int, 1)
	go func() { code <- b.Run(context.Background(), reader) }()

	_, err := io.WriteString(writer, "start\n")
	require.NoError(t, err)
	require.Eventually(t, rec.Running, 3*time.Second, 10*time.Millisecond)

	go func() { _, _ = io.WriteString(writer, "quit\n") }()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case c := <-code:
		require.Contains(t, []int{0, int(syscall.SIGUSR1)}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not exit")
	}
	_ = writer.Close()
	require.Equal(t, 1, rec.stopCount())
}
