package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scannerbot/internal/control"
	"scannerbot/internal/logging"
	"scannerbot/internal/radio"
	"scannerbot/internal/recorder"
	"scannerbot/internal/supervisor"
	"scannerbot/internal/testsupport"
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

func (p *pipe) send(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, p.Send(context.Background(), append([]byte(raw), 0)))
}

func (p *pipe) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case raw := <-p.ch:
		m, err := control.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, want, m.String())
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply, want %q", want)
	}
}

// fakeCapture records spawns without creating processes.
type fakeCapture struct {
	mu     sync.Mutex
	pid    int
	next   int
	starts [][]string
	stops  int
	err    error
}

func (f *fakeCapture) Start(_ context.Context, argv []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return supervisor.NoPID, f.err
	}
	f.next++
	f.pid = 100 + f.next
	f.starts = append(f.starts, append([]string(nil), argv...))
	return f.pid, nil
}

func (f *fakeCapture) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.pid = supervisor.NoPID
	return nil
}

func (f *fakeCapture) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pid <= 0 {
		return supervisor.NoPID
	}
	return f.pid
}

func (f *fakeCapture) lastArgv() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.starts) == 0 {
		return nil
	}
	return f.starts[len(f.starts)-1]
}

type harness struct {
	in, out *pipe
	capture *fakeCapture
	loop    *recorder.Loop
	done    chan error
	cancel  context.CancelFunc
}

func startLoop(t *testing.T, options *radio.Options) *harness {
	t.Helper()
	h := &harness{in: newPipe(), out: newPipe(), capture: &fakeCapture{pid: -1}, done: make(chan error, 1)}
	h.loop = recorder.New(h.in, h.out, h.capture, options,
		recorder.WithLogger(logging.NewNop()),
		recorder.WithArgv0("recorder.sh"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func TestStartMergesOptionsAndSpawnsCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	opts := &radio.Options{}
	require.NoError(t, opts.Set("g", "50"))
	h := startLoop(t, opts)

	h.in.send(t, "start f 160.71M l 25")
	h.out.expect(t, "ack start f 160.71M l 25")

	require.Equal(t, []string{"recorder.sh", "-f", "160.71M", "-g", "50", "-l", "25"}, h.capture.lastArgv())
}

func TestUnknownStartKeysAreSkipped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})

	h.in.send(t, "start x 1 f 99.5M")
	h.out.expect(t, "ack start x 1 f 99.5M")
	require.Equal(t, []string{"recorder.sh", "-f", "99.5M"}, h.capture.lastArgv())
}

func TestFrequencyRespawnsRunningCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})

	h.in.send(t, "start f 160.71M")
	h.out.expect(t, "ack start f 160.71M")
	h.in.send(t, "freq 155.1M")
	h.out.expect(t, "ack freq 155.1M")

	require.Equal(t, []string{"recorder.sh", "-f", "155.1M"}, h.capture.lastArgv())
	h.capture.mu.Lock()
	require.Len(t, h.capture.starts, 2)
	h.capture.mu.Unlock()
}

func TestValueBeforeStartIsOnlyRemembered(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})

	h.in.send(t, "squelch 30")
	h.out.expect(t, "ack squelch 30")
	require.Nil(t, h.capture.lastArgv())

	h.in.send(t, "start")
	h.out.expect(t, "ack start")
	require.Equal(t, []string{"recorder.sh", "-l", "30"}, h.capture.lastArgv())
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})

	h.in.send(t, "freq")
	h.in.send(t, "launch now")
	h.in.send(t, "start f")
	h.in.send(t, "stop")
	h.out.expect(t, "ack stop")

	require.EqualValues(t, 3, h.loop.Faults())
	require.EqualValues(t, 1, h.loop.Handled())
}

func TestSpawnFailureIsNotAcknowledged(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})
	h.capture.mu.Lock()
	h.capture.err = errors.New("exec format error")
	h.capture.mu.Unlock()

	h.in.send(t, "start f 1M")
	h.in.send(t, "stop")
	h.out.expect(t, "ack stop")
}

func TestQuitStopsCaptureAcksAndEnds(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})

	h.in.send(t, "start f 160.71M")
	h.out.expect(t, "ack start f 160.71M")
	h.in.send(t, "quit")
	h.out.expect(t, "ack quit")

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not end after quit")
	}
	require.True(t, h.loop.QuitRequested())
	h.capture.mu.Lock()
	require.GreaterOrEqual(t, h.capture.stops, 1)
	h.capture.mu.Unlock()
}

func TestCancelStopsCapture(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := startLoop(t, &radio.Options{})
	h.in.send(t, "start")
	h.out.expect(t, "ack start")

	h.cancel()
	err := <-h.done
	h.done <- err
	require.NoError(t, err)
	require.False(t, h.loop.QuitRequested())
	require.Equal(t, supervisor.NoPID, h.capture.PID())
}

func TestCaptureScriptReceivesOptionFlags(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	script := testsupport.WriteScript(t, filepath.Join(dir, "recorder.sh"),
		`echo "$@" > `+argsFile+"\nexec sleep 30\n")

	capture := supervisor.New(script,
		supervisor.WithLogger(logging.NewNop()),
		supervisor.WithKillGrace(time.Second),
	)
	in, out := newPipe(), newPipe()
	loop := recorder.New(in, out, capture, &radio.Options{}, recorder.WithArgv0(script))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	in.send(t, "start s 8k f 160.71M")
	out.expect(t, "ack start s 8k f 160.71M")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && strings.TrimSpace(string(data)) == "-f 160.71M -s 8k"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, supervisor.NoPID, capture.PID())
}
