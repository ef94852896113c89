package bus_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"scannerbot/internal/bus"
	"scannerbot/internal/logging"
	"scannerbot/internal/mqueue"
	"scannerbot/internal/radio"
	"scannerbot/internal/recorder"
	"scannerbot/internal/supervisor"
	"scannerbot/internal/testsupport"
)

// nullCapture stands in for the capture pipeline behind a real recorder loop.
type nullCapture struct {
	mu   sync.Mutex
	pid  int
	argv []string
}

func (c *nullCapture) Start(_ context.Context, argv []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid = 7000
	c.argv = append([]string(nil), argv...)
	return c.pid, nil
}

func (c *nullCapture) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid = supervisor.NoPID
	return nil
}

func (c *nullCapture) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pid == 0 {
		return supervisor.NoPID
	}
	return c.pid
}

func (c *nullCapture) lastArgv() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.argv...)
}

// openOrSkip opens b, skipping when the sandbox has no POSIX message queues.
func openOrSkip(t *testing.T, b *bus.Bus) {
	t.Helper()
	err := b.Open(context.Background())
	if errors.Is(err, mqueue.ErrUnsupported) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		t.Skipf("posix message queues unavailable: %v", err)
	}
	require.NoError(t, err)
}

func TestRecorderLoopOverRealQueues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Channel.ReplyTimeout = 2
	rec := newFakeRecorder()
	out := &syncBuffer{}

	b := bus.New(cfg,
		bus.WithLogger(logging.NewNop()),
		bus.WithOutput(out),
		bus.WithRecorder(rec),
		bus.WithHandoffs(&recordingHandoff{}, &recordingHandoff{}),
		bus.WithSignals(syscall.SIGUSR2),
	)
	openOrSkip(t, b)

	// The recorder side attaches to the queues the bus created.
	in, err := mqueue.Open(cfg.Channel.RecorderQueue)
	require.NoError(t, err)
	defer in.Close()
	back, err := mqueue.Open(cfg.Channel.BusQueue)
	require.NoError(t, err)
	defer back.Close()

	capture := &nullCapture{}
	options := &radio.Options{}
	loop := recorder.New(in, back, capture, options, recorder.WithLogger(logging.NewNop()))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()
	defer func() { stopLoop(); <-loopDone }()

	reader, writer := io.Pipe()
	defer writer.Close()
	code := make(chan int, 1)
	go func() { code <- b.Run(context.Background(), reader) }()

	_, err = io.WriteString(writer, "start\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return loop.Handled() == 1 }, 3*time.Second, 10*time.Millisecond)

	sent := time.Now()
	_, err = io.WriteString(writer, "freq 160.71M\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return loop.Handled() == 2 }, cfg.ReplyTimeout(), 10*time.Millisecond)
	require.Less(t, time.Since(sent), cfg.ReplyTimeout())

	v, ok := options.Get(radio.KeyFrequency)
	require.True(t, ok)
	require.Equal(t, "160.71M", v)
	require.Contains(t, capture.lastArgv(), "160.71M")
	require.Never(t, func() bool { return strings.Contains(out.String(), "did not acknowledge") },
		200*time.Millisecond, 20*time.Millisecond)

	go func() { _, _ = io.WriteString(writer, "quit\n") }()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))

	select {
	case c := <-code:
		require.Contains(t, []int{0, int(syscall.SIGUSR2)}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("bus did not exit")
	}
	require.Equal(t, 1, rec.stopCount())

	for _, name := range []string{cfg.Channel.RecorderQueue, cfg.Channel.BusQueue} {
		q, err := mqueue.Open(name)
		if err == nil {
			_ = q.Remove()
		}
		require.ErrorIs(t, err, unix.ENOENT, "queue %s outlived the bus", name)
	}
}
