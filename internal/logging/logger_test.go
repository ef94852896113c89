package logging_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scannerbot/internal/logging"
)

func newBufferLogger(t *testing.T, format, level string) (*bytes.Buffer, func(msg string, attrs ...logging.Attr)) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: format, Level: level, Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return &buf, func(msg string, attrs ...logging.Attr) { logger.Info(msg, logging.Args(attrs...)...) }
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	buf, info := newBufferLogger(t, "console", "info")
	info("recorder started",
		logging.String(logging.FieldComponent, "bus"),
		logging.PID(4242),
		logging.String(logging.FieldPath, "/tmp/a b.mp3"),
	)

	line := buf.String()
	if !strings.Contains(line, "[bus] recorder started") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "pid=4242") || !strings.Contains(line, `path="/tmp/a b.mp3"`) {
		t.Fatalf("unexpected fields in %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	buf, info := newBufferLogger(t, "console", "debug")
	info("message with caller")
	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	buf, info := newBufferLogger(t, "json", "info")
	info("json message", logging.Event("queue_ready"))
	out := buf.String()
	if !strings.Contains(out, `"ts":`) || !strings.Contains(out, `"level":"info"`) {
		t.Fatalf("unexpected json output %s", out)
	}
	if !strings.Contains(out, `"event_type":"queue_ready"`) {
		t.Fatalf("missing event type in %s", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.WarnWithContext(logger, "recorder group already gone", "signal_esrch")
	out := buf.String()
	for _, key := range []string{`"event_type":"signal_esrch"`, `"error_hint":`, `"impact":`} {
		if !strings.Contains(out, key) {
			t.Fatalf("missing %s in %s", key, out)
		}
	}
}

func TestErrorWithContextKeepsCallerHint(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writers: []io.Writer{&buf}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logging.ErrorWithContext(logger, "attach failed", "queue_open_failed",
		logging.Queue("/scannerbot_rec"),
		logging.String(logging.FieldErrorHint, "start scannerbot first"),
	)
	out := buf.String()
	if strings.Count(out, `"error_hint":`) != 1 || !strings.Contains(out, `"error_hint":"start scannerbot first"`) {
		t.Fatalf("caller hint should win over the default: %s", out)
	}
	if !strings.Contains(out, `"queue":"/scannerbot_rec"`) || strings.Contains(out, `"impact":`) {
		t.Fatalf("unexpected fields in %s", out)
	}
}

func TestOpenRunLogWritesPointerAndPrunes(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "scannerbot-20200101T000000.000Z.log")
	if err := os.WriteFile(stale, []byte("old\n"), 0o644); err != nil {
		t.Fatalf("write stale log: %v", err)
	}
	old := time.Now().AddDate(0, 0, -90)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	run, err := logging.OpenRunLog(logging.RunLogOptions{Dir: dir, Prefix: "scannerbot", Level: "info", Format: "console", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("OpenRunLog: %v", err)
	}
	run.Logger.Info("bus ready")
	if n := run.Prune(0, "scannerbot"); n != 0 {
		t.Fatalf("retention 0 should disable pruning, removed %d", n)
	}
	if n := run.Prune(30, "scannerbot"); n != 1 {
		t.Fatalf("expected one stale log pruned, got %d", n)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log to be pruned, stat err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "scannerbot.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if !strings.Contains(string(data), "bus ready") {
		t.Fatalf("pointer does not reach current log: %q", data)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "watcher")
	if logger.Enabled(t.Context(), 0) {
		t.Fatal("nop logger should not be enabled")
	}
}
