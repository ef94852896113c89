package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"scannerbot/internal/config"
)

var queueSeq atomic.Int64

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories and queue
// names per test. Queue names are host-global, so each call gets its own pair.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.AudioDir = filepath.Join(base, "audio")
	cfgVal.Paths.TranscriptDir = filepath.Join(base, "transcripts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Catalog.Path = filepath.Join(base, "db", "info.db")
	cfgVal.Recorder.Binary = filepath.Join(base, "bin", "recorder")
	cfgVal.Recorder.CaptureScript = filepath.Join(base, "bin", "recorder.sh")
	cfgVal.Handoff.TranscriberScript = filepath.Join(base, "bin", "transcriber.py")
	cfgVal.Handoff.PublisherScript = filepath.Join(base, "bin", "publisher.py")
	cfgVal.Devices.MonitorSDR = false

	seq := queueSeq.Add(1)
	cfgVal.Channel.BusQueue = fmt.Sprintf("/sbtest_bus_%d_%d", os.Getpid(), seq)
	cfgVal.Channel.RecorderQueue = fmt.Sprintf("/sbtest_rec_%d_%d", os.Getpid(), seq)

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRadioDefault seeds one remembered recorder option.
func WithRadioDefault(key, value string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Radio.Defaults == nil {
			b.cfg.Radio.Defaults = map[string]string{}
		}
		b.cfg.Radio.Defaults[key] = value
	}
}

// WithCatalogDisabled turns off the audio catalog.
func WithCatalogDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Catalog.Enabled = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default scannerbot external
// programs are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3", "rtl_fm", "sox"}
		}
		binDir := filepath.Join(b.baseDir, "stubs")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.AudioDir)
}
