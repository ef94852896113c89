package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EnvConfigPath names the environment variable the bus exports to the
// recorder so both processes load the same file.
const EnvConfigPath = "SCANNERBOT_CONFIG"

// Paths contains directory configuration.
type Paths struct {
	AudioDir      string `toml:"audio_dir"`
	TranscriptDir string `toml:"transcript_dir"`
	LogDir        string `toml:"log_dir"`
}

// Recorder describes the recorder process and its capture script.
type Recorder struct {
	Binary        string `toml:"binary"`
	CaptureScript string `toml:"capture_script"`
	QuitTimeout   int    `toml:"quit_timeout"`
	KillGrace     int    `toml:"kill_grace"`
}

// Channel holds the message queue names and sizing.
type Channel struct {
	BusQueue      string `toml:"bus_queue"`
	RecorderQueue string `toml:"recorder_queue"`
	MaxMessages   int    `toml:"max_messages"`
	MessageSize   int    `toml:"message_size"`
	ReplyTimeout  int    `toml:"reply_timeout"`
}

// Watcher contains polling and completion gating thresholds.
type Watcher struct {
	PollInterval           int  `toml:"poll_interval"`
	AudioQuietSeconds      int  `toml:"audio_quiet_seconds"`
	TranscriptQuietSeconds int  `toml:"transcript_quiet_seconds"`
	AudioMinBytes          int  `toml:"audio_min_bytes"`
	TranscriptMinBytes     int  `toml:"transcript_min_bytes"`
	NotifyEvents           bool `toml:"notify_events"`
}

// Handoff names the external programs that receive completed files.
type Handoff struct {
	Interpreter       string `toml:"interpreter"`
	TranscriberScript string `toml:"transcriber_script"`
	PublisherScript   string `toml:"publisher_script"`
}

// Catalog configures the audio metadata database.
type Catalog struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Devices configures SDR dongle hotplug monitoring.
type Devices struct {
	MonitorSDR bool     `toml:"monitor_sdr"`
	VendorIDs  []string `toml:"vendor_ids"`
}

// Radio seeds the remembered recorder options before the first start.
type Radio struct {
	Defaults map[string]string `toml:"defaults"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for scannerbot.
//
// Sections by subsystem:
//   - Paths: watched directories and logs
//   - Recorder: recorder binary, capture script, stop timing
//   - Channel: control queue names and limits
//   - Watcher: poll cadence and quiet/size gates
//   - Handoff: transcriber and publisher programs
//   - Catalog: sqlite metadata for accepted audio
//   - Devices: udev monitoring for the SDR dongle
//   - Radio: initial recorder option values
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Recorder Recorder `toml:"recorder"`
	Channel  Channel  `toml:"channel"`
	Watcher  Watcher  `toml:"watcher"`
	Handoff  Handoff  `toml:"handoff"`
	Catalog  Catalog  `toml:"catalog"`
	Devices  Devices  `toml:"devices"`
	Radio    Radio    `toml:"radio"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded. The second return value is the
// resolved path and the third reports whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the watched, log, and catalog directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.AudioDir, c.Paths.TranscriptDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Catalog.Enabled {
		if err := os.MkdirAll(filepath.Dir(c.Catalog.Path), 0o755); err != nil {
			return fmt.Errorf("create catalog directory: %w", err)
		}
	}
	return nil
}

// PollInterval returns the watcher tick as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watcher.PollInterval) * time.Second
}

// AudioQuiet returns the quiet period required before an audio file is accepted.
func (c *Config) AudioQuiet() time.Duration {
	return time.Duration(c.Watcher.AudioQuietSeconds) * time.Second
}

// TranscriptQuiet returns the quiet period required before a transcript is accepted.
func (c *Config) TranscriptQuiet() time.Duration {
	return time.Duration(c.Watcher.TranscriptQuietSeconds) * time.Second
}

// QuitTimeout bounds the recorder quit handshake.
func (c *Config) QuitTimeout() time.Duration {
	return time.Duration(c.Recorder.QuitTimeout) * time.Second
}

// KillGrace is how long a signalled process group may take before SIGKILL.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Recorder.KillGrace) * time.Second
}

// ReplyTimeout bounds how long the bus waits for a recorder acknowledgement.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Channel.ReplyTimeout) * time.Second
}

// LockPath is the single-instance lock file; queue names are host-global.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "scannerbot.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
