package config

import (
	"errors"
	"fmt"
	"strings"

	"scannerbot/internal/radio"
)

// maxQueueNameLen mirrors NAME_MAX for the mqueue filesystem.
const maxQueueNameLen = 255

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRecorder(); err != nil {
		return err
	}
	if err := c.validateChannel(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateRadio(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.AudioDir == "" {
		return errors.New("paths.audio_dir must be set")
	}
	if c.Paths.TranscriptDir == "" {
		return errors.New("paths.transcript_dir must be set")
	}
	if c.Paths.AudioDir == c.Paths.TranscriptDir {
		return errors.New("paths.audio_dir and paths.transcript_dir must differ")
	}
	return nil
}

func (c *Config) validateRecorder() error {
	if c.Recorder.CaptureScript == "" {
		return errors.New("recorder.capture_script must be set")
	}
	if c.Recorder.QuitTimeout < 0 {
		return errors.New("recorder.quit_timeout must be >= 0")
	}
	if c.Recorder.KillGrace <= 0 {
		return errors.New("recorder.kill_grace must be positive")
	}
	return nil
}

func (c *Config) validateChannel() error {
	for field, name := range map[string]string{
		"channel.bus_queue":      c.Channel.BusQueue,
		"channel.recorder_queue": c.Channel.RecorderQueue,
	} {
		if len(name) < 2 || len(name) > maxQueueNameLen {
			return fmt.Errorf("%s %q has invalid length", field, name)
		}
		if strings.ContainsRune(name[1:], '/') {
			return fmt.Errorf("%s %q must not contain '/' after the leading slash", field, name)
		}
	}
	if c.Channel.BusQueue == c.Channel.RecorderQueue {
		return errors.New("channel.bus_queue and channel.recorder_queue must differ")
	}
	if c.Channel.MaxMessages <= 0 {
		return errors.New("channel.max_messages must be positive")
	}
	if c.Channel.MessageSize < 16 {
		return errors.New("channel.message_size must be at least 16")
	}
	if c.Channel.ReplyTimeout <= 0 {
		return errors.New("channel.reply_timeout must be positive")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if c.Watcher.PollInterval <= 0 {
		return errors.New("watcher.poll_interval must be positive")
	}
	if c.Watcher.AudioQuietSeconds < 0 || c.Watcher.TranscriptQuietSeconds < 0 {
		return errors.New("watcher quiet seconds must be >= 0")
	}
	if c.Watcher.AudioMinBytes < 0 || c.Watcher.TranscriptMinBytes < 0 {
		return errors.New("watcher minimum sizes must be >= 0")
	}
	return nil
}

func (c *Config) validateRadio() error {
	for key, value := range c.Radio.Defaults {
		if err := radio.Validate(key, value); err != nil {
			return fmt.Errorf("radio.defaults: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}
