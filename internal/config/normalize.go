package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeRecorder(); err != nil {
		return err
	}
	c.normalizeChannel()
	if err := c.normalizeHandoff(); err != nil {
		return err
	}
	if err := c.normalizeCatalog(); err != nil {
		return err
	}
	c.normalizeDevices()
	c.normalizeRadio()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SCANNERBOT_AUDIO_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.AudioDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("SCANNERBOT_TRANSCRIPT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.TranscriptDir = strings.TrimSpace(value)
	}
	var err error
	if c.Paths.AudioDir, err = expandPath(strings.TrimSpace(c.Paths.AudioDir)); err != nil {
		return fmt.Errorf("paths.audio_dir: %w", err)
	}
	if c.Paths.TranscriptDir, err = expandPath(strings.TrimSpace(c.Paths.TranscriptDir)); err != nil {
		return fmt.Errorf("paths.transcript_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecorder() error {
	c.Recorder.Binary = strings.TrimSpace(c.Recorder.Binary)
	if c.Recorder.Binary == "" {
		c.Recorder.Binary = defaultRecorderBinary
	}
	if strings.ContainsRune(c.Recorder.Binary, '/') || strings.HasPrefix(c.Recorder.Binary, "~") {
		var err error
		if c.Recorder.Binary, err = expandPath(c.Recorder.Binary); err != nil {
			return fmt.Errorf("recorder.binary: %w", err)
		}
	} else if sibling := siblingExecutable(c.Recorder.Binary); sibling != "" {
		c.Recorder.Binary = sibling
	}
	var err error
	if c.Recorder.CaptureScript, err = expandPath(strings.TrimSpace(c.Recorder.CaptureScript)); err != nil {
		return fmt.Errorf("recorder.capture_script: %w", err)
	}
	return nil
}

// siblingExecutable prefers a recorder installed next to the running binary
// over one found on PATH.
func siblingExecutable(name string) string {
	self, err := os.Executable()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(self), name)
	if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
		return candidate
	}
	return ""
}

func (c *Config) normalizeChannel() {
	c.Channel.BusQueue = normalizeQueueName(c.Channel.BusQueue, defaultBusQueue)
	c.Channel.RecorderQueue = normalizeQueueName(c.Channel.RecorderQueue, defaultRecorderQueue)
}

func normalizeQueueName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return name
}

func (c *Config) normalizeHandoff() error {
	c.Handoff.Interpreter = strings.TrimSpace(c.Handoff.Interpreter)
	if c.Handoff.Interpreter == "" {
		c.Handoff.Interpreter = defaultInterpreter
	}
	var err error
	if c.Handoff.TranscriberScript, err = expandPath(strings.TrimSpace(c.Handoff.TranscriberScript)); err != nil {
		return fmt.Errorf("handoff.transcriber_script: %w", err)
	}
	if c.Handoff.PublisherScript, err = expandPath(strings.TrimSpace(c.Handoff.PublisherScript)); err != nil {
		return fmt.Errorf("handoff.publisher_script: %w", err)
	}
	return nil
}

func (c *Config) normalizeCatalog() error {
	if strings.TrimSpace(c.Catalog.Path) == "" {
		c.Catalog.Path = defaultCatalogPath
	}
	var err error
	if c.Catalog.Path, err = expandPath(strings.TrimSpace(c.Catalog.Path)); err != nil {
		return fmt.Errorf("catalog.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeDevices() {
	ids := make([]string, 0, len(c.Devices.VendorIDs))
	for _, id := range c.Devices.VendorIDs {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			ids = append(ids, id)
		}
	}
	c.Devices.VendorIDs = ids
}

func (c *Config) normalizeRadio() {
	if len(c.Radio.Defaults) == 0 {
		return
	}
	cleaned := make(map[string]string, len(c.Radio.Defaults))
	for key, value := range c.Radio.Defaults {
		key = strings.TrimPrefix(strings.TrimSpace(key), "-")
		cleaned[key] = strings.TrimSpace(value)
	}
	c.Radio.Defaults = cleaned
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
