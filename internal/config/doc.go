// Package config loads, normalizes, and validates scannerbot configuration.
//
// It supplies defaults for the capture, watch, and hand-off directories,
// expands tilde paths, reads TOML files, and honours environment fallbacks
// such as SCANNERBOT_AUDIO_DIR. Both the bus and the recorder process read the
// same file so queue names and paths agree without extra flags.
package config
