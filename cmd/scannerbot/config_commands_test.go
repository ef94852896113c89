package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"scannerbot/internal/config"
	"scannerbot/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate", "--config", env.configPath}, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)
	requireContains(t, out, "Recorder queue")
	requireContains(t, out, env.cfg.Channel.RecorderQueue)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidateReportsDefaults(t *testing.T) {
	setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.toml")

	out, _, err := runCLI(t, []string{"config", "validate", "-c", missing}, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "defaults were used")
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithRadioDefault("f", "160.71M"))

	out, _, err := runCLI(t, []string{"config", "show", "-c", env.configPath}, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var shown config.Config
	if err := toml.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("config show printed invalid TOML: %v\n%s", err, out)
	}
	if shown.Channel.BusQueue != env.cfg.Channel.BusQueue || shown.Recorder.CaptureScript != env.cfg.Recorder.CaptureScript {
		t.Fatalf("show disagrees with the file: %+v", shown.Channel)
	}
	if shown.Radio.Defaults["f"] != "160.71M" {
		t.Fatalf("radio defaults lost: %v", shown.Radio.Defaults)
	}
}

func TestCheckFailsWithoutRecorder(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())

	out, _, err := runCLI(t, []string{"check", "-c", env.configPath}, "")
	if err == nil {
		t.Fatal("expected check to fail when the recorder binary is missing")
	}
	requireContains(t, out, "Audio directory")
	requireContains(t, out, "Recorder")
	requireContains(t, out, "FAILED")
}
