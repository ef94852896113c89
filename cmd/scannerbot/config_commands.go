package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"scannerbot/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check or print the scannerbot configuration",
	}
	configCmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return configCmd
}

// initTarget resolves where config init writes. An existing file is only
// replaced with overwrite.
func initTarget(flagValue string, overwrite bool) (string, error) {
	target := strings.TrimSpace(flagValue)
	var err error
	if target == "" {
		target, err = config.DefaultConfigPath()
	} else {
		target, err = config.ExpandPath(target)
	}
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	if overwrite {
		return target, nil
	}
	switch _, err := os.Stat(target); {
	case err == nil:
		return "", fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("inspect %s: %w", target, err)
	}
	return target, nil
}

func newConfigInitCommand() *cobra.Command {
	var (
		path      string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the sample configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(path, overwrite)
			if err != nil {
				return err
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set recorder.capture_script and the [handoff] scripts, then run `scannerbot check`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Where to write the file (default ~/.config/scannerbot/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and summarise what the bus would use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			source := ctx.configPath
			if !ctx.configExists {
				source += " (not found, defaults were used)"
			}
			catalog := "disabled"
			if cfg.Catalog.Enabled {
				catalog = cfg.Catalog.Path
			}

			report := newReportTable("Setting", "Value")
			report.add("Config file", source)
			report.add("Recorder queue", cfg.Channel.RecorderQueue)
			report.add("Bus queue", cfg.Channel.BusQueue)
			report.add("Recorder", cfg.Recorder.Binary)
			report.add("Capture script", cfg.Recorder.CaptureScript)
			report.add("Audio directory", cfg.Paths.AudioDir)
			report.add("Transcript directory", cfg.Paths.TranscriptDir)
			report.add("Catalog", catalog)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
