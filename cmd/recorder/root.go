package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"scannerbot/internal/config"
	"scannerbot/internal/logging"
	"scannerbot/internal/mqueue"
	"scannerbot/internal/radio"
	"scannerbot/internal/recorder"
	"scannerbot/internal/supervisor"
)

const logPrefix = "recorder"

// flagNames maps each radio option key to its long flag name.
var flagNames = map[string]string{
	radio.KeyFrequency:    "frequency",
	radio.KeyGain:         "gain",
	radio.KeySampleRate:   "sample-rate",
	radio.KeyResampleRate: "resample-rate",
	radio.KeySquelch:      "squelch",
	radio.KeyModulation:   "modulation",
}

func newRootCommand() *cobra.Command {
	var configFlag string
	values := make(map[string]*string, len(flagNames))

	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Scanner recorder controlled by the scannerbot bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			options, err := optionsFromFlags(cmd, values)
			if err != nil {
				return err
			}
			return run(cmd.Context(), strings.TrimSpace(configFlag), options)
		},
	}

	rootCmd.Flags().StringVar(&configFlag, "config", "", "Configuration file path (default $"+config.EnvConfigPath+")")
	for _, key := range radio.Keys() {
		values[key] = rootCmd.Flags().StringP(flagNames[key], key, "", "Radio "+radio.Describe(key))
	}
	return rootCmd
}

// optionsFromFlags seeds the radio options from the flags that were set.
func optionsFromFlags(cmd *cobra.Command, values map[string]*string) (*radio.Options, error) {
	options := &radio.Options{}
	for key, value := range values {
		if !cmd.Flags().Changed(flagNames[key]) {
			continue
		}
		if err := options.Set(key, *value); err != nil {
			return nil, fmt.Errorf("flag -%s: %w", key, err)
		}
	}
	return options, nil
}

func run(parent context.Context, configPath string, options *radio.Options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runLog, err := logging.OpenRunLog(logging.RunLogOptions{
		Dir:       cfg.Paths.LogDir,
		Prefix:    logPrefix,
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		SessionID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runLog.Prune(cfg.Logging.RetentionDays, logPrefix)
	logger := runLog.Logger

	// The bus owns both queues; the recorder only attaches.
	in, err := mqueue.Open(cfg.Channel.RecorderQueue)
	if err != nil {
		logging.ErrorWithContext(logger, "attach to recorder queue failed", "queue_open_failed",
			logging.Queue(cfg.Channel.RecorderQueue),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the recorder is started by scannerbot; run that instead"),
		)
		return fmt.Errorf("open %s: %w", cfg.Channel.RecorderQueue, err)
	}
	defer in.Close()
	out, err := mqueue.Open(cfg.Channel.BusQueue)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Channel.BusQueue, err)
	}
	defer out.Close()

	capture := supervisor.New(cfg.Recorder.CaptureScript,
		supervisor.WithLogger(logger),
		supervisor.WithKillGrace(cfg.KillGrace()),
		supervisor.WithParentDeathSignal(unix.SIGTERM),
	)
	loop := recorder.New(in, out, capture, options,
		recorder.WithLogger(logger),
		recorder.WithArgv0(filepath.Base(cfg.Recorder.CaptureScript)),
	)

	logger.Info("recorder starting",
		logging.String("options", strings.Join(options.Pairs(), " ")),
		logging.String("capture_script", cfg.Recorder.CaptureScript),
		logging.Event("recorder_start"),
	)
	err = loop.Run(ctx)
	logger.Info("recorder exiting",
		logging.Bool("quit_requested", loop.QuitRequested()),
		logging.Int64("handled", loop.Handled()),
		logging.Int64("faults", loop.Faults()),
		logging.Event("recorder_exit"),
	)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
