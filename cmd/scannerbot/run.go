package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"scannerbot/internal/bus"
	"scannerbot/internal/config"
	"scannerbot/internal/logging"
	"scannerbot/internal/preflight"
)

const logPrefix = "scannerbot"

type runOptions struct {
	logLevel string
	mirror   bool
}

func runBus(cmd *cobra.Command, ctx *commandContext, opts runOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := strings.TrimSpace(opts.logLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	runLogOpts := logging.RunLogOptions{
		Dir:       cfg.Paths.LogDir,
		Prefix:    logPrefix,
		Level:     level,
		Format:    cfg.Logging.Format,
		SessionID: uuid.NewString(),
	}
	if opts.mirror {
		runLogOpts.Mirror = os.Stderr
	}
	runLog, err := logging.OpenRunLog(runLogOpts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runLog.Prune(cfg.Logging.RetentionDays, logPrefix)
	logger := runLog.Logger

	logPreflight(cmd, cfg, logger)

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	b := bus.New(cfg,
		bus.WithLogger(logger),
		bus.WithOutput(out),
		bus.WithInteractive(isTerminal(in) && isTerminal(out)),
		bus.WithConfigPath(ctx.exportedConfigPath()),
	)
	if err := b.Open(cmd.Context()); err != nil {
		if errors.Is(err, bus.ErrAlreadyRunning) {
			return fmt.Errorf("%w (lock %s)", err, cfg.LockPath())
		}
		logging.ErrorWithContext(logger, "bus setup failed", "bus_setup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `scannerbot check` to see what is missing"),
		)
		return fmt.Errorf("start bus: %w", err)
	}

	if code := b.Run(cmd.Context(), in); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// logPreflight records the host snapshot at startup. Failures are logged,
// not fatal: the operator may fix a missing script before typing start.
func logPreflight(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) {
	results := preflight.RunAll(cmd.Context(), cfg)
	results = append(results, preflight.StatusResults(preflight.CheckSystemDeps(cfg))...)
	for _, r := range results {
		switch {
		case r.Passed:
			logger.Debug("preflight passed", logging.String("check", r.Name))
		case r.Optional:
			logger.Info("optional preflight check failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		default:
			logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldImpact, "start may fail until this is fixed"),
			)
		}
	}
	logger.Info("preflight complete",
		logging.Int("checks", len(results)),
		logging.Bool("failed", preflight.Failed(results)),
		logging.Event("preflight_complete"),
	)
}

func isTerminal(stream any) bool {
	file, ok := stream.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

