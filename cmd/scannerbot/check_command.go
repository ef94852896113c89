package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"scannerbot/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check directories, queues, catalog and required programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			results = append(results, preflight.StatusResults(preflight.CheckSystemDeps(cfg))...)

			report := newReportTable("Check", "Result", "Detail")
			for _, r := range results {
				report.add(r.Name, checkState(r), r.Detail)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report)

			if preflight.Failed(results) {
				return errors.New("one or more required checks failed")
			}
			fmt.Fprintln(out, "All required checks passed")
			return nil
		},
	}
}

func checkState(r preflight.Result) string {
	switch {
	case r.Passed:
		return "ok"
	case r.Optional:
		return "missing (optional)"
	default:
		return "FAILED"
	}
}
