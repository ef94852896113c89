package preflight

import (
	"context"

	"scannerbot/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes the directory and kernel checks for the given config.
// Program availability is reported separately by CheckSystemDeps.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
		CheckDirectoryAccess("Transcript directory", cfg.Paths.TranscriptDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Catalog.Enabled {
		results = append(results, CheckCatalog(ctx, cfg.Catalog.Path))
	}
	results = append(results, CheckMessageQueues(cfg.Channel.MaxMessages, cfg.Channel.MessageSize))
	return results
}

// Failed reports whether any non-optional result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}
