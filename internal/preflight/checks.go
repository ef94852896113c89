package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"scannerbot/internal/catalog"
	"scannerbot/internal/config"
	"scannerbot/internal/deps"
	"scannerbot/internal/mqueue"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCatalog opens the catalog database, creating it when missing.
func CheckCatalog(ctx context.Context, path string) Result {
	const name = "Catalog"
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := catalog.Open(checkCtx, path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	n, err := store.Count(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d clips)", path, n)}
}

// CheckMessageQueues creates and removes a scratch queue with the configured
// sizing to confirm the kernel limits allow it.
func CheckMessageQueues(maxMessages, messageSize int) Result {
	const name = "POSIX message queues"
	scratch := fmt.Sprintf("/scannerbot_check_%d", os.Getpid())
	q, err := mqueue.Create(scratch, mqueue.Attr{MaxMessages: maxMessages, MessageSize: messageSize}, 0o600)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, unix.EINVAL) {
			detail += " (check /proc/sys/fs/mqueue/msg_max and msgsize_max)"
		}
		return Result{Name: name, Detail: detail}
	}
	if err := q.Remove(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("remove scratch queue: %v", err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("depth %d, %d bytes", maxMessages, messageSize)}
}

// SystemRequirements lists the programs the bus and recorder run.
func SystemRequirements(cfg *config.Config) []deps.Requirement {
	return []deps.Requirement{
		{
			Name:        "Recorder",
			Command:     cfg.Recorder.Binary,
			Description: "Receives control messages and runs the capture script",
		},
		{
			Name:        "Capture script",
			Command:     cfg.Recorder.CaptureScript,
			Description: "Pipes rtl_fm into sox to write audio clips",
		},
		{
			Name:        "rtl_fm",
			Command:     "rtl_fm",
			Description: "Required by the capture script for SDR demodulation",
		},
		{
			Name:        "sox",
			Command:     "sox",
			Description: "Required by the capture script to split audio on silence",
		},
		{
			Name:        "Interpreter",
			Command:     cfg.Handoff.Interpreter,
			Description: "Runs the transcriber and publisher",
		},
		{
			Name:        "Transcriber",
			Command:     cfg.Handoff.TranscriberScript,
			Description: "Turns audio clips into transcripts",
			Optional:    true,
			Script:      true,
		},
		{
			Name:        "Publisher",
			Command:     cfg.Handoff.PublisherScript,
			Description: "Posts completed transcripts",
			Optional:    true,
			Script:      true,
		},
	}
}

// CheckSystemDeps evaluates all program dependencies for the given config.
// Both the bus and the check command use this to share one requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	return deps.CheckBinaries(SystemRequirements(cfg))
}

// StatusResults converts dependency statuses into preflight results.
func StatusResults(statuses []deps.Status) []Result {
	out := make([]Result, 0, len(statuses))
	for _, s := range statuses {
		detail := s.Detail
		if s.Available {
			detail = s.Command
		}
		out = append(out, Result{Name: s.Name, Passed: s.Available, Optional: s.Optional, Detail: detail})
	}
	return out
}
