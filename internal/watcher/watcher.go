package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"scannerbot/internal/logging"
)

const (
	defaultInterval = 5 * time.Second
	// wakeDelay coalesces bursts of inotify events into one early scan.
	wakeDelay = time.Second
)

// Gate decides whether the watch loop keeps going. It is consulted once
// per full scan.
type Gate interface {
	Active() bool
}

// Rule describes one watched directory.
type Rule struct {
	Name        string
	Dir         string
	QuietPeriod time.Duration
	MinSize     int64
	Handoff     Handoff
}

// RuleStats summarizes one rule's progress.
type RuleStats struct {
	Name      string
	Dir       string
	Seen      int64
	HandedOff int64
	Failed    int64
	Pending   int64
}

type ruleState struct {
	Rule
	seen      map[string]struct{}
	dirFailed bool

	seenCount atomic.Int64
	handedOff atomic.Int64
	failed    atomic.Int64
	pending   atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithClock overrides time.Now for age calculations.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithNotify enables inotify-driven early scans.
func WithNotify(enabled bool) Option {
	return func(w *Watcher) { w.notify = enabled }
}

// Watcher scans its rules in order on every tick.
type Watcher struct {
	gate     Gate
	rules    []*ruleState
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	notify   bool

	scans atomic.Int64
}

// New builds a watcher. Rules are scanned in the order given.
func New(gate Gate, rules []Rule, opts ...Option) *Watcher {
	w := &Watcher{
		gate:     gate,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "watcher")
	for _, r := range rules {
		w.rules = append(w.rules, &ruleState{Rule: r, seen: make(map[string]struct{})})
	}
	return w
}

// Run scans until the gate closes or ctx is done. The sleep between scans
// is interruptible; a scan in progress always completes.
func (w *Watcher) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.notify {
		if fsw := w.openNotify(); fsw != nil {
			defer fsw.Close()
			events, errs = fsw.Events, fsw.Errors
		}
	}

	w.logger.Info("watching", logging.Int("rules", len(w.rules)), logging.Duration("interval", w.interval), logging.Bool("inotify", events != nil))
	for w.gate.Active() {
		w.Scan(ctx)
		if !w.sleep(ctx, events, errs) {
			break
		}
	}
	w.logger.Info("watch stopped", logging.Int64("scans", w.scans.Load()), logging.Event("watch_stopped"))
	return nil
}

func (w *Watcher) openNotify() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.WarnWithContext(w.logger, "inotify unavailable; polling only", "inotify_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "files are picked up on the poll interval"),
		)
		return nil
	}
	for _, r := range w.rules {
		if err := fsw.Add(r.Dir); err != nil {
			w.logger.Debug("inotify add failed", logging.String(logging.FieldRule, r.Name), logging.Error(err))
		}
	}
	return fsw
}

// sleep waits for the next tick and reports false when ctx is done.
func (w *Watcher) sleep(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) bool {
	deadline := time.Now().Add(w.interval)
	timer := time.NewTimer(w.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if early := time.Now().Add(wakeDelay); early.Before(deadline) {
				deadline = early
				timer.Reset(wakeDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Debug("inotify error", logging.Error(err))
		}
	}
}

// Scan examines every rule once, in order.
func (w *Watcher) Scan(ctx context.Context) {
	now := w.now()
	for _, r := range w.rules {
		w.scanRule(ctx, r, now)
	}
	w.scans.Add(1)
}

func (w *Watcher) scanRule(ctx context.Context, r *ruleState, now time.Time) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		if !r.dirFailed {
			hint := "check the directory exists and is readable"
			if errors.Is(err, fs.ErrNotExist) {
				hint = "create the directory or fix paths in the config"
			}
			logging.WarnWithContext(w.logger, "watched directory unreadable", "watch_dir_failed",
				logging.String(logging.FieldRule, r.Name),
				logging.String(logging.FieldPath, r.Dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, hint),
				logging.String(logging.FieldImpact, "no files from this directory are processed"),
			)
			r.dirFailed = true
		}
		return
	}
	r.dirFailed = false

	var pending int64
	for _, entry := range entries {
		path := filepath.Join(r.Dir, entry.Name())
		if _, ok := r.seen[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		if now.Sub(info.ModTime()) < r.QuietPeriod {
			pending++
			continue
		}
		if info.Size() < r.MinSize {
			pending++
			continue
		}
		r.seen[path] = struct{}{}
		r.seenCount.Add(1)
		if !info.Mode().IsRegular() {
			continue
		}
		if r.Handoff == nil {
			continue
		}
		if err := r.Handoff.Handoff(context.WithoutCancel(ctx), path); err != nil {
			r.failed.Add(1)
			logging.WarnWithContext(w.logger, "hand-off failed", "handoff_failed",
				logging.String(logging.FieldRule, r.Name),
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file will not be retried"),
			)
			continue
		}
		r.handedOff.Add(1)
		w.logger.Debug("file accepted",
			logging.String(logging.FieldRule, r.Name),
			logging.String(logging.FieldPath, path),
			logging.Int64("bytes", info.Size()),
		)
	}
	r.pending.Store(pending)
}

// Stats returns per-rule counters in rule order.
func (w *Watcher) Stats() []RuleStats {
	out := make([]RuleStats, 0, len(w.rules))
	for _, r := range w.rules {
		out = append(out, RuleStats{
			Name:      r.Name,
			Dir:       r.Dir,
			Seen:      r.seenCount.Load(),
			HandedOff: r.handedOff.Load(),
			Failed:    r.failed.Load(),
			Pending:   r.pending.Load(),
		})
	}
	return out
}

// Scans reports how many full scans have completed.
func (w *Watcher) Scans() int64 { return w.scans.Load() }
