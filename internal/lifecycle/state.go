package lifecycle

import "sync/atomic"

// State carries the shutdown and watch flags shared by the dispatcher, the
// watcher, and the signal path. One State is built at startup and passed to
// every component that needs it.
type State struct {
	shuttingDown atomic.Bool
	watchEnabled atomic.Bool
}

// BeginShutdown sets the shutdown flag and clears watching. It reports
// whether this call was the one that flipped the flag.
func (s *State) BeginShutdown() bool {
	s.watchEnabled.Store(false)
	return s.shuttingDown.CompareAndSwap(false, true)
}

// ShuttingDown reports whether shutdown has begun. Once true it stays true.
func (s *State) ShuttingDown() bool { return s.shuttingDown.Load() }

// SetWatch enables or disables directory watching. Enabling is ignored
// after shutdown has begun.
func (s *State) SetWatch(enabled bool) {
	if enabled && s.shuttingDown.Load() {
		return
	}
	s.watchEnabled.Store(enabled)
}

// WatchEnabled reports the watch flag.
func (s *State) WatchEnabled() bool { return s.watchEnabled.Load() }

// Active is the watcher's loop condition.
func (s *State) Active() bool {
	return !s.shuttingDown.Load() && s.watchEnabled.Load()
}
