// Package supervisor runs at most one child process and tears it down
// reliably.
//
// The child is started in its own process group so a stop reaches every
// descendant (the recorder's capture pipeline forks rtl_fm and sox). Stop is
// idempotent: it optionally asks the child to quit, then signals the group
// with SIGTERM whether or not the child already left, escalates to SIGKILL
// after a grace period while the child is still running, and always reaps.
// A group that has already vanished (ESRCH) is logged, not treated as
// failure.
//
// WithParentDeathSignal covers the opposite direction: when the supervising
// process is killed outright, the kernel signals the child leader.
package supervisor
