// Package mqueue exposes Linux POSIX message queues as blocking, cancellable
// endpoints.
//
// A Queue is bound to one named queue. Send never blocks: a full queue is
// reported as ErrQueueFull. Receive blocks in short timed slices so context
// cancellation and Close are observed promptly. Close and Remove are
// idempotent; Remove also unlinks the name exactly once.
package mqueue
