// Package bus is the scannerbot supervisor. It owns the control queues, the
// recorder process, the directory watcher, and the audio catalog, and reads
// operator commands one line at a time.
//
// A Bus is used in three steps: New wires options, Open acquires the
// instance lock and every shared resource, and Run serves commands until
// quit, end of input, or a termination signal. Run always tears down in the
// same order: stop the recorder while the reply pump can still see its
// acknowledgement, join background tasks, remove both queues, close the
// catalog, and release the lock.
package bus
