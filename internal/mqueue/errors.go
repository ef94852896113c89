package mqueue

import "errors"

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("message queue closed")
	// ErrQueueFull is returned when a send would block.
	ErrQueueFull = errors.New("message queue full")
	// ErrMessageTooLong is returned for payloads larger than the queue's message size.
	ErrMessageTooLong = errors.New("message exceeds queue message size")
	// ErrUnsupported is returned where POSIX message queues are unavailable.
	ErrUnsupported = errors.New("posix message queues unsupported")
	// ErrInvalidName is returned for names that are not "/single-component".
	ErrInvalidName = errors.New("invalid message queue name")
)
