//go:build linux

package mqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mqAttr mirrors struct mq_attr.
type mqAttr struct {
	Flags    int
	Maxmsg   int
	Msgsize  int
	Curmsgs  int
	reserved [4]int
}

// Queue is an open message queue descriptor.
type Queue struct {
	name    string
	msgSize int

	// mu is held shared for each syscall on fd and exclusively by Close, so
	// a descriptor is never reused underneath an in-flight receive.
	mu     sync.RWMutex
	fd     int
	unlink sync.Once
}

// Create unlinks any stale queue with the same name and creates a fresh one.
func Create(name string, attr Attr, perm os.FileMode) (*Queue, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := Unlink(name); err != nil {
		return nil, err
	}
	raw := mqAttr{Maxmsg: attr.MaxMessages, Msgsize: attr.MessageSize}
	return open(name, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, uint32(perm.Perm()), &raw)
}

// Open attaches to an existing queue.
func Open(name string) (*Queue, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return open(name, unix.O_RDWR|unix.O_CLOEXEC, 0, nil)
}

func open(name string, flags int, perm uint32, attr *mqAttr) (*Queue, error) {
	// The kernel takes the name without its leading slash.
	p, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", name, ErrInvalidName)
	}
	r1, _, errno := unix.Syscall6(unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(p)), uintptr(flags), uintptr(perm), uintptr(unsafe.Pointer(attr)), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("open queue %s: %w", name, translate("mq_open", errno))
	}
	q := &Queue{name: name, fd: int(r1)}
	cur, err := q.getattr()
	if err != nil {
		_ = unix.Close(q.fd)
		return nil, fmt.Errorf("open queue %s: %w", name, err)
	}
	q.msgSize = cur.Msgsize
	return q, nil
}

// Unlink removes a queue name. A missing queue is not an error.
func Unlink(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	p, err := unix.BytePtrFromString(name[1:])
	if err != nil {
		return ErrInvalidName
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(p)), 0, 0)
	if errno != 0 && errno != unix.ENOENT {
		return fmt.Errorf("unlink queue %s: %w", name, translate("mq_unlink", errno))
	}
	return nil
}

// Name returns the queue name including its leading slash.
func (q *Queue) Name() string { return q.name }

// MessageSize is the largest payload the queue accepts.
func (q *Queue) MessageSize() int { return q.msgSize }

// Attr reports the queue's current sizing and depth.
func (q *Queue) Attr() (Attr, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.fd < 0 {
		return Attr{}, ErrClosed
	}
	cur, err := q.getattr()
	if err != nil {
		return Attr{}, err
	}
	return Attr{MaxMessages: cur.Maxmsg, MessageSize: cur.Msgsize, CurMessages: cur.Curmsgs}, nil
}

func (q *Queue) getattr() (mqAttr, error) {
	var cur mqAttr
	_, _, errno := unix.Syscall(unix.SYS_MQ_GETSETATTR, uintptr(q.fd), 0, uintptr(unsafe.Pointer(&cur)))
	if errno != 0 {
		return mqAttr{}, translate("mq_getattr", errno)
	}
	return cur, nil
}

// Send enqueues payload without blocking.
func (q *Queue) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(payload) > q.msgSize {
		return fmt.Errorf("send to %s: %w (%d > %d)", q.name, ErrMessageTooLong, len(payload), q.msgSize)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.fd < 0 {
		return ErrClosed
	}
	var ptr unsafe.Pointer
	if len(payload) > 0 {
		ptr = unsafe.Pointer(&payload[0])
	}
	for {
		// An already-expired deadline makes a full queue fail immediately.
		ts := unix.NsecToTimespec(time.Now().UnixNano())
		_, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDSEND,
			uintptr(q.fd), uintptr(ptr), uintptr(len(payload)), 0, uintptr(unsafe.Pointer(&ts)), 0)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		case unix.ETIMEDOUT, unix.EAGAIN:
			return fmt.Errorf("send to %s: %w", q.name, ErrQueueFull)
		case unix.EMSGSIZE:
			return fmt.Errorf("send to %s: %w", q.name, ErrMessageTooLong)
		case unix.EBADF:
			return ErrClosed
		default:
			return fmt.Errorf("send to %s: %w", q.name, translate("mq_timedsend", errno))
		}
	}
}

// Receive blocks until a message arrives, ctx is done, or the queue is
// closed. The returned slice is owned by the caller.
func (q *Queue) Receive(ctx context.Context) ([]byte, error) {
	buf := make([]byte, q.msgSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := q.receiveSlice(buf)
		if err == nil {
			return buf[:n:n], nil
		}
		if !errors.Is(err, errSliceTimeout) {
			return nil, err
		}
	}
}

var errSliceTimeout = errors.New("receive slice elapsed")

func (q *Queue) receiveSlice(buf []byte) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.fd < 0 {
		return 0, ErrClosed
	}
	ts := unix.NsecToTimespec(time.Now().Add(receiveSlice).UnixNano())
	r1, _, errno := unix.Syscall6(unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(q.fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, uintptr(unsafe.Pointer(&ts)), 0)
	switch errno {
	case 0:
		return int(r1), nil
	case unix.ETIMEDOUT, unix.EINTR:
		return 0, errSliceTimeout
	case unix.EBADF:
		return 0, ErrClosed
	default:
		return 0, fmt.Errorf("receive from %s: %w", q.name, translate("mq_timedreceive", errno))
	}
}

// Close releases the descriptor. Later calls are no-ops.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fd < 0 {
		return nil
	}
	fd := q.fd
	q.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close queue %s: %w", q.name, err)
	}
	return nil
}

// Remove closes the queue and unlinks its name. The unlink happens at most
// once per Queue regardless of how many callers race here.
func (q *Queue) Remove() error {
	closeErr := q.Close()
	var unlinkErr error
	q.unlink.Do(func() {
		unlinkErr = Unlink(q.name)
	})
	return errors.Join(closeErr, unlinkErr)
}

func translate(op string, errno unix.Errno) error {
	if errno == unix.ENOSYS {
		return fmt.Errorf("%w: %w", ErrUnsupported, os.NewSyscallError(op, errno))
	}
	return os.NewSyscallError(op, errno)
}
