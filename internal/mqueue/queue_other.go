//go:build !linux

package mqueue

import (
	"context"
	"os"
)

// Queue is unavailable on this platform.
type Queue struct{ name string }

func Create(name string, _ Attr, _ os.FileMode) (*Queue, error) { return nil, ErrUnsupported }

func Open(name string) (*Queue, error) { return nil, ErrUnsupported }

func Unlink(name string) error { return ErrUnsupported }

func (q *Queue) Name() string { return q.name }

func (q *Queue) MessageSize() int { return 0 }

func (q *Queue) Attr() (Attr, error) { return Attr{}, ErrUnsupported }

func (q *Queue) Send(context.Context, []byte) error { return ErrUnsupported }

func (q *Queue) Receive(context.Context) ([]byte, error) { return nil, ErrUnsupported }

func (q *Queue) Close() error { return nil }

func (q *Queue) Remove() error { return nil }
