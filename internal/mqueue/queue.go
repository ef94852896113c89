package mqueue

import (
	"strings"
	"time"
)

// Attr describes queue sizing.
type Attr struct {
	MaxMessages int
	MessageSize int
	// CurMessages is only populated by Queue.Attr.
	CurMessages int
}

// DefaultAttr matches the control channel sizing.
var DefaultAttr = Attr{MaxMessages: 10, MessageSize: 256}

// receiveSlice bounds each blocking receive so Close and cancellation are
// noticed.
const receiveSlice = 200 * time.Millisecond

func validateName(name string) error {
	if len(name) < 2 || !strings.HasPrefix(name, "/") || strings.ContainsRune(name[1:], '/') {
		return ErrInvalidName
	}
	return nil
}
