package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"scannerbot/internal/logging"
)

// ErrNoReply is returned when a request is not acknowledged in time.
var ErrNoReply = errors.New("no acknowledgement from peer")

// Sender delivers one encoded message.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Receiver blocks for one encoded message.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Link pairs an outbound and an inbound endpoint. Run pumps the inbound
// side, matching acknowledgements to pending Requests and handing any other
// message to the reply handler.
type Link struct {
	out    Sender
	in     Receiver
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[Verb][]chan Message
	onReply func(Message)

	faults atomic.Int64
}

// NewLink builds a link. Either endpoint may be nil for one-way use.
func NewLink(out Sender, in Receiver, logger *slog.Logger) *Link {
	return &Link{
		out:     out,
		in:      in,
		logger:  logging.NewComponentLogger(logger, "control"),
		waiters: make(map[Verb][]chan Message),
	}
}

// OnReply installs the handler for unsolicited inbound messages. It runs on
// the pump goroutine.
func (l *Link) OnReply(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReply = fn
}

// Send encodes and sends m without waiting for an acknowledgement.
func (l *Link) Send(ctx context.Context, m Message) error {
	if l.out == nil {
		return fmt.Errorf("send %s: link has no outbound endpoint", m.Verb)
	}
	payload, err := m.Encode()
	if err != nil {
		return err
	}
	if err := l.out.Send(ctx, payload); err != nil {
		return fmt.Errorf("send %s: %w", m.Verb, err)
	}
	l.logger.Debug("control message sent", logging.String(logging.FieldVerb, string(m.Verb)), logging.String("message", m.String()))
	return nil
}

// Request sends m and waits for "ack <verb>" until ctx is done. Run must be
// pumping the inbound side for the wait to complete.
func (l *Link) Request(ctx context.Context, m Message) (Message, error) {
	ch := make(chan Message, 1)
	l.mu.Lock()
	l.waiters[m.Verb] = append(l.waiters[m.Verb], ch)
	l.mu.Unlock()
	defer l.dropWaiter(m.Verb, ch)

	if err := l.Send(ctx, m); err != nil {
		return Message{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%s: %w", m.Verb, ErrNoReply)
	}
}

// RequestQuit asks the peer to exit and waits for its acknowledgement.
func (l *Link) RequestQuit(ctx context.Context) error {
	_, err := l.Request(ctx, New(VerbQuit))
	return err
}

func (l *Link) dropWaiter(verb Verb, ch chan Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.waiters[verb]
	for i, w := range list {
		if w == ch {
			l.waiters[verb] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(l.waiters[verb]) == 0 {
		delete(l.waiters, verb)
	}
}

// Faults counts inbound messages dropped as malformed.
func (l *Link) Faults() int64 { return l.faults.Load() }

// Run pumps inbound messages until ctx is done (returning nil) or the
// receiver fails (returning its error).
func (l *Link) Run(ctx context.Context) error {
	if l.in == nil {
		<-ctx.Done()
		return nil
	}
	for {
		raw, err := l.in.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, err := Parse(raw)
		if err != nil {
			l.faults.Add(1)
			logging.WarnWithContext(l.logger, "control message dropped", "protocol_fault",
				logging.Error(err),
				logging.Int("bytes", len(raw)),
				logging.String(logging.FieldImpact, "message ignored"),
				logging.String(logging.FieldErrorHint, "peer sent a malformed or unknown command"),
			)
			continue
		}
		l.dispatch(m)
	}
}

func (l *Link) dispatch(m Message) {
	l.mu.Lock()
	if verb, ok := m.Acked(); ok {
		if list := l.waiters[verb]; len(list) > 0 {
			ch := list[0]
			l.waiters[verb] = list[1:]
			l.mu.Unlock()
			ch <- m
			return
		}
	}
	handler := l.onReply
	l.mu.Unlock()

	if handler != nil {
		handler(m)
		return
	}
	l.logger.Debug("control message unhandled", logging.String("message", m.String()))
}
