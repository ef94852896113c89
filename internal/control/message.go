package control

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// MaxMessageSize bounds an encoded message including its terminator.
const MaxMessageSize = 256

// Verb identifies a control message.
type Verb string

// Verbs understood on the control channel.
const (
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbQuit    Verb = "quit"
	VerbFreq    Verb = "freq"
	VerbGain    Verb = "gain"
	VerbSquelch Verb = "squelch"
	VerbAck     Verb = "ack"
)

var (
	// ErrEmpty is returned for a message with no verb.
	ErrEmpty = errors.New("empty control message")
	// ErrTooLong is returned for messages over MaxMessageSize.
	ErrTooLong = errors.New("control message too long")
	// ErrMalformed is returned for unknown verbs or bad arity.
	ErrMalformed = errors.New("malformed control message")
)

// Message is one parsed control message.
type Message struct {
	Verb Verb
	Args []string
}

// New builds a message.
func New(verb Verb, args ...string) Message {
	return Message{Verb: verb, Args: args}
}

// Ack builds the acknowledgement for m.
func Ack(m Message) Message {
	return Message{Verb: VerbAck, Args: append([]string{string(m.Verb)}, m.Args...)}
}

// Acked reports the verb being acknowledged, if m is an ack.
func (m Message) Acked() (Verb, bool) {
	if m.Verb != VerbAck || len(m.Args) == 0 {
		return "", false
	}
	return Verb(m.Args[0]), true
}

func (m Message) String() string {
	if len(m.Args) == 0 {
		return string(m.Verb)
	}
	return string(m.Verb) + " " + strings.Join(m.Args, " ")
}

// Encode renders m with a NUL terminator.
func (m Message) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	for _, a := range m.Args {
		if a == "" || strings.ContainsAny(a, " \t\r\n\x00") {
			return nil, fmt.Errorf("%w: argument %q", ErrMalformed, a)
		}
	}
	out := append([]byte(m.String()), 0)
	if len(out) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(out))
	}
	return out, nil
}

// Parse decodes raw bytes received from a queue. Trailing NULs and
// surrounding whitespace are ignored.
func Parse(raw []byte) (Message, error) {
	if len(raw) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTooLong, len(raw))
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	for _, b := range raw {
		if b >= 0x7f || (b < 0x20 && b != '\t' && b != '\n' && b != '\r') {
			return Message{}, fmt.Errorf("%w: non-ASCII byte 0x%02x", ErrMalformed, b)
		}
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return Message{}, ErrEmpty
	}
	m := Message{Verb: Verb(fields[0])}
	if len(fields) > 1 {
		m.Args = fields[1:]
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Verb {
	case "":
		return ErrEmpty
	case VerbStart:
		if len(m.Args)%2 != 0 {
			return fmt.Errorf("%w: start needs key/value pairs, got %d args", ErrMalformed, len(m.Args))
		}
	case VerbStop, VerbQuit:
		if len(m.Args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrMalformed, m.Verb)
		}
	case VerbFreq, VerbGain, VerbSquelch:
		if len(m.Args) != 1 {
			return fmt.Errorf("%w: %s takes one value", ErrMalformed, m.Verb)
		}
	case VerbAck:
		if len(m.Args) == 0 {
			return fmt.Errorf("%w: ack without verb", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrMalformed, m.Verb)
	}
	return nil
}
