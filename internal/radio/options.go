// Package radio holds the recorder's SDR option set and turns it into the
// flag tokens handed to the capture script.
package radio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Option keys understood by the capture script.
const (
	KeyFrequency    = "f"
	KeyGain         = "g"
	KeySampleRate   = "s"
	KeyResampleRate = "r"
	KeySquelch      = "l"
	KeyModulation   = "M"
)

const maxValueLen = 64

var allowed = map[string]string{
	KeyFrequency:    "frequency",
	KeyGain:         "gain",
	KeySampleRate:   "sample rate",
	KeyResampleRate: "resample rate",
	KeySquelch:      "squelch",
	KeyModulation:   "modulation",
}

var (
	// ErrUnknownOption reports a key outside the allow-list.
	ErrUnknownOption = errors.New("unknown radio option")
	// ErrMissingValue reports a key with no value after it.
	ErrMissingValue = errors.New("radio option missing value")
	// ErrInvalidValue reports a value that cannot be passed as a single argv token.
	ErrInvalidValue = errors.New("invalid radio option value")
)

// Keys returns the allow-listed option keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(allowed))
	for k := range allowed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Describe returns the human name of a key, or "" when the key is unknown.
func Describe(key string) string {
	return allowed[key]
}

// Validate checks a single key/value pair.
func Validate(key, value string) error {
	if _, ok := allowed[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, key)
	}
	if value == "" || len(value) > maxValueLen {
		return fmt.Errorf("%w: %q=%q", ErrInvalidValue, key, value)
	}
	for _, r := range value {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: %q=%q", ErrInvalidValue, key, value)
		}
	}
	return nil
}

// KeyForVerb maps a tuning verb to the option it updates.
func KeyForVerb(verb string) (string, bool) {
	switch verb {
	case "freq":
		return KeyFrequency, true
	case "gain":
		return KeyGain, true
	case "squelch":
		return KeySquelch, true
	}
	return "", false
}

// Options is the remembered radio configuration. Keys are unique and the
// last write wins; values are never cleared by a partial update. The zero
// value is ready to use and safe for concurrent callers.
type Options struct {
	mu     sync.Mutex
	values map[string]string
}

// Set stores a single validated pair.
func (o *Options) Set(key, value string) error {
	key = strings.TrimPrefix(key, "-")
	if err := Validate(key, value); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.values == nil {
		o.values = make(map[string]string)
	}
	o.values[key] = value
	return nil
}

// Merge applies alternating key/value tokens. Keys may carry a leading
// dash. Invalid pairs are skipped and reported in the joined error while
// valid ones are still applied. A dangling key yields ErrMissingValue.
func (o *Options) Merge(tokens []string) error {
	var errs []error
	for i := 0; i < len(tokens); i += 2 {
		if i+1 >= len(tokens) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMissingValue, tokens[i]))
			break
		}
		if err := o.Set(tokens[i], tokens[i+1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MergeMap applies every pair in values.
func (o *Options) MergeMap(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var errs []error
	for _, k := range keys {
		if err := o.Set(k, values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the value stored for key.
func (o *Options) Get(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.values[key]
	return v, ok
}

// Len reports how many keys are set.
func (o *Options) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.values)
}

// Snapshot copies the current values.
func (o *Options) Snapshot() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}

// Pairs returns "k v" tokens without dashes in sorted key order, the form
// carried by a start control message.
func (o *Options) Pairs() []string {
	snap := o.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, snap[k])
	}
	return out
}

// Args returns "-k v" argv tokens in sorted key order.
func (o *Options) Args() []string {
	pairs := o.Pairs()
	for i := 0; i < len(pairs); i += 2 {
		pairs[i] = "-" + pairs[i]
	}
	return pairs
}

// Argv builds a fresh argv for a spawn: argv[0] followed by the option flags.
func (o *Options) Argv(argv0 string) []string {
	return append([]string{argv0}, o.Args()...)
}
