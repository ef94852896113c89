package supervisor

import (
	"errors"
	"fmt"
)

// ErrSpawn classifies process creation failures.
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports that the OS refused to create the child.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }
