// Package lifecycle holds the process-wide run flags, the registry of
// background tasks, and the coordinator that tears everything down exactly
// once whether shutdown comes from the operator or from a signal.
package lifecycle
