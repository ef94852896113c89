// Package watcher detects finished files in the capture and transcript
// directories and hands each one off exactly once.
//
// There is no write-completion signal from the recorder or the transcriber,
// so a file is considered finished once it has not been modified for the
// rule's quiet period and has reached its minimum size. Files that fail either
// gate stay pending and are re-examined next tick; accepted files join the
// rule's seen set and are never handed off again, even if rewritten. Seen sets
// live for one Watcher, so a fresh Watcher is built on every start.
//
// Polling is authoritative. When enabled, inotify events only pull the next
// scan forward.
package watcher
