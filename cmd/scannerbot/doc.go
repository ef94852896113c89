// Command scannerbot is the bus: it reads operator commands from stdin,
// supervises the recorder process over a pair of POSIX message queues, and
// hands finished audio and transcripts to the downstream programs.
//
// Running scannerbot with no subcommand starts the command loop. The
// "config init" subcommand writes a sample configuration and "check"
// reports whether the host has everything the bus needs.
package main
