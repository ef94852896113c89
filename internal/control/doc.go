// Package control defines the text messages exchanged between the bus and
// the recorder and the request/acknowledgement pump that carries them.
//
// A message is ASCII, space separated, verb first, and at most MaxMessageSize
// bytes including its NUL terminator. Malformed input is reported as an error
// and never panics; callers log and drop it.
package control
