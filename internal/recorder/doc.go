// Package recorder runs the recorder side of the control channel. It reads
// commands sent by the bus, keeps the radio option set, and restarts the SDR
// capture pipeline whenever those options change.
package recorder
