// Package devices tracks RTL-SDR USB dongles through udev netlink events so
// the bus can report whether the radio is attached and warn when it is
// unplugged mid-recording.
package devices
