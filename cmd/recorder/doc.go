// Command recorder is the process the bus supervises. It attaches to the
// bus's two message queues, keeps the SDR capture pipeline running with the
// current radio options, and acknowledges every command it accepts.
//
// The bus launches it with the remembered options as flags, for example
//
//	recorder -f 160.71M -g 50 -l 25
//
// and the SCANNERBOT_CONFIG environment variable pointing at the bus's
// configuration file.
package main
