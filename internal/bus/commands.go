package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scannerbot/internal/control"
	"scannerbot/internal/logging"
	"scannerbot/internal/radio"
	"scannerbot/internal/supervisor"
)

const (
	msgNotStarted = "The recorder has not started yet."
	msgNoSuch     = "No such option."
	promptText    = "scannerbot> "
)

type command struct {
	names []string
	usage string
	help  string
	run   func(b *Bus, ctx context.Context, args string) bool
}

// commands is filled in init because help lists it.
var commands []command

func init() {
	commands = []command{
		{names: []string{"start", "s"}, usage: "start [key value ...]", help: "Begin recording transmissions", run: (*Bus).cmdStart},
		{names: []string{"stop"}, usage: "stop", help: "Stop recording and watching", run: (*Bus).cmdStop},
		{names: []string{"freq", "f", "frequency"}, usage: "freq <value>", help: "Set radio frequency", run: tuneCommand(control.VerbFreq)},
		{names: []string{"gain", "g"}, usage: "gain <value>", help: "Set tuner gain", run: tuneCommand(control.VerbGain)},
		{names: []string{"squelch", "l"}, usage: "squelch <value>", help: "Set squelch level", run: tuneCommand(control.VerbSquelch)},
		{names: []string{"status", "st"}, usage: "status", help: "Show recorder, watcher and catalog state", run: (*Bus).cmdStatus},
		{names: []string{"help", "h"}, usage: "help", help: "Show this list", run: (*Bus).cmdHelp},
		{names: []string{"quit", "q"}, usage: "quit", help: "Stop everything and exit", run: (*Bus).cmdQuit},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		for _, n := range c.names {
			if n == name {
				return c, true
			}
		}
	}
	return command{}, false
}

// Dispatch runs one operator line. It reports whether the bus is exiting.
// Blank lines are ignored.
func (b *Bus) Dispatch(ctx context.Context, line string) bool {
	name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	if name == "" {
		return false
	}
	cmd, ok := lookup(name)
	if !ok {
		b.println(msgNoSuch)
		return false
	}
	b.logger.Debug("command", logging.String("command", cmd.names[0]), logging.String("args", strings.TrimSpace(args)))
	return cmd.run(b, ctx, strings.TrimSpace(args))
}

func (b *Bus) cmdStart(ctx context.Context, args string) bool {
	if err := b.options.Merge(strings.Fields(args)); err != nil {
		for _, e := range splitJoined(err) {
			b.printf("Ignoring option: %v\n", e)
		}
	}

	b.mu.Lock()
	if b.state.ShuttingDown() {
		b.mu.Unlock()
		return true
	}
	spawned := false
	if !b.recorder.Running() {
		pid, err := b.recorder.Start(ctx, b.options.Argv(""))
		if err != nil {
			b.mu.Unlock()
			var spawnErr *supervisor.SpawnError
			if errors.As(err, &spawnErr) {
				b.printf("Error starting recorder: %v\n", spawnErr)
			} else {
				b.printf("Error starting recorder: %v\n", err)
			}
			return false
		}
		spawned = true
		b.startRecorderTask()
		b.printf("Recorder has PID %d\n", pid)
	}
	b.state.SetWatch(true)
	b.startWatcherTask()
	b.mu.Unlock()

	msg := control.New(control.VerbStart, b.options.Pairs()...)
	if err := b.request(ctx, msg); err != nil {
		b.printf("Recorder did not acknowledge start: %v\n", err)
		return false
	}
	if !spawned {
		b.println("Recorder updated.")
	}
	return false
}

func (b *Bus) cmdStop(ctx context.Context, _ string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.ShuttingDown() {
		return true
	}
	if b.recorder.PID() == supervisor.NoPID {
		b.println(msgNotStarted)
		return false
	}

	if err := b.recorder.Stop(ctx); err != nil {
		logging.ErrorWithContext(b.logger, "stop recorder failed", "recorder_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the recorder is still tracked; try stop again or quit"),
		)
		b.printf("Unable to stop recorder: %v\n", err)
		return false
	}

	b.state.SetWatch(false)
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	for _, kind := range b.registry.Kinds() {
		if err := b.registry.Stop(joinCtx, kind); err != nil {
			b.logger.Warn("task did not stop", logging.Error(err))
		}
	}
	b.println("Recorder stopped.")
	return false
}

// tuneCommand builds the handler for freq, gain, and squelch.
func tuneCommand(verb control.Verb) func(*Bus, context.Context, string) bool {
	return func(b *Bus, ctx context.Context, args string) bool {
		if !b.recorder.Running() {
			b.println(msgNotStarted)
			return false
		}
		fields := strings.Fields(args)
		if len(fields) != 1 {
			b.printf("Usage: %s <value>\n", verb)
			return false
		}
		key, _ := radio.KeyForVerb(string(verb))
		if err := b.options.Set(key, fields[0]); err != nil {
			b.printf("Invalid %s: %v\n", verb, err)
			return false
		}
		if err := b.request(ctx, control.New(verb, fields[0])); err != nil {
			b.printf("Recorder did not acknowledge %s: %v\n", verb, err)
		}
		return false
	}
}

func (b *Bus) cmdStatus(ctx context.Context, _ string) bool {
	b.print(renderStatus(b.Snapshot(ctx)))
	return false
}

func (b *Bus) cmdHelp(context.Context, string) bool {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range commands {
		alias := ""
		if len(c.names) > 1 {
			alias = c.names[1]
		}
		fmt.Fprintf(&sb, "    %-3s %-22s %s\n", alias, c.usage, c.help)
	}
	b.print(sb.String())
	return false
}

func (b *Bus) cmdQuit(ctx context.Context, _ string) bool {
	if err := b.coord.Shutdown(ctx, 0); err != nil {
		b.printf("Shutdown incomplete: %v\n", err)
	}
	return true
}

// request sends m and waits for the recorder's acknowledgement.
func (b *Bus) request(ctx context.Context, m control.Message) error {
	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.ReplyTimeout())
	defer cancel()
	_, err := b.link.Request(reqCtx, m)
	if err != nil {
		logging.WarnWithContext(b.logger, "recorder request failed", "request_failed",
			logging.String(logging.FieldVerb, string(m.Verb)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "recorder may be running old settings"),
			logging.String(logging.FieldErrorHint, "check the recorder log"),
		)
	}
	return err
}

func splitJoined(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func (b *Bus) print(s string) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	_, _ = fmt.Fprint(b.out, s)
}

func (b *Bus) println(s string) { b.print(s + "\n") }

func (b *Bus) printf(format string, args ...any) { b.print(fmt.Sprintf(format, args...)) }

func (b *Bus) prompt() {
	if b.interactive && !b.state.ShuttingDown() {
		b.print(promptText)
	}
}
