package bus

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"scannerbot/internal/catalog"
	"scannerbot/internal/handoff"
	"scannerbot/internal/supervisor"
	"scannerbot/internal/watcher"
)

// recentClips bounds the catalog rows listed by status.
const recentClips = 3

// Status is a point-in-time view of the bus.
type Status struct {
	RecorderPID  int
	Running      bool
	LastExit     string
	Watching     bool
	Options      []string
	Rules        []watcher.RuleStats
	Programs     map[string]handoff.Stats
	CatalogRows  int64
	CatalogError string
	Catalog      bool
	Recent       []catalog.Entry
	SDRMonitor   bool
	SDR          []string
	Faults       int64
}

// Snapshot collects the current status.
func (b *Bus) Snapshot(ctx context.Context) Status {
	st := Status{
		RecorderPID: supervisor.NoPID,
		Watching:    b.state.WatchEnabled(),
		Options:     b.options.Pairs(),
		Programs:    map[string]handoff.Stats{},
		Catalog:     b.catalog != nil,
		SDRMonitor:  b.devices != nil,
	}
	if b.recorder != nil {
		st.RecorderPID = b.recorder.PID()
		st.Running = b.recorder.Running()
		if exit, ok := b.recorder.LastExit(); ok {
			st.LastExit = exit.String()
		}
	}
	if w := b.current.Load(); w != nil {
		st.Rules = w.Stats()
	}
	for _, p := range b.programs {
		st.Programs[p.Name()] = p.Stats()
	}
	if b.catalog != nil {
		n, err := b.catalog.Count(ctx)
		if err != nil {
			st.CatalogError = err.Error()
		}
		st.CatalogRows = n
		if n > 0 && err == nil {
			recent, err := b.catalog.Recent(ctx, recentClips)
			if err != nil {
				st.CatalogError = err.Error()
			}
			st.Recent = recent
		}
	}
	for dev := range b.devices.Present() {
		st.SDR = append(st.SDR, dev)
	}
	sort.Strings(st.SDR)
	if b.link != nil {
		st.Faults = b.link.Faults()
	}
	return st
}

func renderStatus(st Status) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Component", "State"})

	recorder := "stopped"
	switch {
	case st.Running:
		recorder = fmt.Sprintf("running (PID %d)", st.RecorderPID)
	case st.RecorderPID != supervisor.NoPID:
		recorder = fmt.Sprintf("exited (PID %d)", st.RecorderPID)
	}
	if st.LastExit != "" && !st.Running {
		recorder += ", last " + st.LastExit
	}
	tw.AppendRow(table.Row{"Recorder", recorder})

	options := "defaults"
	if len(st.Options) > 0 {
		options = strings.Join(st.Options, " ")
	}
	tw.AppendRow(table.Row{"Radio options", options})
	tw.AppendRow(table.Row{"Watching", onOff(st.Watching)})

	for _, r := range st.Rules {
		tw.AppendRow(table.Row{
			"Watch " + r.Name,
			fmt.Sprintf("%d seen, %d handed off, %d failed, %d pending", r.Seen, r.HandedOff, r.Failed, r.Pending),
		})
	}

	names := make([]string, 0, len(st.Programs))
	for name := range st.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := st.Programs[name]
		tw.AppendRow(table.Row{
			strings.ToUpper(name[:1]) + name[1:],
			fmt.Sprintf("%d launched, %d failed, %d finished", s.Launched, s.Failed, s.Exited),
		})
	}

	catalog := "disabled"
	switch {
	case st.CatalogError != "":
		catalog = "error: " + st.CatalogError
	case st.Catalog:
		catalog = fmt.Sprintf("%d clips", st.CatalogRows)
	}
	tw.AppendRow(table.Row{"Catalog", catalog})
	for _, e := range st.Recent {
		tw.AppendRow(table.Row{"  clip", describeClip(e)})
	}

	sdr := "not monitored"
	if st.SDRMonitor {
		sdr = "not detected"
		if len(st.SDR) > 0 {
			sdr = strings.Join(st.SDR, ", ")
		}
	}
	tw.AppendRow(table.Row{"SDR dongle", sdr})

	if st.Faults > 0 {
		tw.AppendRow(table.Row{"Protocol faults", fmt.Sprint(st.Faults)})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
	})
	return tw.Render() + "\n"
}

// describeClip renders one catalog row, as "call.mp3 16-10-2026 14:02:11 160.71M, transcribed".
func describeClip(e catalog.Entry) string {
	desc := strings.TrimSpace(fmt.Sprintf("%s %s %s %s", filepath.Base(e.AudioPath), e.Date, e.Time, e.Freq))
	switch {
	case e.PostURL != "":
		desc += ", posted"
	case e.Transcript != "":
		desc += ", transcribed"
	}
	return desc
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
