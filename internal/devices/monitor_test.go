package devices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func newTestMonitor(t *testing.T, events *[]Event) *Monitor {
	t.Helper()
	m := NewMonitor([]string{"0BDA"},
		WithSysfsRoot(t.TempDir()),
		WithChangeHandler(func(ev Event) { *events = append(*events, ev) }),
	)
	if m == nil {
		t.Fatal("expected monitor")
	}
	return m
}

func TestNewMonitorWithoutVendorsIsNil(t *testing.T) {
	if m := NewMonitor(nil); m != nil {
		t.Fatal("expected nil monitor")
	}
	if m := NewMonitor([]string{" "}); m != nil {
		t.Fatal("expected nil monitor for blank vendor")
	}
}

func TestNilMonitorIsSafe(t *testing.T) {
	var m *Monitor
	m.Stop()
	if m.Running() {
		t.Fatal("nil monitor should not be running")
	}
	if err := m.Start(t.Context()); err != nil {
		t.Fatalf("Start on nil monitor: %v", err)
	}
	if m.Present() != nil {
		t.Fatal("nil monitor should report nothing present")
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	var events []Event
	m := newTestMonitor(t, &events)
	m.Stop()
	m.Stop()
}

func TestMatcherAcceptsUSBDeviceHotplug(t *testing.T) {
	matcher := buildMatcher()
	usb := map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_device"}

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{"add", netlink.UEvent{Action: netlink.ADD, Env: usb}, true},
		{"remove", netlink.UEvent{Action: netlink.REMOVE, Env: usb}, true},
		{"change", netlink.UEvent{Action: netlink.CHANGE, Env: usb}, false},
		{"interface", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "usb", "DEVTYPE": "usb_interface"}}, false},
		{"block", netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "block"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Fatalf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAttachAndDetachAreTracked(t *testing.T) {
	var events []Event
	m := newTestMonitor(t, &events)

	m.handleEvent(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"DEVNAME": "bus/usb/001/004", "PRODUCT": "bda/2838/100"},
	})
	if got := m.Present(); got["/dev/bus/usb/001/004"] != "0bda" {
		t.Fatalf("present = %v", got)
	}

	// Remove events carry no vendor; the tracked entry is enough.
	m.handleEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"DEVNAME": "/dev/bus/usb/001/004"},
	})
	if got := m.Present(); len(got) != 0 {
		t.Fatalf("present after remove = %v", got)
	}

	if len(events) != 2 || events[0].Action != Attached || events[1].Action != Detached {
		t.Fatalf("events = %+v", events)
	}
}

func TestOtherVendorsAreIgnored(t *testing.T) {
	var events []Event
	m := newTestMonitor(t, &events)

	m.handleEvent(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"BUSNUM": "1", "DEVNUM": "7", "ID_VENDOR_ID": "046d"},
	})
	m.handleEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"BUSNUM": "1", "DEVNUM": "7"},
	})
	if len(events) != 0 {
		t.Fatalf("events = %+v", events)
	}
}

func TestEnumerateSeedsPresentDongles(t *testing.T) {
	root := t.TempDir()
	write := func(dev, name, value string) {
		t.Helper()
		dir := filepath.Join(root, dev)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("1-1", "idVendor", "0bda")
	write("1-1", "busnum", "1")
	write("1-1", "devnum", "4")
	write("1-2", "idVendor", "046d")
	write("usb1", "busnum", "1")

	m := NewMonitor([]string{"0bda"}, WithSysfsRoot(root))
	m.mu.Lock()
	m.enumerateLocked()
	m.mu.Unlock()

	got := m.Present()
	if len(got) != 1 || got["/dev/bus/usb/001/004"] != "0bda" {
		t.Fatalf("present = %v", got)
	}
}

func TestNormalizeVendor(t *testing.T) {
	cases := map[string]string{
		"bda":    "0bda",
		"0BDA":   "0bda",
		"0x0bda": "0bda",
		" 1d50 ": "1d50",
		"":       "",
	}
	for in, want := range cases {
		if got := normalizeVendor(in); got != want {
			t.Errorf("normalizeVendor(%q) = %q, want %q", in, got, want)
		}
	}
}
