package devices

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"scannerbot/internal/logging"
)

const defaultSysfsRoot = "/sys/bus/usb/devices"

// Action is a dongle hotplug transition.
type Action string

// Hotplug actions reported to the change handler.
const (
	Attached Action = "attached"
	Detached Action = "detached"
)

// Event describes one dongle attach or detach.
type Event struct {
	Action Action
	Device string
	Vendor string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithChangeHandler registers fn for every accepted event. It runs on the
// monitor goroutine.
func WithChangeHandler(fn func(Event)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// WithSysfsRoot overrides where attached USB devices are enumerated at start.
func WithSysfsRoot(dir string) Option {
	return func(m *Monitor) { m.sysfsRoot = dir }
}

// Monitor listens for udev netlink events for USB devices from the
// configured vendors.
type Monitor struct {
	vendors   map[string]struct{}
	sysfsRoot string
	logger    *slog.Logger
	onChange  func(Event)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
	present map[string]string
}

// NewMonitor returns a monitor for the given USB vendor ids (hex, e.g.
// "0bda"). It returns nil when no vendor is configured.
func NewMonitor(vendorIDs []string, opts ...Option) *Monitor {
	vendors := make(map[string]struct{}, len(vendorIDs))
	for _, id := range vendorIDs {
		if id = normalizeVendor(id); id != "" {
			vendors[id] = struct{}{}
		}
	}
	if len(vendors) == 0 {
		return nil
	}
	m := &Monitor{
		vendors:   vendors,
		sysfsRoot: defaultSysfsRoot,
		present:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "devices")
	return m
}

// Start enumerates attached dongles and begins listening for hotplug
// events. A netlink connection failure is logged and not returned; the
// monitor then only reports what was attached at start.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.enumerateLocked()

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "netlink connect failed", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "netlink sockets may be unavailable in containers"),
			logging.String(logging.FieldImpact, "SDR hotplug changes will not be reported"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.monitorLoop(ctx, conn, m.quit, m.done)

	m.logger.Info("device monitor started",
		logging.Event("device_monitor_started"),
		logging.Int("present", len(m.present)),
	)
	return nil
}

// Stop shuts down the netlink listener and waits for its goroutine.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	m.quit = nil
	m.running = false
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("device monitor stopped", logging.Event("device_monitor_stopped"))
}

// Running reports whether the netlink listener is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Present returns the attached dongles keyed by device path.
func (m *Monitor) Present() map[string]string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.present))
	for k, v := range m.present {
		out[k] = v
	}
	return out
}

func (m *Monitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit, done chan struct{}) {
	defer close(done)

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "SDR hotplug reporting may be affected"),
			)
		}
	}
}

// buildMatcher accepts add and remove events for whole USB devices. Rule
// values are regular expressions.
func buildMatcher() netlink.Matcher {
	action := "^(add|remove)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "^usb$",
			"DEVTYPE":   "^usb_device$",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	device := deviceName(uevent)
	if device == "" {
		m.logger.Debug("ignoring event without device name", logging.String("kobj", uevent.KObj))
		return
	}

	var ev Event
	m.mu.Lock()
	switch uevent.Action {
	case netlink.ADD:
		vendor := eventVendor(uevent)
		if _, ok := m.vendors[vendor]; !ok {
			m.mu.Unlock()
			return
		}
		m.present[device] = vendor
		ev = Event{Action: Attached, Device: device, Vendor: vendor}
	case netlink.REMOVE:
		// Remove events may lack vendor properties; match on what was seen.
		vendor, ok := m.present[device]
		if !ok {
			m.mu.Unlock()
			return
		}
		delete(m.present, device)
		ev = Event{Action: Detached, Device: device, Vendor: vendor}
	default:
		m.mu.Unlock()
		return
	}
	handler := m.onChange
	m.mu.Unlock()

	m.logger.Info("SDR dongle "+string(ev.Action),
		logging.Event("sdr_"+string(ev.Action)),
		logging.String("device", ev.Device),
		logging.String("vendor", ev.Vendor),
	)
	if handler != nil {
		handler(ev)
	}
}

// enumerateLocked seeds the present set from sysfs.
func (m *Monitor) enumerateLocked() {
	entries, err := os.ReadDir(m.sysfsRoot)
	if err != nil {
		m.logger.Debug("usb enumeration unavailable", logging.Error(err))
		return
	}
	for _, entry := range entries {
		dir := filepath.Join(m.sysfsRoot, entry.Name())
		raw, err := os.ReadFile(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}
		vendor := normalizeVendor(string(raw))
		if _, ok := m.vendors[vendor]; !ok {
			continue
		}
		device := entry.Name()
		if busnum, devnum := readTrim(dir, "busnum"), readTrim(dir, "devnum"); busnum != "" && devnum != "" {
			device = usbDevName(busnum, devnum)
		}
		m.present[device] = vendor
	}
}

func deviceName(uevent netlink.UEvent) string {
	if name := uevent.Env["DEVNAME"]; name != "" {
		if !strings.HasPrefix(name, "/") {
			name = "/dev/" + name
		}
		return name
	}
	if busnum, devnum := uevent.Env["BUSNUM"], uevent.Env["DEVNUM"]; busnum != "" && devnum != "" {
		return usbDevName(busnum, devnum)
	}
	if path := uevent.Env["DEVPATH"]; path != "" {
		return path
	}
	return uevent.KObj
}

// eventVendor reads ID_VENDOR_ID from udev properties, falling back to the
// kernel PRODUCT triple ("bda/2838/100").
func eventVendor(uevent netlink.UEvent) string {
	if id := uevent.Env["ID_VENDOR_ID"]; id != "" {
		return normalizeVendor(id)
	}
	if product := uevent.Env["PRODUCT"]; product != "" {
		vendor, _, _ := strings.Cut(product, "/")
		return normalizeVendor(vendor)
	}
	return ""
}

func normalizeVendor(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0x")
	if id == "" {
		return ""
	}
	for len(id) < 4 {
		id = "0" + id
	}
	return id
}

func usbDevName(busnum, devnum string) string {
	return "/dev/bus/usb/" + pad3(busnum) + "/" + pad3(devnum)
}

func pad3(s string) string {
	s = strings.TrimLeft(s, "0")
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

func readTrim(dir, name string) string {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
