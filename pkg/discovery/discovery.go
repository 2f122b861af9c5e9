// Package discovery locates instruments on the local network via mDNS.
//
// Devices announce their raw-SCPI control port as an LXI-style
// `_scpi-raw._tcp` service. Browse streams every instrument seen on the
// network; FindByHostname blocks until a specific device appears. The
// package also ships an Announcer so the simulator can make itself
// discoverable the same way real hardware is.
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Service parameters of the raw-SCPI announcement.
const (
	ServiceType = "_scpi-raw._tcp"
	Domain      = "local."
)

// ErrNotFound is returned when browsing ends without a match.
var ErrNotFound = errors.New("instrument not found")

// Instrument describes one announced device.
type Instrument struct {
	// Instance is the mDNS instance name, usually the device name.
	Instance string

	// Host is the announced hostname (with trailing dot).
	Host string

	// Port is the raw-SCPI control port.
	Port int

	// Addresses holds the IPv4 and IPv6 addresses seen for this
	// instance, aggregated across interfaces.
	Addresses []string

	// TXT carries the raw TXT records of the announcement.
	TXT []string
}

// Addr returns the first known address joined with the control port, or
// the empty string when no address was resolved.
func (i *Instrument) Addr() string {
	if len(i.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(i.Addresses[0], strconv.Itoa(i.Port))
}

// Config configures browsing and announcing.
type Config struct {
	// Interface restricts mDNS traffic to one named network interface.
	// Empty means all interfaces.
	Interface string
}

// Browser searches the local network for instruments.
type Browser struct {
	config Config
}

// NewBrowser creates a browser.
func NewBrowser(config Config) *Browser {
	return &Browser{config: config}
}

// Browse streams instruments as they are discovered until ctx ends.
// Announcements are aggregated by instance name: addresses seen on
// multiple interfaces are merged into the already-emitted entry, and an
// instance whose last address disappears is dropped from the aggregation
// so a re-announcement is emitted again.
func (b *Browser) Browse(ctx context.Context) (<-chan *Instrument, error) {
	out := make(chan *Instrument)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts := b.browserOptions()

	go func() {
		defer close(out)

		instruments := make(map[string]*Instrument)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				inst := entryToInstrument(entry)

				existing, found := instruments[inst.Instance]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, inst.Addresses)
					continue
				}
				instruments[inst.Instance] = inst
				select {
				case out <- inst:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := instruments[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(instruments, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// FindByHostname blocks until an instrument whose hostname or instance
// name matches appears, or ctx ends. The match ignores case and the
// trailing domain dot.
func (b *Browser) FindByHostname(ctx context.Context, name string) (*Instrument, error) {
	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	want := normalizeHost(name)
	for {
		select {
		case inst, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if normalizeHost(inst.Host) == want || normalizeHost(inst.Instance) == want {
				return inst, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// Announcer publishes a raw-SCPI service announcement.
type Announcer struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(config Config) *Announcer {
	return &Announcer{config: config}
}

// Announce registers the service. A previous announcement by this
// announcer is replaced.
func (a *Announcer) Announce(instance string, port int, txt []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, a.interfaces())
	if err != nil {
		return err
	}
	a.server = server
	return nil
}

// Stop withdraws the announcement. Safe to call repeatedly.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// interfaces returns the interfaces to announce on, nil meaning all.
func (a *Announcer) interfaces() []net.Interface {
	if a.config.Interface == "" {
		return nil
	}

	iface, err := net.InterfaceByName(a.config.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// entryToInstrument converts a zeroconf entry.
func entryToInstrument(entry *zeroconf.ServiceEntry) *Instrument {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &Instrument{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		TXT:       entry.Text,
	}
}

// mergeAddresses adds new addresses to the existing list, avoiding
// duplicates.
func mergeAddresses(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range more {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses carried by a removal entry.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

func normalizeHost(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
