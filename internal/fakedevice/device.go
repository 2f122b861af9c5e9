// Package fakedevice provides an in-process TCP instrument simulator.
//
// The simulator speaks enough of the device's SCPI dialect for client
// tests and local demos: identity and version queries, header
// negotiation, numeric channel selection with dimensions, ASCII and
// binary value transfer, the event-log subsystem and the data-stream
// lifecycle. It is not a faithful device model; replies are canned from
// the state configured through the setters.
package fakedevice

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Config configures the simulated instrument.
type Config struct {
	// Addr is the listen address (default "127.0.0.1:0", an ephemeral
	// loopback port).
	Addr string

	// Version is the RC_SCPI protocol version announced by *VER?
	// (default "1.20").
	Version string

	// Identity is the *IDN? reply (default a generic test identity).
	Identity string

	// NoHeaderEcho suppresses the command-path header token real
	// firmware echoes before query replies.
	NoHeaderEcho bool
}

// Device is a simulated instrument listening on a loopback TCP port.
type Device struct {
	ln  net.Listener
	cfg Config

	mu       sync.Mutex
	values   []float64
	dims     []int
	maxDims  []int
	format   string
	channels []string
	elog     []string
	elogRows [][]string
	errors   []string
	streams  map[int]string
	dstItems map[int][]string
	commands []string
	closed   bool
}

// Listen starts a simulated device on an ephemeral loopback port.
func Listen(cfg Config) (*Device, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Version == "" {
		cfg.Version = "1.20"
	}
	if cfg.Identity == "" {
		cfg.Identity = "OXYGEN-DAQ,SIM,000000,0.1"
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	d := &Device{
		ln:       ln,
		cfg:      cfg,
		format:   "ASCII",
		streams:  make(map[int]string),
		dstItems: make(map[int][]string),
	}
	go d.acceptLoop()
	return d, nil
}

// Addr returns the device address as host:port.
func (d *Device) Addr() string {
	return d.ln.Addr().String()
}

// Host returns the listen host.
func (d *Device) Host() string {
	host, _, _ := net.SplitHostPort(d.Addr())
	return host
}

// Port returns the listen port.
func (d *Device) Port() int {
	_, port, _ := net.SplitHostPort(d.Addr())
	p, _ := strconv.Atoi(port)
	return p
}

// Close stops the device.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.ln.Close()
}

// SetValues configures the flat value sequence served by :NUM:NORM:VAL?.
func (d *Device) SetValues(values ...float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values = append([]float64(nil), values...)
}

// SetDimensions configures the per-channel dimensions reported by
// :NUM:NORM:DIMS?.
func (d *Device) SetDimensions(dims ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dims = append([]int(nil), dims...)
}

// SetMaxDimensions configures the dimensions applied by :NUM:NORMAL:DIMn MAX.
func (d *Device) SetMaxDimensions(dims ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxDims = append([]int(nil), dims...)
}

// SetElogRows configures the rows returned by :ELOG:FETCH?, each row one
// timestamp column plus one column per event-log channel.
func (d *Device) SetElogRows(rows ...[]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elogRows = rows
}

// PushError enqueues an entry for the :SYST:ERR? queue.
func (d *Device) PushError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, msg)
}

// Commands returns all command lines received so far, oldest first.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *Device) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.serve(conn)
	}
}

func (d *Device) serve(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]
			if reply := d.handle(line); reply != nil {
				if _, err := conn.Write(append(reply, '\n')); err != nil {
					return
				}
			}
		}
	}
}

// handle processes one command line and returns the reply payload, or nil
// for commands without a reply.
func (d *Device) handle(line string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.commands = append(d.commands, line)

	switch {
	case line == "*IDN?":
		return []byte(d.cfg.Identity)

	case line == "*VER?":
		return []byte(fmt.Sprintf(`SCPI,"1999.0",RC_SCPI,"%s",OXYGEN,"6.0"`, d.cfg.Version))

	case line == "*RST":
		d.values = nil
		d.dims = nil
		d.channels = nil
		d.elog = nil
		d.format = "ASCII"
		return nil

	case strings.HasPrefix(line, ":NUM:NORMAL:ITEMS "):
		d.channels = parseQuotedList(strings.TrimPrefix(line, ":NUM:NORMAL:ITEMS "))
		return nil

	case line == ":NUM:NORMAL:ITEMS?":
		return d.reply(":NUM:ITEMS", quoteList(d.channels))

	case line == ":NUM:NORM:DIMS?":
		dims := d.dims
		if dims == nil {
			dims = onesFor(d.channels)
		}
		return d.reply(":NUM:DIMS", joinInts(dims))

	case strings.HasPrefix(line, ":NUM:NORMAL:DIM"):
		d.applyMaxDimension(line)
		return nil

	case strings.HasPrefix(line, ":NUM:NORM:FORMAT "):
		d.format = strings.TrimPrefix(line, ":NUM:NORM:FORMAT ")
		return nil

	case line == ":NUM:NORM:VAL?":
		return d.reply(":NUM:VAL", d.renderValues())

	case strings.HasPrefix(line, ":ELOG:ITEMS "):
		d.elog = parseQuotedList(strings.TrimPrefix(line, ":ELOG:ITEMS "))
		return nil

	case line == ":ELOG:ITEMS?":
		return d.reply(":ELOG:ITEM", quoteList(d.elog))

	case line == ":ELOG:FETCH?":
		return d.reply(":ELOG:FETCH", d.renderElog())

	case line == ":SYST:ERR?":
		if len(d.errors) == 0 {
			return d.reply(":SYST:ERR", `0,"No error"`)
		}
		msg := d.errors[0]
		d.errors = d.errors[1:]
		return d.reply(":SYST:ERR", msg)

	case strings.HasPrefix(line, ":DST:STAT") && strings.HasSuffix(line, "?"):
		group := dstGroup(line, ":DST:STAT")
		state := d.streams[group]
		if state == "" {
			state = "Idle"
		}
		return d.reply(":DST:STAT", state)

	case strings.HasPrefix(line, ":DST:INIT"):
		d.setStreams(line, ":DST:INIT", "Initialized")
		return nil

	case strings.HasPrefix(line, ":DST:START"):
		d.setStreams(line, ":DST:START", "Started")
		return nil

	case strings.HasPrefix(line, ":DST:STOP"):
		d.setStreams(line, ":DST:STOP", "Stopped")
		return nil

	case line == ":DST:RESET":
		d.streams = make(map[int]string)
		return nil

	default:
		// Set-only commands (:RATE, :SETUP:LOAD, :ACQU:*, :STOR:*,
		// :MARK:ADD, SYST:KLOCK, :COMM:HEAD, :NUM:NORMAL:NUMBER,
		// :ELOG control, :DST:ITEM/PORT) are recorded without a reply.
		if strings.HasPrefix(line, ":DST:ITEM") && strings.HasSuffix(line, "?") {
			group := dstGroup(line, ":DST:ITEM")
			return d.reply(fmt.Sprintf(":DST:ITEM%d", group), quoteList(d.streamItems(group)))
		}
		if strings.HasPrefix(line, ":DST:ITEM") {
			d.storeStreamItems(line)
		}
		return nil
	}
}

// reply renders a query reply, echoing the header token unless suppressed.
func (d *Device) reply(header, payload string) []byte {
	if d.cfg.NoHeaderEcho {
		return []byte(payload)
	}
	return []byte(header + " " + payload)
}

// renderValues renders the configured values in the active format.
func (d *Device) renderValues() string {
	switch d.format {
	case "BIN_INTEL", "BIN_MOTOROLA":
		data := make([]byte, 4*len(d.values))
		for i, f := range d.values {
			bits := math.Float32bits(float32(f))
			if d.format == "BIN_MOTOROLA" {
				binary.BigEndian.PutUint32(data[i*4:], bits)
			} else {
				binary.LittleEndian.PutUint32(data[i*4:], bits)
			}
		}
		count := strconv.Itoa(len(data))
		return "#" + strconv.Itoa(len(count)) + count + string(data)
	default:
		parts := make([]string, len(d.values))
		for i, f := range d.values {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, ",")
	}
}

// renderElog flattens the queued rows; an empty queue yields NONE.
func (d *Device) renderElog() string {
	if len(d.elogRows) == 0 {
		return "NONE"
	}
	var parts []string
	for _, row := range d.elogRows {
		parts = append(parts, row...)
	}
	return strings.Join(parts, ",")
}

// applyMaxDimension handles ":NUM:NORMAL:DIMn MAX".
func (d *Device) applyMaxDimension(line string) {
	rest := strings.TrimPrefix(line, ":NUM:NORMAL:DIM")
	fields := strings.Fields(rest)
	if len(fields) != 2 || fields[1] != "MAX" {
		return
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil || idx < 1 {
		return
	}
	if d.dims == nil {
		d.dims = onesFor(d.channels)
	}
	if idx <= len(d.dims) && idx <= len(d.maxDims) {
		d.dims[idx-1] = d.maxDims[idx-1]
	}
}

func (d *Device) setStreams(line, prefix, state string) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if strings.EqualFold(rest, "ALL") {
		for g := range d.streams {
			d.streams[g] = state
		}
		if len(d.streams) == 0 {
			d.streams[1] = state
		}
		return
	}
	if g, err := strconv.Atoi(rest); err == nil {
		d.streams[g] = state
	}
}

func (d *Device) storeStreamItems(line string) {
	// ":DST:ITEM<g> <quoted list>" - stream items share the channel list
	// storage keyed by group in the state map; for test purposes the
	// names are kept verbatim.
	rest := strings.TrimPrefix(line, ":DST:ITEM")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return
	}
	g, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return
	}
	d.dstItems[g] = parseQuotedList(rest[sp+1:])
}

func (d *Device) streamItems(group int) []string {
	return d.dstItems[group]
}

// dstGroup extracts the numeric group suffix from ":DST:XXXn?" lines.
func dstGroup(line, prefix string) int {
	rest := strings.TrimSuffix(strings.TrimPrefix(line, prefix), "?")
	g, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 1
	}
	return g
}

func parseQuotedList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return names
}

func quoteList(names []string) string {
	if len(names) == 0 {
		return `"NONE"`
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ",")
}

func onesFor(channels []string) []int {
	dims := make([]int, len(channels))
	for i := range dims {
		dims[i] = 1
	}
	return dims
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
