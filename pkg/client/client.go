package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
	"github.com/oxygen-daq/oxygen-go/pkg/version"
)

// ErrUnsupportedVersion is returned when an operation requires a protocol
// version newer than the one the device announced. The command is never
// sent in that case.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// Client is the high-level command facade for one device. It wraps a
// transport connection and tracks the session state that spans commands:
// the active channel list, the value dimensions and the transfer format.
//
// A Client may be shared across goroutines; an internal mutex serializes
// the multi-command operations so one request completes before the next.
type Client struct {
	conn *transport.Conn

	mu           sync.Mutex
	channels     []string
	elogChannels []string
	dims         scpi.Dimensions
	format       scpi.Format
}

// New creates a client for the device described by the transport config.
// No connection is made until Connect or the first command.
func New(cfg transport.Config) *Client {
	return &Client{
		conn:   transport.New(cfg),
		format: scpi.FormatASCII,
	}
}

// Conn exposes the underlying transport connection, e.g. for raw queries.
func (c *Client) Conn() *transport.Conn {
	return c.conn
}

// Connect dials the device and negotiates the session.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect closes the connection. The client stays usable; the next
// command reconnects.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Version returns the protocol version announced by the device, or the
// conservative default when no reply has been seen yet.
func (c *Client) Version() version.SpecVersion {
	return c.conn.Version()
}

// Identity queries the device identification string (*IDN?).
func (c *Client) Identity(ctx context.Context) (string, error) {
	reply, err := c.conn.Query(ctx, "*IDN?")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(reply)), nil
}

// Reset issues *RST.
func (c *Client) Reset(ctx context.Context) error {
	return c.conn.Send(ctx, "*RST")
}

// SetRate sets the aggregation interval for the numeric system. The
// device accepts millisecond resolution.
func (c *Client) SetRate(ctx context.Context, interval time.Duration) error {
	return c.conn.Send(ctx, fmt.Sprintf(":RATE %dms", interval.Milliseconds()))
}

// LoadSetup loads a measurement setup (.dms) by name or absolute path on
// the device.
func (c *Client) LoadSetup(ctx context.Context, name string) error {
	return c.conn.Send(ctx, fmt.Sprintf(":SETUP:LOAD %q", name))
}

// SetTransferChannels selects the channels transferred by the numeric
// system and returns the list the device actually accepted. relTime and
// absTime prepend the device's relative and absolute time pseudo-channels.
// On protocol 1.6 and newer the per-channel dimensions are refreshed
// afterwards so Values can group vector channels.
func (c *Client) SetTransferChannels(ctx context.Context, names []string, relTime, absTime bool) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	request := make([]string, 0, len(names)+2)
	if absTime {
		request = append(request, "ABS-TIME")
	}
	if relTime {
		request = append(request, "REL-TIME")
	}
	request = append(request, names...)

	if err := c.conn.Send(ctx, ":NUM:NORMAL:ITEMS "+quoteList(request)); err != nil {
		return nil, err
	}

	accepted, err := c.queryChannelList(ctx, ":NUM:NORMAL:ITEMS?")
	if err != nil {
		return nil, err
	}
	c.channels = accepted

	if err := c.conn.Send(ctx, fmt.Sprintf(":NUM:NORMAL:NUMBER %d", len(accepted))); err != nil {
		return nil, err
	}

	if c.conn.Version().AtLeast(version.MinDimensionQuery) {
		if _, err := c.valueDimensionsLocked(ctx); err != nil {
			return nil, err
		}
	}
	return accepted, nil
}

// TransferChannels returns the channel list accepted by the last
// SetTransferChannels call.
func (c *Client) TransferChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

// ValueDimensions queries the per-channel element counts of the numeric
// system. Requires protocol 1.6.
func (c *Client) ValueDimensions(ctx context.Context) (scpi.Dimensions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valueDimensionsLocked(ctx)
}

func (c *Client) valueDimensionsLocked(ctx context.Context) (scpi.Dimensions, error) {
	if err := c.require(version.MinDimensionQuery); err != nil {
		return nil, err
	}

	reply, err := c.conn.Query(ctx, ":NUM:NORM:DIMS?")
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(string(transport.StripHeader(bytesTrim(reply))))

	dims := make(scpi.Dimensions, 0, 8)
	for _, field := range strings.Split(payload, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("malformed dimension reply %q: %w", payload, err)
		}
		dims = append(dims, d)
	}
	c.dims = dims
	return append(scpi.Dimensions(nil), dims...), nil
}

// SetMaxDimensions raises every channel to its maximum element count and
// refreshes the cached dimensions. Requires protocol 1.6.
func (c *Client) SetMaxDimensions(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dims, err := c.valueDimensionsLocked(ctx)
	if err != nil {
		return err
	}
	for i := range dims {
		if err := c.conn.Send(ctx, fmt.Sprintf(":NUM:NORMAL:DIM%d MAX", i+1)); err != nil {
			return err
		}
	}
	_, err = c.valueDimensionsLocked(ctx)
	return err
}

// Values queries the current values of the transfer channels and decodes
// them using the active format and the cached dimensions.
func (c *Client) Values(ctx context.Context) ([]scpi.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.conn.Query(ctx, ":NUM:NORM:VAL?")
	if err != nil {
		return nil, err
	}
	payload := trimReply(transport.StripHeader(reply))
	return scpi.Decode(payload, c.format, c.dims)
}

// ValueFormat returns the transfer format selected by the last successful
// SetValueFormat, FormatASCII by default.
func (c *Client) ValueFormat() scpi.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// SetValueFormat selects the transfer format of the numeric system.
// Binary formats require protocol 1.20.
func (c *Client) SetValueFormat(ctx context.Context, f scpi.Format) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f != scpi.FormatASCII {
		if err := c.require(version.MinBinaryFormat); err != nil {
			return err
		}
	}
	if err := c.conn.Send(ctx, ":NUM:NORM:FORMAT "+f.Keyword()); err != nil {
		return err
	}
	c.format = f
	return nil
}

// SetStoreFileName sets the file name for the next recording. The file is
// placed in the device's default measurement folder.
func (c *Client) SetStoreFileName(ctx context.Context, name string) error {
	return c.conn.Send(ctx, fmt.Sprintf(":STOR:FILE:NAME %q", name))
}

// StoreStart starts recording, or resumes a paused recording.
func (c *Client) StoreStart(ctx context.Context) error {
	return c.conn.Send(ctx, ":STOR:START")
}

// StorePause pauses a running recording.
func (c *Client) StorePause(ctx context.Context) error {
	return c.conn.Send(ctx, ":STOR:PAUSE")
}

// StoreStop stops the recording and finishes the data file.
func (c *Client) StoreStop(ctx context.Context) error {
	return c.conn.Send(ctx, ":STOR:STOP")
}

// StartAcquisition starts the acquisition.
func (c *Client) StartAcquisition(ctx context.Context) error {
	return c.conn.Send(ctx, ":ACQU:START")
}

// StopAcquisition stops the acquisition.
func (c *Client) StopAcquisition(ctx context.Context) error {
	return c.conn.Send(ctx, ":ACQU:STOP")
}

// RestartAcquisition restarts the acquisition.
func (c *Client) RestartAcquisition(ctx context.Context) error {
	return c.conn.Send(ctx, ":ACQU:RESTART")
}

// Marker describes an annotation placed on the recording timeline.
type Marker struct {
	Label       string
	Description string   // optional
	Time        *float64 // recording time in seconds; nil places it "now"
}

// AddMarker places a marker on the recording.
func (c *Client) AddMarker(ctx context.Context, m Marker) error {
	var b strings.Builder
	fmt.Fprintf(&b, ":MARK:ADD %q", m.Label)
	if m.Description != "" {
		fmt.Fprintf(&b, ",%q", m.Description)
	}
	if m.Time != nil {
		fmt.Fprintf(&b, ",%f", *m.Time)
	}
	return c.conn.Send(ctx, b.String())
}

// LockScreen locks or unlocks the device screen.
func (c *Client) LockScreen(ctx context.Context, locked bool) error {
	if locked {
		return c.conn.Send(ctx, "SYST:KLOCK ON")
	}
	return c.conn.Send(ctx, "SYST:KLOCK OFF")
}

// NextError pops the oldest entry from the device error queue. An empty
// queue reads back as `0,"No error"`.
func (c *Client) NextError(ctx context.Context) (string, error) {
	reply, err := c.conn.Query(ctx, ":SYST:ERR?")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(transport.StripHeader(bytesTrim(reply)))), nil
}

// require fails with ErrUnsupportedVersion when the announced protocol
// version is below min.
func (c *Client) require(min version.SpecVersion) error {
	if v := c.conn.Version(); !v.AtLeast(min) {
		return fmt.Errorf("%w: device speaks %s, need %s", ErrUnsupportedVersion, v, min)
	}
	return nil
}

// queryChannelList reads back a quoted channel list reply. The device
// answers `"NONE"` when nothing was accepted, which maps to an empty list.
func (c *Client) queryChannelList(ctx context.Context, cmd string) ([]string, error) {
	reply, err := c.conn.Query(ctx, cmd)
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(string(transport.StripHeader(bytesTrim(reply))))
	return parseChannelList(payload), nil
}

// parseChannelList splits a `"a","b","c"` reply into names. Names may
// contain commas, so the split happens on the quote-comma-quote boundary.
func parseChannelList(payload string) []string {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, `"`)
	payload = strings.TrimSuffix(payload, `"`)
	if payload == "" || payload == "NONE" {
		return nil
	}
	return strings.Split(payload, `","`)
}

// quoteList renders a channel list as `"a","b","c"`.
func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ",")
}

// bytesTrim removes trailing line terminators from a text reply.
func bytesTrim(reply []byte) []byte {
	for len(reply) > 0 && (reply[len(reply)-1] == '\n' || reply[len(reply)-1] == '\r') {
		reply = reply[:len(reply)-1]
	}
	return reply
}

// trimReply removes the reply terminator from a value payload. A binary
// block may legitimately end in 0x0A or 0x0D data bytes, so for a '#'
// block exactly the one appended '\n' is removed; text payloads are
// trimmed like any other reply.
func trimReply(payload []byte) []byte {
	if len(payload) > 0 && payload[0] == '#' {
		if payload[len(payload)-1] == '\n' {
			payload = payload[:len(payload)-1]
		}
		return payload
	}
	return bytesTrim(payload)
}
