package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
	"github.com/oxygen-daq/oxygen-go/pkg/version"
)

// TimestampMode selects the timestamp column emitted by the event log.
type TimestampMode string

// Timestamp modes accepted by SetElogTimestamp.
const (
	TimestampRelative TimestampMode = "REL"
	TimestampAbsolute TimestampMode = "ABS"
	TimestampOff      TimestampMode = "OFF"
)

// SetElogChannels selects the channels recorded by the event log and
// returns the list the device accepted. Requires protocol 1.7. An empty
// read-back means the device rejected every channel and is an error.
func (c *Client) SetElogChannels(ctx context.Context, names []string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(version.MinElog); err != nil {
		return nil, err
	}

	if err := c.conn.Send(ctx, ":ELOG:ITEMS "+quoteList(names)); err != nil {
		return nil, err
	}
	accepted, err := c.queryChannelList(ctx, ":ELOG:ITEMS?")
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, fmt.Errorf("event log accepted no channels: %w", scpi.ErrNoData)
	}
	c.elogChannels = accepted
	return accepted, nil
}

// ElogChannels returns the channel list accepted by the last
// SetElogChannels call.
func (c *Client) ElogChannels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.elogChannels...)
}

// SetElogPeriod sets the event-log aggregation period.
func (c *Client) SetElogPeriod(ctx context.Context, period time.Duration) error {
	p := strconv.FormatFloat(period.Seconds(), 'f', -1, 64)
	return c.conn.Send(ctx, ":ELOG:PERIOD "+p)
}

// SetElogTimestamp selects the timestamp column mode.
func (c *Client) SetElogTimestamp(ctx context.Context, mode TimestampMode) error {
	switch mode {
	case TimestampRelative, TimestampAbsolute, TimestampOff:
	default:
		return fmt.Errorf("unknown timestamp mode %q", mode)
	}
	return c.conn.Send(ctx, ":ELOG:TIM "+string(mode))
}

// StartElog starts event-log recording.
func (c *Client) StartElog(ctx context.Context) error {
	return c.conn.Send(ctx, ":ELOG:START")
}

// StopElog stops event-log recording.
func (c *Client) StopElog(ctx context.Context) error {
	return c.conn.Send(ctx, ":ELOG:STOP")
}

// FetchElog retrieves the rows accumulated since the last fetch. Each row
// holds the timestamp column followed by one field per event-log channel.
// A `NONE` reply means no data was available and maps to scpi.ErrNoData.
func (c *Client) FetchElog(ctx context.Context) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.conn.Query(ctx, ":ELOG:FETCH?")
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(string(transport.StripHeader(bytesTrim(reply))))
	if strings.Contains(payload, "NONE") {
		return nil, fmt.Errorf("event log fetch: %w", scpi.ErrNoData)
	}

	fields := strings.Split(payload, ",")
	rowLen := len(c.elogChannels) + 1
	rows := make([][]string, 0, len(fields)/rowLen)
	for i := 0; i+rowLen <= len(fields); i += rowLen {
		rows = append(rows, fields[i:i+rowLen])
	}
	return rows, nil
}
