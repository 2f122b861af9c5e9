package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
	"github.com/oxygen-daq/oxygen-go/pkg/version"
)

// Stream controls one data-stream group. Groups are numbered from 1; the
// device pushes the selected channels over a separate TCP port once the
// group is initialized and started.
type Stream struct {
	c     *Client
	group int
}

// Stream returns the handle for a data-stream group.
func (c *Client) Stream(group int) Stream {
	return Stream{c: c, group: group}
}

// Group returns the group number.
func (s Stream) Group() int {
	return s.group
}

// SetItems selects the channels pushed by this stream group and returns
// the list the device accepted. Requires protocol 1.7. An empty read-back
// means the device rejected every channel and is an error.
func (s Stream) SetItems(ctx context.Context, names []string) ([]string, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if err := s.c.require(version.MinDataStream); err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf(":DST:ITEM%d ", s.group)
	if err := s.c.conn.Send(ctx, cmd+quoteList(names)); err != nil {
		return nil, err
	}
	accepted, err := s.c.queryChannelList(ctx, fmt.Sprintf(":DST:ITEM%d?", s.group))
	if err != nil {
		return nil, err
	}
	if len(accepted) == 0 {
		return nil, fmt.Errorf("stream group %d accepted no channels: %w", s.group, scpi.ErrNoData)
	}
	return accepted, nil
}

// SetPort sets the TCP port the group pushes data on.
func (s Stream) SetPort(ctx context.Context, port int) error {
	return s.c.conn.Send(ctx, fmt.Sprintf(":DST:PORT%d %d", s.group, port))
}

// Init initializes the group.
func (s Stream) Init(ctx context.Context) error {
	return s.c.conn.Send(ctx, fmt.Sprintf(":DST:INIT %d", s.group))
}

// Start starts the group.
func (s Stream) Start(ctx context.Context) error {
	return s.c.conn.Send(ctx, fmt.Sprintf(":DST:START %d", s.group))
}

// Stop stops the group.
func (s Stream) Stop(ctx context.Context) error {
	return s.c.conn.Send(ctx, fmt.Sprintf(":DST:STOP %d", s.group))
}

// State queries the group state (e.g. Idle, Initialized, Started).
func (s Stream) State(ctx context.Context) (string, error) {
	reply, err := s.c.conn.Query(ctx, fmt.Sprintf(":DST:STAT%d?", s.group))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(transport.StripHeader(bytesTrim(reply)))), nil
}

// InitAllStreams initializes every configured stream group.
func (c *Client) InitAllStreams(ctx context.Context) error {
	return c.conn.Send(ctx, ":DST:INIT ALL")
}

// StartAllStreams starts every configured stream group.
func (c *Client) StartAllStreams(ctx context.Context) error {
	return c.conn.Send(ctx, ":DST:START ALL")
}

// StopAllStreams stops every configured stream group.
func (c *Client) StopAllStreams(ctx context.Context) error {
	return c.conn.Send(ctx, ":DST:STOP ALL")
}

// ResetStreams clears the data-stream configuration.
func (c *Client) ResetStreams(ctx context.Context) error {
	return c.conn.Send(ctx, ":DST:RESET")
}
