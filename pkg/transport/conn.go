package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/oxygen-daq/oxygen-go/pkg/log"
	"github.com/oxygen-daq/oxygen-go/pkg/version"
)

// Connection states.
type State int32

const (
	// StateDisconnected indicates no connection.
	StateDisconnected State = iota

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns the connection state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("receive timeout")
	ErrRefused      = errors.New("connection refused")
)

// Connection defaults.
const (
	// DefaultPort is the device's SCPI control port.
	DefaultPort = 10001

	// DefaultConnectAttempts bounds the sequential dial attempts.
	DefaultConnectAttempts = 3

	// DefaultConnectTimeout is the per-attempt dial timeout.
	DefaultConnectTimeout = 2 * time.Second

	// DefaultReadTimeout is the timeout for each blocking receive.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the timeout for each write.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultCommandDelay is the device's minimum inter-command spacing.
	DefaultCommandDelay = 500 * time.Millisecond
)

// Session negotiation commands issued after every successful dial.
const (
	cmdHeadersOff   = ":COMM:HEAD OFF"
	cmdVersionQuery = "*VER?"
)

// Dialer abstracts connection establishment. *net.Dialer satisfies it;
// tests inject failing dialers to exercise the retry policy.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a device connection.
type Config struct {
	// Host is the device address (IP or hostname).
	Host string

	// Port is the SCPI control port (default: 10001).
	Port int

	// ConnectAttempts bounds sequential dial attempts (default: 3).
	ConnectAttempts int

	// ConnectTimeout is the per-attempt dial timeout (default: 2s).
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for each blocking receive (default: 5s).
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for each write (default: 2s).
	WriteTimeout time.Duration

	// CommandDelay is the pause after every successful Send, respecting
	// the device's minimum inter-command spacing (default: 500ms).
	CommandDelay time.Duration

	// BlockSize is the receive chunk size (default: 4096).
	BlockSize int

	// Framing selects the reply boundary strategy (default: TerminatorFraming).
	Framing Framing

	// Dialer establishes connections (default: &net.Dialer{}).
	Dialer Dialer

	// Logger receives protocol events (default: NoopLogger).
	Logger log.Logger
}

// DefaultConfig returns the default connection configuration for a host.
func DefaultConfig(host string) Config {
	return Config{
		Host:            host,
		Port:            DefaultPort,
		ConnectAttempts: DefaultConnectAttempts,
		ConnectTimeout:  DefaultConnectTimeout,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		CommandDelay:    DefaultCommandDelay,
		BlockSize:       DefaultBlockSize,
	}
}

// Conn owns exactly one TCP connection to one device.
//
// Send and Query lazily reconnect when the socket is gone, so a transport
// failure is never fatal: the failed call reports an error, the socket is
// discarded, and the next call dials again. Conn serializes callers
// internally; one request completes fully before the next is issued.
type Conn struct {
	config Config
	id     string
	addr   string

	state atomic.Int32

	// mu serializes send/receive pairs and guards conn and version.
	mu      sync.Mutex
	conn    net.Conn
	version version.SpecVersion
}

// New creates a new connection (not yet connected).
func New(config Config) *Conn {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ConnectAttempts <= 0 {
		config.ConnectAttempts = DefaultConnectAttempts
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.CommandDelay < 0 {
		config.CommandDelay = DefaultCommandDelay
	}
	if config.BlockSize <= 0 {
		config.BlockSize = DefaultBlockSize
	}
	if config.Framing == nil {
		config.Framing = TerminatorFraming{}
	}
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{}
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	c := &Conn{
		config:  config,
		id:      uuid.NewString(),
		addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		version: version.Default,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the device address as host:port.
func (c *Conn) Addr() string {
	return c.addr
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Version returns the device's protocol version. Until a version query
// has succeeded this is version.Default; it is refreshed on every
// successful connect, including lazy reconnects.
func (c *Conn) Version() version.SpecVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Connect dials the device. Up to ConnectAttempts sequential attempts are
// made with a per-attempt timeout; a refused connection aborts immediately
// with no further attempts. On success the session is brought into a known
// state: reply headers are switched off and the protocol version queried.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Disconnect performs an orderly shutdown and close. Shutdown and close
// errors are logged, not returned; the stored handle is always cleared so
// the next Send or Query triggers reconnection. Calling Disconnect on an
// already disconnected Conn is a no-op.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked("disconnect requested")
}

// Send writes one command line, reconnecting first if necessary, then
// pauses for CommandDelay to respect the device's minimum inter-command
// spacing. Any transport error disconnects and is returned.
func (c *Conn) Send(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(ctx, cmd); err != nil {
		return err
	}
	return c.pauseLocked(ctx)
}

// Query writes one command line and reads until the framing strategy
// reports a complete reply. The raw reply bytes are returned, including
// any echoed header token (see StripHeader) and the trailing terminator.
// Any transport error disconnects and is returned; a read timeout is
// reported as ErrTimeout.
func (c *Conn) Query(ctx context.Context, cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(ctx, cmd); err != nil {
		return nil, err
	}
	return c.readLocked(ctx)
}

// connectLocked dials with bounded retry. Caller holds mu.
func (c *Conn) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.ConnectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
		nc, err := c.config.Dialer.DialContext(dialCtx, "tcp", c.addr)
		cancel()

		if err != nil {
			if errors.Is(err, syscall.ECONNREFUSED) {
				// A refusal means the device is reachable but not
				// listening; retrying cannot help.
				err = fmt.Errorf("%w: %s: %v", ErrRefused, c.addr, err)
				c.logError(err, "connect")
				return err
			}
			lastErr = err
			c.logError(err, fmt.Sprintf("connect attempt %d/%d", attempt, c.config.ConnectAttempts))
			continue
		}

		if tcp, ok := nc.(*net.TCPConn); ok {
			// Leave Nagle enabled so rapid small command writes coalesce.
			_ = tcp.SetNoDelay(false)
		}

		c.conn = nc
		c.setState(StateConnected, "connected")

		if err := c.negotiateLocked(ctx); err != nil {
			lastErr = err
			c.disconnectLocked("negotiation failed")
			continue
		}
		return nil
	}

	return fmt.Errorf("connect to %s failed after %d attempts: %w", c.addr, c.config.ConnectAttempts, lastErr)
}

// negotiateLocked brings a fresh session into a known configuration state:
// reply headers off, protocol version queried. A transport error fails the
// connect attempt; a version reply the parser does not understand leaves
// the default version in place.
func (c *Conn) negotiateLocked(ctx context.Context) error {
	if err := c.writeLocked(ctx, cmdHeadersOff); err != nil {
		return err
	}
	if err := c.pauseLocked(ctx); err != nil {
		return err
	}

	if err := c.writeLocked(ctx, cmdVersionQuery); err != nil {
		return err
	}
	reply, err := c.readLocked(ctx)
	if err != nil {
		return err
	}

	v, err := version.ParseReply(string(reply))
	if err != nil {
		c.logError(err, "version query")
		c.version = version.Default
		return nil
	}
	c.version = v
	return nil
}

// writeLocked appends the terminator and writes all bytes, reconnecting
// lazily first. Caller holds mu.
func (c *Conn) writeLocked(ctx context.Context, cmd string) error {
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}

	line := make([]byte, 0, len(cmd)+1)
	line = append(line, cmd...)
	line = append(line, Terminator)

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if _, err := c.conn.Write(line); err != nil {
		c.disconnectLocked("write failed")
		err = fmt.Errorf("send %q: %w", cmd, err)
		c.logError(err, "send")
		return err
	}

	c.logCommand(cmd)
	return nil
}

// readLocked accumulates socket reads until the framing strategy reports a
// complete reply. Caller holds mu.
func (c *Conn) readLocked(ctx context.Context) ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	var reply []byte
	chunk := make([]byte, c.config.BlockSize)
	for {
		if err := ctx.Err(); err != nil {
			c.disconnectLocked("canceled")
			return nil, err
		}

		if c.config.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		n, err := c.conn.Read(chunk)
		if n > 0 {
			reply = append(reply, chunk[:n]...)
			if c.config.Framing.Done(reply, n) {
				c.logResponse(reply)
				return reply, nil
			}
		}
		if err != nil {
			c.disconnectLocked("read failed")
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				err = fmt.Errorf("%w after %d bytes", ErrTimeout, len(reply))
			} else {
				err = fmt.Errorf("receive: %w", err)
			}
			c.logError(err, "receive")
			return nil, err
		}
	}
}

// pauseLocked enforces the inter-command spacing after a successful send.
func (c *Conn) pauseLocked(ctx context.Context) error {
	if c.config.CommandDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.config.CommandDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnectLocked shuts down and closes the socket. Caller holds mu.
func (c *Conn) disconnectLocked(reason string) {
	if c.conn == nil {
		return
	}

	if tcp, ok := c.conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			c.logError(err, "shutdown")
		}
	}
	if err := c.conn.Close(); err != nil {
		c.logError(err, "close")
	}
	c.conn = nil
	c.setState(StateDisconnected, reason)
}

// setState records a state transition and logs it.
func (c *Conn) setState(s State, reason string) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Category:     log.CategoryState,
		RemoteAddr:   c.addr,
		StateChange: &log.StateChangeEvent{
			OldState: old.String(),
			NewState: s.String(),
			Reason:   reason,
		},
	})
}

func (c *Conn) logCommand(cmd string) {
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Category:     log.CategoryCommand,
		RemoteAddr:   c.addr,
		Command:      &log.CommandEvent{Text: cmd},
	})
}

func (c *Conn) logResponse(reply []byte) {
	data := reply
	truncated := false
	if len(data) > MaxLogResponseSize {
		data = data[:MaxLogResponseSize]
		truncated = true
	}
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Category:     log.CategoryResponse,
		RemoteAddr:   c.addr,
		Response: &log.ResponseEvent{
			Size:      len(reply),
			Data:      data,
			Truncated: truncated,
		},
	})
}

func (c *Conn) logError(err error, context string) {
	c.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Category:     log.CategoryError,
		RemoteAddr:   c.addr,
		Error: &log.ErrorEventData{
			Message: err.Error(),
			Context: context,
		},
	})
}
