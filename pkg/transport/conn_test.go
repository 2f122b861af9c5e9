package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

const testVersionReply = `SCPI,"1999.0",RC_SCPI,"1.6",OXYGEN,"2.5.71"` + "\n"

// startDevice runs a minimal line-oriented device on a loopback listener.
// handle receives each command line (terminator stripped) and may write a
// reply. Returning false closes the connection.
func startDevice(t *testing.T, handle func(cmd string, w io.Writer) bool) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if !handle(strings.TrimSuffix(line, "\n"), conn) {
						return
					}
				}
			}(conn)
		}
	}()

	return ln
}

// defaultHandle answers the negotiation commands and a few test queries.
func defaultHandle(cmd string, w io.Writer) bool {
	switch {
	case cmd == "*VER?":
		io.WriteString(w, testVersionReply)
	case cmd == "*IDN?":
		io.WriteString(w, "OXYGEN,TEST,0,1.0\n")
	case cmd == ":SLOW?":
		// Reply split across writes to exercise accumulation.
		io.WriteString(w, "1.0,")
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, "2.0\n")
	case cmd == ":NOTERM?":
		io.WriteString(w, "partial reply without terminator")
	case cmd == ":DROP?":
		return false
	}
	return true
}

func testConfig(addr string) Config {
	host, port, _ := net.SplitHostPort(addr)
	cfg := DefaultConfig(host)
	cfg.Port, _ = strconv.Atoi(port)
	cfg.CommandDelay = time.Millisecond
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.ConnectTimeout = time.Second
	return cfg
}

func TestConnect_Negotiates(t *testing.T) {
	var sawHeadersOff atomic.Bool
	ln := startDevice(t, func(cmd string, w io.Writer) bool {
		if cmd == ":COMM:HEAD OFF" {
			sawHeadersOff.Store(true)
		}
		return defaultHandle(cmd, w)
	})

	c := New(testConfig(ln.Addr().String()))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if c.State() != StateConnected {
		t.Errorf("State = %v, want CONNECTED", c.State())
	}
	if !sawHeadersOff.Load() {
		t.Error("headers-off negotiation command never sent")
	}
	if v := c.Version(); v.Major != 1 || v.Minor != 6 {
		t.Errorf("Version = %v, want 1.6", v)
	}
}

func TestQuery(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))
	defer c.Disconnect()

	reply, err := c.Query(context.Background(), "*IDN?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got := strings.TrimSpace(string(reply)); got != "OXYGEN,TEST,0,1.0" {
		t.Errorf("reply = %q", got)
	}
}

func TestQuery_AccumulatesChunks(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))
	defer c.Disconnect()

	reply, err := c.Query(context.Background(), ":SLOW?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got := strings.TrimSpace(string(reply)); got != "1.0,2.0" {
		t.Errorf("reply = %q, want %q", got, "1.0,2.0")
	}
}

func TestQuery_LazyConnect(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))
	defer c.Disconnect()

	if c.State() != StateDisconnected {
		t.Fatalf("new Conn is %v, want DISCONNECTED", c.State())
	}
	if _, err := c.Query(context.Background(), "*IDN?"); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State = %v, want CONNECTED after lazy connect", c.State())
	}
}

func TestQuery_Timeout(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))

	_, err := c.Query(context.Background(), ":NOTERM?")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Query error = %v, want ErrTimeout", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED after timeout", c.State())
	}
}

func TestQuery_ReconnectsAfterFailure(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))
	defer c.Disconnect()

	if _, err := c.Query(context.Background(), ":NOTERM?"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The failed call disconnected; the next one reconnects transparently.
	reply, err := c.Query(context.Background(), "*IDN?")
	if err != nil {
		t.Fatalf("Query after failure failed: %v", err)
	}
	if !strings.HasPrefix(string(reply), "OXYGEN") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	c := New(testConfig(ln.Addr().String()))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Fatalf("State = %v, want DISCONNECTED", c.State())
	}
	// Second call is a no-op.
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Errorf("State = %v after second Disconnect", c.State())
	}
}

// flakyDialer fails with a transient error a fixed number of times before
// delegating to the real dialer.
type flakyDialer struct {
	failures int32 // set before use
	attempts atomic.Int32
	real     net.Dialer
}

func (d *flakyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	n := d.attempts.Add(1)
	if n <= d.failures {
		return nil, fmt.Errorf("simulated transient failure %d", n)
	}
	return d.real.DialContext(ctx, network, address)
}

// refusingDialer always reports connection refused.
type refusingDialer struct {
	attempts atomic.Int32
}

func (d *refusingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.attempts.Add(1)
	return nil, &net.OpError{
		Op:  "dial",
		Net: network,
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	}
}

func TestConnect_RetriesTransientFailures(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	dialer := &flakyDialer{failures: 2}
	cfg := testConfig(ln.Addr().String())
	cfg.Dialer = dialer

	c := New(cfg)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	if c.State() != StateConnected {
		t.Errorf("State = %v, want CONNECTED", c.State())
	}
	if got := dialer.attempts.Load(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestConnect_ExhaustsRetryBound(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	dialer := &flakyDialer{failures: 99}
	cfg := testConfig(ln.Addr().String())
	cfg.Dialer = dialer

	c := New(cfg)
	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded despite persistent failures")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", c.State())
	}
	if got := dialer.attempts.Load(); got != DefaultConnectAttempts {
		t.Errorf("dial attempts = %d, want %d", got, DefaultConnectAttempts)
	}
}

func TestConnect_RefusedAbortsImmediately(t *testing.T) {
	dialer := &refusingDialer{}
	cfg := DefaultConfig("127.0.0.1")
	cfg.Dialer = dialer
	cfg.CommandDelay = time.Millisecond

	c := New(cfg)
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrRefused) {
		t.Fatalf("Connect error = %v, want ErrRefused", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", c.State())
	}
	if got := dialer.attempts.Load(); got != 1 {
		t.Errorf("dial attempts = %d, want 1 (no retry after refusal)", got)
	}
}

func TestSend_WritesTerminatedLine(t *testing.T) {
	lines := make(chan string, 16)
	ln := startDevice(t, func(cmd string, w io.Writer) bool {
		lines <- cmd
		return defaultHandle(cmd, w)
	})

	c := New(testConfig(ln.Addr().String()))
	defer c.Disconnect()

	if err := c.Send(context.Background(), ":ACQU:START"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Negotiation lines come first, then our command.
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-lines:
			if got == ":ACQU:START" {
				return
			}
		case <-deadline:
			t.Fatal("device never received :ACQU:START")
		}
	}
}

func TestBlockSizeFraming_EndToEnd(t *testing.T) {
	ln := startDevice(t, defaultHandle)

	cfg := testConfig(ln.Addr().String())
	cfg.Framing = BlockSizeFraming{BlockSize: cfg.BlockSize}

	c := New(cfg)
	defer c.Disconnect()

	reply, err := c.Query(context.Background(), "*IDN?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !strings.HasPrefix(string(reply), "OXYGEN") {
		t.Errorf("reply = %q", reply)
	}
}
