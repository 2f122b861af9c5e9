package client

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygen-daq/oxygen-go/internal/fakedevice"
	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
)

// newTestClient starts a simulated device and a client wired to it.
func newTestClient(t *testing.T, devCfg fakedevice.Config) (*Client, *fakedevice.Device) {
	t.Helper()

	dev, err := fakedevice.Listen(devCfg)
	require.NoError(t, err, "fake device failed to start")
	t.Cleanup(func() { dev.Close() })

	cfg := transport.DefaultConfig(dev.Host())
	cfg.Port = dev.Port()
	cfg.CommandDelay = time.Millisecond
	cfg.ReadTimeout = 500 * time.Millisecond

	c := New(cfg)
	t.Cleanup(c.Disconnect)
	return c, dev
}

func hasCommand(cmds []string, want string) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

func TestIdentity(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{Identity: "OXYGEN,DEWE2,123,6.0"})

	idn, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OXYGEN,DEWE2,123,6.0", idn)
}

func TestVersionNegotiated(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{Version: "1.7"})

	require.NoError(t, c.Connect(context.Background()))
	v := c.Version()
	assert.Equal(t, 1, v.Major)
	assert.Equal(t, 7, v.Minor)
}

func TestSetTransferChannels(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.6"})
	dev.SetDimensions(1, 1)

	accepted, err := c.SetTransferChannels(context.Background(), []string{"Ch A", "Ch B"}, false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ch A", "Ch B"}, accepted)
	assert.Equal(t, []string{"Ch A", "Ch B"}, c.TransferChannels())

	cmds := dev.Commands()
	assert.True(t, hasCommand(cmds, `:NUM:NORMAL:ITEMS "Ch A","Ch B"`))
	assert.True(t, hasCommand(cmds, ":NUM:NORMAL:NUMBER 2"))
	assert.True(t, hasCommand(cmds, ":NUM:NORM:DIMS?"), "dimension refresh expected on 1.6")
}

func TestSetTransferChannels_TimeChannelsPrepended(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.5"})

	_, err := c.SetTransferChannels(context.Background(), []string{"Ch A"}, true, true)
	require.NoError(t, err)

	assert.True(t, hasCommand(dev.Commands(), `:NUM:NORMAL:ITEMS "ABS-TIME","REL-TIME","Ch A"`))
}

func TestSetTransferChannels_NoDimensionQueryBefore16(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.5"})

	_, err := c.SetTransferChannels(context.Background(), []string{"Ch A"}, false, false)
	require.NoError(t, err)

	assert.False(t, hasCommand(dev.Commands(), ":NUM:NORM:DIMS?"),
		"dimension query must not be sent below 1.6")
}

func TestValues_ASCII(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{})
	dev.SetValues(1.5, -2.25)

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, scpi.Float(1.5), values[0])
	assert.Equal(t, scpi.Float(-2.25), values[1])
}

func TestValues_GroupsVectorChannels(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.6"})
	dev.SetDimensions(1, 3, 1)
	dev.SetValues(1, 2, 3, 4, 5)

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.ValueDimensions(context.Background())
	require.NoError(t, err)

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, scpi.Float(1), values[0])
	assert.Equal(t, scpi.Vector{2, 3, 4}, values[1])
	assert.Equal(t, scpi.Float(5), values[2])
}

func TestValues_Binary(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.20"})
	dev.SetValues(1.0, 2.0)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SetValueFormat(context.Background(), scpi.FormatBinaryLE))
	assert.True(t, hasCommand(dev.Commands(), ":NUM:NORM:FORMAT BIN_INTEL"))

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, scpi.Float(1.0), values[0])
	assert.Equal(t, scpi.Float(2.0), values[1])
}

func TestValues_BinaryDataEndsInTerminatorByte(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.20"})

	// A float32 whose little-endian wire encoding ends in 0x0a. The
	// device still appends its own '\n'; only that byte may be trimmed.
	v := float64(math.Float32frombits(0x0a000000))
	dev.SetValues(v)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SetValueFormat(context.Background(), scpi.FormatBinaryLE))

	values, err := c.Values(context.Background())
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, scpi.Float(v), values[0])
}

func TestSetValueFormat_GatedByVersion(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.7"})
	require.NoError(t, c.Connect(context.Background()))

	err := c.SetValueFormat(context.Background(), scpi.FormatBinaryLE)
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	for _, cmd := range dev.Commands() {
		assert.False(t, strings.HasPrefix(cmd, ":NUM:NORM:FORMAT"),
			"gated command must not reach the wire: %s", cmd)
	}
	assert.Equal(t, scpi.FormatASCII, c.ValueFormat(), "format cache must stay unchanged")
}

func TestSetMaxDimensions(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.6"})
	dev.SetDimensions(1, 1)
	dev.SetMaxDimensions(1, 4)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SetMaxDimensions(context.Background()))

	dims, err := c.ValueDimensions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scpi.Dimensions{1, 4}, dims)
}

func TestElogRoundTrip(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.7"})

	require.NoError(t, c.Connect(context.Background()))
	accepted, err := c.SetElogChannels(context.Background(), []string{"Ch A", "Ch B"})
	require.NoError(t, err)
	require.Equal(t, []string{"Ch A", "Ch B"}, accepted)

	require.NoError(t, c.SetElogPeriod(context.Background(), 100*time.Millisecond))
	require.NoError(t, c.SetElogTimestamp(context.Background(), TimestampRelative))
	require.NoError(t, c.StartElog(context.Background()))

	dev.SetElogRows(
		[]string{"0.1", "1.0", "2.0"},
		[]string{"0.2", "1.1", "2.1"},
	)
	rows, err := c.FetchElog(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"0.1", "1.0", "2.0"}, rows[0])
	assert.Equal(t, []string{"0.2", "1.1", "2.1"}, rows[1])

	require.NoError(t, c.StopElog(context.Background()))

	cmds := dev.Commands()
	assert.True(t, hasCommand(cmds, ":ELOG:PERIOD 0.1"))
	assert.True(t, hasCommand(cmds, ":ELOG:TIM REL"))
	assert.True(t, hasCommand(cmds, ":ELOG:START"))
	assert.True(t, hasCommand(cmds, ":ELOG:STOP"))
}

func TestFetchElog_NoData(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{Version: "1.7"})

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.SetElogChannels(context.Background(), []string{"Ch A"})
	require.NoError(t, err)

	_, err = c.FetchElog(context.Background())
	assert.ErrorIs(t, err, scpi.ErrNoData)
}

func TestSetElogChannels_GatedByVersion(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.6"})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.SetElogChannels(context.Background(), []string{"Ch A"})
	require.ErrorIs(t, err, ErrUnsupportedVersion)

	for _, cmd := range dev.Commands() {
		assert.False(t, strings.HasPrefix(cmd, ":ELOG:"),
			"gated command must not reach the wire: %s", cmd)
	}
}

func TestSetElogTimestamp_RejectsUnknownMode(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{})
	err := c.SetElogTimestamp(context.Background(), TimestampMode("SOMETIME"))
	assert.Error(t, err)
}

func TestStreamLifecycle(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{Version: "1.7"})
	s := c.Stream(1)

	require.NoError(t, c.Connect(context.Background()))
	accepted, err := s.SetItems(context.Background(), []string{"Ch A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ch A"}, accepted)

	require.NoError(t, s.SetPort(context.Background(), 10002))
	require.NoError(t, s.Init(context.Background()))

	state, err := s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Initialized", state)

	require.NoError(t, s.Start(context.Background()))
	state, err = s.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Started", state)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, c.ResetStreams(context.Background()))

	cmds := dev.Commands()
	assert.True(t, hasCommand(cmds, ":DST:PORT1 10002"))
	assert.True(t, hasCommand(cmds, ":DST:RESET"))
}

func TestStreamSetItems_GatedByVersion(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{Version: "1.6"})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Stream(1).SetItems(context.Background(), []string{"Ch A"})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestNextError(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{})
	dev.PushError(`313,"Channel not found"`)

	msg, err := c.NextError(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `313,"Channel not found"`, msg)

	msg, err = c.NextError(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `0,"No error"`, msg)
}

func TestAddMarker(t *testing.T) {
	at := 2.5

	tests := []struct {
		name   string
		marker Marker
		want   string
	}{
		{"label only", Marker{Label: "m1"}, `:MARK:ADD "m1"`},
		{"label and description", Marker{Label: "m1", Description: "note"}, `:MARK:ADD "m1","note"`},
		{"label and time", Marker{Label: "m1", Time: &at}, `:MARK:ADD "m1",2.500000`},
		{"all fields", Marker{Label: "m1", Description: "note", Time: &at}, `:MARK:ADD "m1","note",2.500000`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dev := newTestClient(t, fakedevice.Config{})
			require.NoError(t, c.AddMarker(context.Background(), tt.marker))
			assert.True(t, hasCommand(dev.Commands(), tt.want), "commands: %v", dev.Commands())
		})
	}
}

func TestSimpleCommands(t *testing.T) {
	c, dev := newTestClient(t, fakedevice.Config{})
	ctx := context.Background()

	require.NoError(t, c.SetRate(ctx, 200*time.Millisecond))
	require.NoError(t, c.LoadSetup(ctx, "bench.dms"))
	require.NoError(t, c.SetStoreFileName(ctx, "run-01"))
	require.NoError(t, c.StoreStart(ctx))
	require.NoError(t, c.StorePause(ctx))
	require.NoError(t, c.StoreStop(ctx))
	require.NoError(t, c.StartAcquisition(ctx))
	require.NoError(t, c.RestartAcquisition(ctx))
	require.NoError(t, c.StopAcquisition(ctx))
	require.NoError(t, c.LockScreen(ctx, true))
	require.NoError(t, c.LockScreen(ctx, false))
	require.NoError(t, c.Reset(ctx))

	cmds := dev.Commands()
	for _, want := range []string{
		":RATE 200ms",
		`:SETUP:LOAD "bench.dms"`,
		`:STOR:FILE:NAME "run-01"`,
		":STOR:START",
		":STOR:PAUSE",
		":STOR:STOP",
		":ACQU:START",
		":ACQU:RESTART",
		":ACQU:STOP",
		"SYST:KLOCK ON",
		"SYST:KLOCK OFF",
		"*RST",
	} {
		assert.True(t, hasCommand(cmds, want), "missing %s in %v", want, cmds)
	}
}

func TestChannelList_NoneMapsToEmpty(t *testing.T) {
	c, _ := newTestClient(t, fakedevice.Config{Version: "1.5"})

	accepted, err := c.SetTransferChannels(context.Background(), nil, false, false)
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestRequireUsesNegotiatedVersion(t *testing.T) {
	// Before any connection the conservative default applies, so gated
	// operations fail without touching the network.
	cfg := transport.DefaultConfig("127.0.0.1")
	cfg.Port = 1 // never dialed
	c := New(cfg)

	_, err := c.SetElogChannels(context.Background(), []string{"Ch A"})
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}
