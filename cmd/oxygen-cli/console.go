package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/oxygen-daq/oxygen-go/pkg/client"
	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
)

// commandTimeout bounds each console command.
const commandTimeout = 15 * time.Second

// console is the interactive command loop.
type console struct {
	c  *client.Client
	rl *readline.Instance
}

func newConsole(c *client.Client) (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "oxygen> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &console{c: c, rl: rl}, nil
}

func (co *console) out() io.Writer {
	return co.rl.Stdout()
}

func (co *console) run() {
	defer co.rl.Close()
	defer co.c.Disconnect()

	co.printHelp()

	for {
		line, err := co.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(co.out(), "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		quit := co.dispatch(ctx, cmd, args, input)
		cancel()
		if quit {
			return
		}
	}
}

// dispatch runs one console command. It returns true on quit.
func (co *console) dispatch(ctx context.Context, cmd string, args []string, input string) bool {
	switch cmd {
	case "help", "?":
		co.printHelp()

	case "connect":
		co.report(co.c.Connect(ctx))
		if co.c.Conn().State() == transport.StateConnected {
			fmt.Fprintf(co.out(), "Connected to %s (protocol %s)\n", co.c.Conn().Addr(), co.c.Version())
		}

	case "disconnect":
		co.c.Disconnect()
		fmt.Fprintln(co.out(), "Disconnected.")

	case "idn":
		idn, err := co.c.Identity(ctx)
		if err != nil {
			co.report(err)
			return false
		}
		fmt.Fprintln(co.out(), idn)

	case "ver":
		fmt.Fprintln(co.out(), co.c.Version())

	case "raw":
		co.cmdRaw(ctx, input)

	case "channels":
		co.cmdChannels(ctx, args)

	case "values", "val":
		co.cmdValues(ctx)

	case "dims":
		dims, err := co.c.ValueDimensions(ctx)
		if err != nil {
			co.report(err)
			return false
		}
		fmt.Fprintln(co.out(), dims)

	case "maxdims":
		co.report(co.c.SetMaxDimensions(ctx))

	case "format":
		co.cmdFormat(ctx, args)

	case "rate":
		co.cmdRate(ctx, args)

	case "setup":
		if len(args) != 1 {
			fmt.Fprintln(co.out(), "usage: setup <name.dms>")
			return false
		}
		co.report(co.c.LoadSetup(ctx, args[0]))

	case "acq":
		co.cmdAcq(ctx, args)

	case "store":
		co.cmdStore(ctx, args)

	case "marker":
		co.cmdMarker(ctx, args)

	case "lock":
		co.cmdLock(ctx, args)

	case "err":
		msg, err := co.c.NextError(ctx)
		if err != nil {
			co.report(err)
			return false
		}
		fmt.Fprintln(co.out(), msg)

	case "elog":
		co.cmdElog(ctx, args)

	case "stream":
		co.cmdStream(ctx, args)

	case "quit", "exit", "q":
		fmt.Fprintln(co.out(), "Exiting...")
		return true

	default:
		fmt.Fprintf(co.out(), "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (co *console) printHelp() {
	fmt.Fprintln(co.out(), `
Oxygen Console Commands:
  Connection:
    connect / disconnect        - Manage the device connection
    idn                         - Query the device identity
    ver                         - Show the negotiated protocol version
    raw <scpi command>          - Send a raw command (replies shown for ...?)

  Numeric values:
    channels <a,b,c> [rel] [abs] - Select transfer channels
    values                      - Query and decode the current values
    dims                        - Query per-channel dimensions (>=1.6)
    maxdims                     - Raise every channel to max dimension
    format ascii|intel|motorola - Select transfer format (binary >=1.20)

  Device control:
    rate <ms>                   - Set the aggregation interval
    setup <name.dms>            - Load a measurement setup
    acq start|stop|restart      - Acquisition control
    store name <file>|start|pause|stop - Recording control
    marker <label> [description] - Add a marker
    lock on|off                 - Lock or unlock the device screen
    err                         - Pop the oldest error queue entry

  Event log (>=1.7):
    elog set <a,b,c>            - Select event-log channels
    elog period <seconds>       - Set the aggregation period
    elog ts REL|ABS|OFF         - Select the timestamp column
    elog start|stop|fetch       - Control and fetch the event log

  Data streams (>=1.7):
    stream <n> items <a,b,c>    - Select channels for group n
    stream <n> port <port>      - Set the push port for group n
    stream <n> init|start|stop|state - Group lifecycle
    stream reset                - Clear the stream configuration

  General:
    help                        - Show this help
    quit                        - Exit`)
}

func (co *console) report(err error) {
	if err != nil {
		fmt.Fprintf(co.out(), "Error: %v\n", err)
	} else {
		fmt.Fprintln(co.out(), "OK")
	}
}

// cmdRaw passes a command through verbatim. Queries (ending in '?') print
// the stripped reply.
func (co *console) cmdRaw(ctx context.Context, input string) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "raw"))
	if raw == "" {
		fmt.Fprintln(co.out(), "usage: raw <scpi command>")
		return
	}

	if strings.HasSuffix(raw, "?") {
		reply, err := co.c.Conn().Query(ctx, raw)
		if err != nil {
			co.report(err)
			return
		}
		payload := transport.StripHeader([]byte(strings.TrimSpace(string(reply))))
		fmt.Fprintln(co.out(), string(payload))
		return
	}
	co.report(co.c.Conn().Send(ctx, raw))
}

func (co *console) cmdChannels(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(co.out(), strings.Join(co.c.TransferChannels(), ", "))
		return
	}

	names := splitList(args[0])
	var relTime, absTime bool
	for _, opt := range args[1:] {
		switch strings.ToLower(opt) {
		case "rel":
			relTime = true
		case "abs":
			absTime = true
		}
	}

	accepted, err := co.c.SetTransferChannels(ctx, names, relTime, absTime)
	if err != nil {
		co.report(err)
		return
	}
	fmt.Fprintf(co.out(), "Accepted: %s\n", strings.Join(accepted, ", "))
}

func (co *console) cmdValues(ctx context.Context) {
	values, err := co.c.Values(ctx)
	if err != nil {
		co.report(err)
		return
	}
	for i, v := range values {
		switch v := v.(type) {
		case scpi.Float:
			fmt.Fprintf(co.out(), "  [%d] %g\n", i, float64(v))
		case scpi.Timestamp:
			fmt.Fprintf(co.out(), "  [%d] %s\n", i, v.Time().Format(time.RFC3339Nano))
		case scpi.Vector:
			fmt.Fprintf(co.out(), "  [%d] %v\n", i, []float64(v))
		case scpi.String:
			fmt.Fprintf(co.out(), "  [%d] %q\n", i, string(v))
		}
	}
}

func (co *console) cmdFormat(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintf(co.out(), "Current format: %s\n", co.c.ValueFormat())
		return
	}

	var f scpi.Format
	switch strings.ToLower(args[0]) {
	case "ascii":
		f = scpi.FormatASCII
	case "intel", "le":
		f = scpi.FormatBinaryLE
	case "motorola", "be":
		f = scpi.FormatBinaryBE
	default:
		fmt.Fprintln(co.out(), "usage: format ascii|intel|motorola")
		return
	}
	co.report(co.c.SetValueFormat(ctx, f))
}

func (co *console) cmdRate(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(co.out(), "usage: rate <milliseconds>")
		return
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(co.out(), "bad interval %q\n", args[0])
		return
	}
	co.report(co.c.SetRate(ctx, time.Duration(ms)*time.Millisecond))
}

func (co *console) cmdAcq(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(co.out(), "usage: acq start|stop|restart")
		return
	}
	switch strings.ToLower(args[0]) {
	case "start":
		co.report(co.c.StartAcquisition(ctx))
	case "stop":
		co.report(co.c.StopAcquisition(ctx))
	case "restart":
		co.report(co.c.RestartAcquisition(ctx))
	default:
		fmt.Fprintln(co.out(), "usage: acq start|stop|restart")
	}
}

func (co *console) cmdStore(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(co.out(), "usage: store name <file>|start|pause|stop")
		return
	}
	switch strings.ToLower(args[0]) {
	case "name":
		if len(args) != 2 {
			fmt.Fprintln(co.out(), "usage: store name <file>")
			return
		}
		co.report(co.c.SetStoreFileName(ctx, args[1]))
	case "start":
		co.report(co.c.StoreStart(ctx))
	case "pause":
		co.report(co.c.StorePause(ctx))
	case "stop":
		co.report(co.c.StoreStop(ctx))
	default:
		fmt.Fprintln(co.out(), "usage: store name <file>|start|pause|stop")
	}
}

func (co *console) cmdMarker(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(co.out(), "usage: marker <label> [description]")
		return
	}
	m := client.Marker{Label: args[0]}
	if len(args) > 1 {
		m.Description = strings.Join(args[1:], " ")
	}
	co.report(co.c.AddMarker(ctx, m))
}

func (co *console) cmdLock(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(co.out(), "usage: lock on|off")
		return
	}
	co.report(co.c.LockScreen(ctx, strings.EqualFold(args[0], "on")))
}

func (co *console) cmdElog(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(co.out(), "usage: elog set|period|ts|start|stop|fetch ...")
		return
	}
	switch strings.ToLower(args[0]) {
	case "set":
		if len(args) != 2 {
			fmt.Fprintln(co.out(), "usage: elog set <a,b,c>")
			return
		}
		accepted, err := co.c.SetElogChannels(ctx, splitList(args[1]))
		if err != nil {
			co.report(err)
			return
		}
		fmt.Fprintf(co.out(), "Accepted: %s\n", strings.Join(accepted, ", "))
	case "period":
		if len(args) != 2 {
			fmt.Fprintln(co.out(), "usage: elog period <seconds>")
			return
		}
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(co.out(), "bad period %q\n", args[1])
			return
		}
		co.report(co.c.SetElogPeriod(ctx, time.Duration(secs*float64(time.Second))))
	case "ts":
		if len(args) != 2 {
			fmt.Fprintln(co.out(), "usage: elog ts REL|ABS|OFF")
			return
		}
		co.report(co.c.SetElogTimestamp(ctx, client.TimestampMode(strings.ToUpper(args[1]))))
	case "start":
		co.report(co.c.StartElog(ctx))
	case "stop":
		co.report(co.c.StopElog(ctx))
	case "fetch":
		rows, err := co.c.FetchElog(ctx)
		if err != nil {
			co.report(err)
			return
		}
		for _, row := range rows {
			fmt.Fprintf(co.out(), "  %s\n", strings.Join(row, "  "))
		}
	default:
		fmt.Fprintln(co.out(), "usage: elog set|period|ts|start|stop|fetch ...")
	}
}

func (co *console) cmdStream(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(co.out(), "usage: stream <group>|reset ...")
		return
	}
	if strings.EqualFold(args[0], "reset") {
		co.report(co.c.ResetStreams(ctx))
		return
	}

	group, err := strconv.Atoi(args[0])
	if err != nil || len(args) < 2 {
		fmt.Fprintln(co.out(), "usage: stream <group> items|port|init|start|stop|state ...")
		return
	}
	s := co.c.Stream(group)

	switch strings.ToLower(args[1]) {
	case "items":
		if len(args) != 3 {
			fmt.Fprintln(co.out(), "usage: stream <group> items <a,b,c>")
			return
		}
		accepted, err := s.SetItems(ctx, splitList(args[2]))
		if err != nil {
			co.report(err)
			return
		}
		fmt.Fprintf(co.out(), "Accepted: %s\n", strings.Join(accepted, ", "))
	case "port":
		if len(args) != 3 {
			fmt.Fprintln(co.out(), "usage: stream <group> port <port>")
			return
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(co.out(), "bad port %q\n", args[2])
			return
		}
		co.report(s.SetPort(ctx, port))
	case "init":
		co.report(s.Init(ctx))
	case "start":
		co.report(s.Start(ctx))
	case "stop":
		co.report(s.Stop(ctx))
	case "state":
		state, err := s.State(ctx)
		if err != nil {
			co.report(err)
			return
		}
		fmt.Fprintln(co.out(), state)
	default:
		fmt.Fprintln(co.out(), "usage: stream <group> items|port|init|start|stop|state ...")
	}
}

// splitList splits a comma-separated channel list argument.
func splitList(arg string) []string {
	parts := strings.Split(arg, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names
}
