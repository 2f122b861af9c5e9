// Command oxygen-cli is an interactive console for Oxygen DAQ devices.
//
// It connects to a device's raw-SCPI control port and exposes the client
// operations as console commands: channel selection, value queries,
// recording control, event-log and data-stream management, plus raw SCPI
// pass-through for anything else.
//
// Usage:
//
//	oxygen-cli [flags]
//
// Flags:
//
//	-config string  YAML configuration file path
//	-host string    Device address (overrides config)
//	-port int       Control port (default 10001)
//	-log string     Write the CBOR protocol log to this file
//	-discover       Browse the network for instruments and exit
//
// Examples:
//
//	# Connect to a device and start the console
//	oxygen-cli -host 192.168.1.50
//
//	# Record the protocol exchange for later replay
//	oxygen-cli -host 192.168.1.50 -log session.cborlog
//
//	# Find instruments announcing _scpi-raw._tcp
//	oxygen-cli -discover
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oxygen-daq/oxygen-go/pkg/client"
	"github.com/oxygen-daq/oxygen-go/pkg/discovery"
	"github.com/oxygen-daq/oxygen-go/pkg/log"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
)

// fileConfig is the YAML configuration file layout.
type fileConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	CommandDelayMS int    `yaml:"command_delay_ms"`
	ReadTimeoutS   int    `yaml:"read_timeout_s"`
	Framing        string `yaml:"framing"` // terminator (default) or blocksize
	LogFile        string `yaml:"log_file"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML configuration file path")
		host       = flag.String("host", "", "Device address")
		port       = flag.Int("port", 0, "Control port")
		logPath    = flag.String("log", "", "Write the CBOR protocol log to this file")
		discover   = flag.Bool("discover", false, "Browse the network for instruments and exit")
	)
	flag.Parse()

	if *discover {
		if err := runDiscover(); err != nil {
			fmt.Fprintf(os.Stderr, "discover: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fileCfg := &fileConfig{}
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		fileCfg = loaded
	}
	if *host != "" {
		fileCfg.Host = *host
	}
	if *port != 0 {
		fileCfg.Port = *port
	}
	if *logPath != "" {
		fileCfg.LogFile = *logPath
	}
	if fileCfg.Host == "" {
		fmt.Fprintln(os.Stderr, "no device address: use -host or a config file")
		os.Exit(1)
	}

	cfg := transport.DefaultConfig(fileCfg.Host)
	if fileCfg.Port != 0 {
		cfg.Port = fileCfg.Port
	}
	if fileCfg.CommandDelayMS > 0 {
		cfg.CommandDelay = time.Duration(fileCfg.CommandDelayMS) * time.Millisecond
	}
	if fileCfg.ReadTimeoutS > 0 {
		cfg.ReadTimeout = time.Duration(fileCfg.ReadTimeoutS) * time.Second
	}
	if fileCfg.Framing == "blocksize" {
		cfg.Framing = transport.BlockSizeFraming{BlockSize: cfg.BlockSize}
	}

	if fileCfg.LogFile != "" {
		fileLogger, err := log.NewFileLogger(fileCfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "protocol log: %v\n", err)
			os.Exit(1)
		}
		defer fileLogger.Close()
		cfg.Logger = fileLogger
	}

	console, err := newConsole(client.New(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(1)
	}
	console.run()
}

// runDiscover browses for instruments for a few seconds and prints them.
func runDiscover() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := discovery.NewBrowser(discovery.Config{})
	results, err := browser.Browse(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Browsing for instruments...")
	found := 0
	for {
		select {
		case inst, ok := <-results:
			if !ok {
				return nil
			}
			found++
			fmt.Printf("  %s  host=%s  addr=%s\n", inst.Instance, inst.Host, inst.Addr())
			for _, txt := range inst.TXT {
				fmt.Printf("    %s\n", txt)
			}
		case <-ctx.Done():
			if found == 0 {
				fmt.Println("No instruments found.")
			}
			return nil
		}
	}
}
