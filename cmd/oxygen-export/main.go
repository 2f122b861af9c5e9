// Command oxygen-export polls measurement values from an Oxygen device
// and forwards them to InfluxDB and/or an MQTT broker.
//
// It selects the configured transfer channels, then queries the numeric
// system on a fixed interval. Float and vector channels become InfluxDB
// points tagged with the channel name; every poll is also published as
// one JSON document on the configured MQTT topic.
//
// Usage:
//
//	oxygen-export -config export.yaml
//
// A minimal configuration:
//
//	device:
//	  host: 192.168.1.50
//	  channels: ["AI 1/1", "AI 1/2"]
//	  rate_ms: 500
//	poll_interval_ms: 1000
//	influx:
//	  enabled: true
//	  url: http://localhost:8086
//	  token: secret
//	  org: lab
//	  bucket: oxygen
//	mqtt:
//	  enabled: true
//	  broker: tcp://localhost:1883
//	  topic: oxygen/values
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxygen-daq/oxygen-go/pkg/client"
	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
	"github.com/oxygen-daq/oxygen-go/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file path")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: oxygen-export -config <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.Printf("Oxygen exporter")
	log.Printf("Device: %s:%d, %d channel(s), poll every %s",
		cfg.Device.Host, cfg.Device.Port, len(cfg.Device.Channels), cfg.pollInterval())

	tcfg := transport.DefaultConfig(cfg.Device.Host)
	if cfg.Device.Port != 0 {
		tcfg.Port = cfg.Device.Port
	}
	c := client.New(tcfg)
	defer c.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Printf("Connected (protocol %s)", c.Version())

	if cfg.Device.RateMS > 0 {
		if err := c.SetRate(ctx, time.Duration(cfg.Device.RateMS)*time.Millisecond); err != nil {
			log.Fatalf("set rate: %v", err)
		}
	}
	accepted, err := c.SetTransferChannels(ctx, cfg.Device.Channels, cfg.Device.RelTime, cfg.Device.AbsTime)
	if err != nil {
		log.Fatalf("set channels: %v", err)
	}
	log.Printf("Device accepted channels: %v", accepted)

	var sinks []sink
	if cfg.Influx.Enabled {
		s, err := newInfluxSink(ctx, cfg.Influx)
		if err != nil {
			log.Fatalf("influxdb: %v", err)
		}
		defer s.Close()
		sinks = append(sinks, s)
		log.Printf("InfluxDB sink: %s bucket=%s", cfg.Influx.URL, cfg.Influx.Bucket)
	}
	if cfg.MQTT.Enabled {
		s, err := newMQTTSink(cfg.MQTT)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		defer s.Close()
		sinks = append(sinks, s)
		log.Printf("MQTT sink: %s topic=%s", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	if len(sinks) == 0 {
		log.Fatal("no sink enabled; enable influx or mqtt in the config")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	runExportLoop(ctx, c, accepted, sinks, cfg.pollInterval())
	log.Println("Goodbye!")
}

// sample is one polled snapshot keyed by channel name.
type sample struct {
	Time   time.Time
	Values map[string]scpi.Value
}

// sink receives polled samples.
type sink interface {
	Write(s sample) error
	Close()
}

// runExportLoop polls values until ctx ends. Poll errors are logged and
// the loop keeps going; the client reconnects lazily.
func runExportLoop(ctx context.Context, c *client.Client, channels []string, sinks []sink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		values, err := c.Values(ctx)
		if err != nil {
			log.Printf("poll: %v", err)
			continue
		}
		if len(values) != len(channels) {
			log.Printf("poll: %d values for %d channels, skipping", len(values), len(channels))
			continue
		}

		s := sample{Time: time.Now(), Values: make(map[string]scpi.Value, len(values))}
		for i, name := range channels {
			s.Values[name] = values[i]
		}
		for _, snk := range sinks {
			if err := snk.Write(s); err != nil {
				log.Printf("sink: %v", err)
			}
		}
	}
}
