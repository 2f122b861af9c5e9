package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the YAML configuration file layout.
type config struct {
	Device         deviceConfig `yaml:"device"`
	PollIntervalMS int          `yaml:"poll_interval_ms"`
	Influx         influxConfig `yaml:"influx"`
	MQTT           mqttConfig   `yaml:"mqtt"`
}

type deviceConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Channels []string `yaml:"channels"`
	RateMS   int      `yaml:"rate_ms"`
	RelTime  bool     `yaml:"rel_time"`
	AbsTime  bool     `yaml:"abs_time"`
}

type influxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"` // default "oxygen"
}

type mqttConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"` // default "oxygen-export"
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func loadConfig(path string) (*config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Influx.Measurement == "" {
		cfg.Influx.Measurement = "oxygen"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "oxygen-export"
	}
	return &cfg, nil
}

func (c *config) validate() error {
	if c.Device.Host == "" {
		return errors.New("device.host is required")
	}
	if len(c.Device.Channels) == 0 {
		return errors.New("device.channels must name at least one channel")
	}
	if c.Influx.Enabled {
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return errors.New("influx needs url, org and bucket")
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			return errors.New("mqtt needs broker and topic")
		}
	}
	return nil
}

func (c *config) pollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}
