package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/oxygen-daq/oxygen-go/pkg/scpi"
)

const (
	influxPingTimeout  = 10 * time.Second
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectMS   = 250
)

// influxSink writes one point per channel through the non-blocking write
// API; points are batched and flushed by the client.
type influxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string
}

func newInfluxSink(ctx context.Context, cfg influxConfig) (*influxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Printf("influxdb write: %v", err)
		}
	}()

	return &influxSink{
		client:      client,
		writeAPI:    writeAPI,
		measurement: cfg.Measurement,
	}, nil
}

func (s *influxSink) Write(smp sample) error {
	for name, v := range smp.Values {
		switch v := v.(type) {
		case scpi.Float:
			s.writePoint(name, float64(v), smp.Time)
		case scpi.Vector:
			for i, f := range v {
				s.writePoint(fmt.Sprintf("%s[%d]", name, i), f, smp.Time)
			}
		default:
			// Timestamps and strings carry no numeric value to chart.
		}
	}
	return nil
}

func (s *influxSink) writePoint(channel string, value float64, ts time.Time) {
	point := write.NewPoint(
		s.measurement,
		map[string]string{"channel": channel},
		map[string]interface{}{"value": value},
		ts,
	)
	s.writeAPI.WritePoint(point)
}

func (s *influxSink) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// mqttSink publishes each poll as one JSON document.
type mqttSink struct {
	client pahomqtt.Client
	topic  string
	qos    byte
}

func newMQTTSink(cfg mqttConfig) (*mqttSink, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connect timeout after %v", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return &mqttSink{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

func (s *mqttSink) Write(smp sample) error {
	doc := make(map[string]interface{}, len(smp.Values)+1)
	doc["time"] = smp.Time.Format(time.RFC3339Nano)
	for name, v := range smp.Values {
		switch v := v.(type) {
		case scpi.Float:
			doc[name] = float64(v)
		case scpi.Vector:
			doc[name] = []float64(v)
		case scpi.Timestamp:
			doc[name] = v.Time().Format(time.RFC3339Nano)
		case scpi.String:
			doc[name] = string(v)
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	token := s.client.Publish(s.topic, s.qos, false, payload)
	token.Wait()
	return token.Error()
}

func (s *mqttSink) Close() {
	s.client.Disconnect(mqttDisconnectMS)
}
