package handoff

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MQTTOptions configures the MQTT sink.
type MQTTOptions struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

type mqttPublisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTSink publishes events as JSON to <prefix>/handoff/<reason> and
// <prefix>/sessions/<id>/<kind>.
type MQTTSink struct {
	prefix string
	pub    mqttPublisher
	cm     *autopaho.ConnectionManager
	logger *slog.Logger
}

// NewMQTTSink connects to the broker. The connection is retried in the
// background by autopaho, so an unreachable broker does not fail startup.
func NewMQTTSink(ctx context.Context, opts MQTTOptions, logger *slog.Logger) (*MQTTSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	brokerURL, err := url.Parse(opts.Broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: opts.Username,
		ConnectPassword: []byte(opts.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			logger.Info("mqtt connected to broker", "broker", opts.Broker)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: opts.ClientID,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		cfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return &MQTTSink{prefix: opts.TopicPrefix, pub: cm, cm: cm, logger: logger}, nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Notify publishes ev with QoS 1.
func (s *MQTTSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := s.topic(ev)
	if _, err := s.pub.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) topic(ev Event) string {
	if ev.Kind == EventHandoff {
		return s.prefix + "/handoff/" + string(ev.Reason)
	}
	return s.prefix + "/sessions/" + ev.SessionID + "/" + string(ev.Kind)
}

// Close disconnects from the broker.
func (s *MQTTSink) Close(ctx context.Context) error {
	if s.cm == nil {
		return nil
	}
	return s.cm.Disconnect(ctx)
}

var _ Sink = (*MQTTSink)(nil)
