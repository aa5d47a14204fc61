package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

const (
	defaultMQTTTopic    = "mail-watcher/notices"
	defaultMQTTClientID = "mail-watcher"
	mqttConnectTimeout  = 30 * time.Second
)

var errMQTTNotConnected = errors.New("mqtt channel not connected")

// MQTTConfig configures the MQTT notification channel.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      byte   `mapstructure:"qos"`
	Retain   bool   `mapstructure:"retain"`
}

type mqttPublisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTTChannel publishes each notice as a plain-text message to one topic.
// autopaho keeps the broker connection alive and reconnects on its own.
type MQTTChannel struct {
	cfg    MQTTConfig
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
	pub    mqttPublisher
}

func NewMQTTChannel(cfg MQTTConfig, logger *slog.Logger) *MQTTChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultMQTTTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultMQTTClientID
	}
	return &MQTTChannel{cfg: cfg, logger: logger}
}

func (c *MQTTChannel) Name() string { return "mqtt" }

// Connect starts the connection manager and waits a bounded time for the
// first connection. A slow broker is logged, not fatal; publishing retries
// once autopaho is connected.
func (c *MQTTChannel) Connect(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if brokerURL.Host == "" {
		return fmt.Errorf("parse mqtt broker URL: missing host in %q", c.cfg.Broker)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm
	c.pub = cm

	connCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return nil
}

func (c *MQTTChannel) Send(ctx context.Context, text string) error {
	if c.pub == nil {
		return errMQTTNotConnected
	}

	if _, err := c.pub.Publish(ctx, &paho.Publish{
		Topic:   c.cfg.Topic,
		Payload: []byte(text),
		QoS:     c.cfg.QoS,
		Retain:  c.cfg.Retain,
	}); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", c.cfg.Topic, err)
	}

	c.logger.Debug("mqtt notice published", "topic", c.cfg.Topic)
	return nil
}

// Close disconnects from the broker. It is a no-op before Connect.
func (c *MQTTChannel) Close(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	return c.cm.Disconnect(ctx)
}
