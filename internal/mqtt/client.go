// Package mqtt mirrors composed group states to an MQTT broker as retained
// messages.
package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/panelhub/internal/config"
)

const (
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
	maxQoS            = 2
)

var (
	ErrNotConnected  = errors.New("mqtt: client not connected")
	ErrPublishFailed = errors.New("mqtt: publish failed")
	ErrInvalidQoS    = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Client wraps paho with retained publishing and an online/offline status
// topic.
type Client struct {
	client pahomqtt.Client
	qos    byte
	status string
}

// Connect creates a client and starts connecting. A broker that is not
// reachable within cfg.ConnectTimeout is not an error: paho keeps retrying
// in the background and publishes fail with ErrNotConnected meanwhile.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	c := &Client{
		qos:    cfg.QoS,
		status: StatusTopic(cfg.TopicPrefix),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration())
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(c.status, "offline", 1, true)

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		client.Publish(c.status, 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration()) {
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// Publish sends a retained message at the configured QoS.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close marks the hub offline and disconnects.
func (c *Client) Close() error {
	if c.client.IsConnectionOpen() {
		c.client.Publish(c.status, 1, true, "offline").WaitTimeout(publishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
