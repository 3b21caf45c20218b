package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/remvend/vendhub/config"
	"github.com/remvend/vendhub/logger"
)

// MessageHandler is the callback type for inbound messages.
type MessageHandler func(topic string, payload []byte)

// Client wraps the paho MQTT client with the connection, subscription
// and publish behavior the hub needs. Publishes use the configured QoS
// (default at-least-once).
type Client struct {
	client paho.Client
	config config.MQTTConfig
}

// NewClient creates an MQTT client for the given configuration.
func NewClient(cfg config.MQTTConfig) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address cannot be empty")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("vendhub-%s", uuid.NewString()[:8])
	}
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.Info("trying to reconnect to MQTT broker...")
	})

	return &Client{
		client: paho.NewClient(opts),
		config: cfg,
	}, nil
}

// Connect connects to the MQTT broker.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection to MQTT broker timed out")
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("connected to MQTT broker: %s (client id %s)", c.config.Broker, c.config.ClientID)
	return nil
}

// Subscribe subscribes to a topic with the configured QoS. The handler
// may be invoked concurrently for messages from different devices and
// must be safe for that.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Info("subscribed to topic: %s", topic)
	return nil
}

// Publish sends a payload to a topic at the configured QoS. Delivery is
// fire-and-forget beyond the QoS handshake; a returned error means the
// message should be considered lost.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, c.config.QoS, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}

	logger.Debug("published to topic %s (%d bytes)", topic, len(payload))
	return nil
}

// Disconnect disconnects from the MQTT broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	logger.Info("disconnected from MQTT broker")
}
