// Package mqttclient wraps github.com/eclipse/paho.mqtt.golang with
// the TLS-pinned, username/password-authenticated session this
// repository's connectivity design requires. The option-building and
// publish/subscribe shape follow the same pattern as the
// automatedhome project's common mqttclient helper (createOptions,
// connect, New, Publish), extended with a pinned root CA and
// credentials since that helper targets an unauthenticated local
// broker and this one does not.
package mqttclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config describes one broker session.
type Config struct {
	BrokerURL    string // e.g. "tls://broker.example.com:8883"
	ClientID     string // the device ID
	Username     string
	Password     string
	CACertPath   string // PEM file containing the pinned root CA
	KeepAlive    time.Duration
	ConnectRetry time.Duration
}

func DefaultConfig() Config {
	return Config{
		KeepAlive:    30 * time.Second,
		ConnectRetry: 5 * time.Second,
	}
}

func createOptions(cfg Config, onConnectionLost mqtt.ConnectionLostHandler) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(false) // this package drives its own reconnect cadence
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(onConnectionLost)

	if cfg.CACertPath != "" {
		tlsConfig, err := pinnedTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}
	return opts, nil
}

func pinnedTLSConfig(caCertPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("read pinned CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCertPath)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// Client owns one paho client and the topics this device cares about.
type Client struct {
	cfg          Config
	commandTopic string
	dataTopic    string
	alertTopic   string
	inner        mqtt.Client
}

// New builds a Client for deviceID without connecting. Connect must
// be called explicitly so the connectivity task can gate it on time
// sync and drive its own 5 s retry cadence instead of paho's built-in
// one.
func New(cfg Config, deviceID string, onCommand mqtt.MessageHandler, onConnectionLost mqtt.ConnectionLostHandler) (*Client, error) {
	cfg.ClientID = deviceID
	opts, err := createOptions(cfg, onConnectionLost)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		commandTopic: fmt.Sprintf("greenhouse/%s/commands", deviceID),
		dataTopic:    fmt.Sprintf("greenhouse/%s/data", deviceID),
		alertTopic:   fmt.Sprintf("greenhouse/%s/alerts", deviceID),
	}

	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		token := cl.Subscribe(c.commandTopic, 1, onCommand)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqttclient: subscribe to %s failed: %v", c.commandTopic, err)
		}
	})

	c.inner = mqtt.NewClient(opts)
	return c, nil
}

// Connect attempts one blocking connection with a bounded wait. The
// caller (connectivity task) is responsible for calling this at most
// once every ConnectRetry and for de-registering the watchdog around
// the call, since a TLS handshake can block for the platform's full
// connect timeout.
func (c *Client) Connect() error {
	token := c.inner.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect to %s timed out", c.cfg.BrokerURL)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.inner != nil && c.inner.IsConnected()
}

func (c *Client) Disconnect() {
	if c.inner != nil && c.inner.IsConnected() {
		c.inner.Disconnect(250)
	}
}

// PublishData publishes one telemetry JSON string at QoS 0, matching
// this repository's default telemetry QoS (best-effort; durability
// comes from the offline spool, not broker acknowledgment).
func (c *Client) PublishData(payload string) bool {
	return c.publish(c.dataTopic, 0, payload)
}

// PublishAlert publishes an alert at QoS 1: per this repository's
// rollback-alert invariant, rb_happened is only cleared once the
// publish call itself reports success, so an at-least-once QoS gives
// that success a meaningful broker-receipt guarantee.
func (c *Client) PublishAlert(payload string) bool {
	return c.publish(c.alertTopic, 1, payload)
}

func (c *Client) publish(topic string, qos byte, payload string) bool {
	if !c.IsConnected() {
		return false
	}
	token := c.inner.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("mqttclient: publish to %s failed: %v", topic, err)
		return false
	}
	return true
}
