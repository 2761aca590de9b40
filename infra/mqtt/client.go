package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/notify"
	"github.com/kilianp07/villadispatch/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	QoS        byte   `json:"qos"`
	// TopicTemplate is the per-staff topic; {staff_id} is substituted.
	TopicTemplate string      `json:"topic_template"`
	LWTTopic      string      `json:"lwt_topic"`
	LWTPayload    string      `json:"lwt_payload"`
	LWTQoS        byte        `json:"lwt_qos"`
	LWTRetain     bool        `json:"lwt_retain"`
	MaxRetries    int         `json:"max_retries"`
	BackoffMS     int         `json:"backoff_ms"`
	TLSConfig     *tls.Config `json:"-"`
}

const defaultTopicTemplate = "villa/staff/{staff_id}/offers"

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Notifier pushes offers to one MQTT topic per eligible staff member.
type Notifier struct {
	cli        pahoClient
	qos        byte
	topic      string
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

func init() {
	_ = notify.Register("mqtt", func(raw map[string]any) (notify.Notifier, error) {
		var cfg Config
		if err := factory.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("mqtt notifier config: %w", err)
		}
		return NewNotifier(cfg)
	})
}

// NewNotifier connects to the MQTT broker.
func NewNotifier(cfg Config) (*Notifier, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_notifier")
	n := &Notifier{
		qos:        cfg.QoS,
		topic:      cfg.TopicTemplate,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}
	if n.topic == "" {
		n.topic = defaultTopicTemplate
	}
	if n.maxRetries <= 0 {
		n.maxRetries = 3
	}
	if n.backoff <= 0 {
		n.backoff = 100 * time.Millisecond
	}

	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	n.cli = c
	return n, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// Topic returns the topic used for staffID.
func (n *Notifier) Topic(staffID string) string {
	return strings.ReplaceAll(n.topic, "{staff_id}", staffID)
}

// NotifyStaffOfOffer publishes one message per eligible staff member. Every
// member is attempted; failures are joined.
func (n *Notifier) NotifyStaffOfOffer(ctx context.Context, o model.Offer) error {
	var errs []error
	for _, msg := range notify.Messages(o) {
		if err := n.publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("staff %s: %w", msg.StaffID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) publish(ctx context.Context, msg notify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := n.Topic(msg.StaffID)
	var publishErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		token := n.cli.Publish(topic, n.qos, false, payload)
		select {
		case <-token.Done():
			publishErr = token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
		if publishErr == nil {
			n.logger.Debugf("sent offer %s to %s", msg.OfferID, topic)
			return nil
		}
		n.logger.Errorf("publish attempt %d to %s failed: %v", attempt+1, topic, publishErr)
		if attempt == n.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.backoff * time.Duration(1<<attempt)):
		}
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (n *Notifier) Disconnect() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}

// Close implements io.Closer.
func (n *Notifier) Close() error {
	n.Disconnect()
	return nil
}
