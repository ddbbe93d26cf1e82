package options

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/autopeer-io/servobridge/pkg/mqtt"
	"github.com/autopeer-io/servobridge/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT client and topics.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// Only for testing against brokers with self-signed certificates.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// DetectionTopic is the single topic the detector publishes to.
	DetectionTopic string `json:"detection-topic" mapstructure:"detection-topic"`

	// QoS of the detection subscription.
	QoS int `json:"qos" mapstructure:"qos"`

	// TopicRoot prefixes the bridge's own topics: {TopicRoot}/bridge/{ClientID}/...
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "tcp://localhost:1883",
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		CleanStart:     true,
		DetectionTopic: "robot/pico/estado",
		QoS:            1,
		TopicRoot:      "robot",
	}
}

// Complete fills in values that depend on the environment: credentials from
// MQTT_USERNAME / MQTT_PASSWORD when set, and a generated client ID.
func (o *MqttOptions) Complete() error {
	creds := struct {
		Username string `env:"MQTT_USERNAME"`
		Password string `env:"MQTT_PASSWORD"`
	}{}
	if err := env.Parse(&creds); err != nil {
		return fmt.Errorf("parse mqtt credentials from environment: %w", err)
	}
	if creds.Username != "" {
		o.Username = creds.Username
	}
	if creds.Password != "" {
		o.Password = creds.Password
	}

	if o.ClientID == "" {
		o.ClientID = "servobridge-" + uuid.NewString()[:8]
	}
	return nil
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	u, err := url.Parse(o.Broker)
	if err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("--mqtt.broker %q must be a URL such as tcp://host:1883", o.Broker))
	}
	if o.DetectionTopic == "" {
		errs = append(errs, errors.New("--mqtt.detection-topic must not be empty"))
	} else if err := topic.ValidateFilter(o.DetectionTopic); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.detection-topic: %w", err))
	}
	if o.QoS < 0 || o.QoS > 2 {
		errs = append(errs, fmt.Errorf("--mqtt.qos must be 0, 1 or 2, got %d", o.QoS))
	}
	if o.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("--mqtt.connect-timeout must be positive"))
	}
	if o.KeepAlive < 0 || o.KeepAlive > 65535*time.Second {
		errs = append(errs, fmt.Errorf("--mqtt.keep-alive out of range: %s", o.KeepAlive))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication. Overridden by MQTT_USERNAME.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication. Overridden by MQTT_PASSWORD.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, generated when empty).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean MQTT session on the first connection.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	// Topics
	fs.StringVar(&o.DetectionTopic, "mqtt.detection-topic", o.DetectionTopic, "Topic carrying detection events.")
	fs.IntVar(&o.QoS, "mqtt.qos", o.QoS, "QoS of the detection subscription.")
	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Prefix for presence, heartbeat and actuator topics.")
}

// ToClientConfig converts the options into a client configuration. The will
// message announces the bridge offline on its presence topic.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
		WillTopic:          topic.NewBuilder(o.TopicRoot).Presence(o.ClientID),
		WillPayload:        []byte("offline"),
		WillQoS:            1,
		WillRetain:         true,
	}
}
