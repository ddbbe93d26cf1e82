package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PolicyOptions)(nil)

// PolicyOptions holds the actuation policy and supervision timings.
type PolicyOptions struct {
	// Threshold is the minimum accepted confidence, in [0,1].
	Threshold float64 `json:"threshold" mapstructure:"threshold"`

	// TargetLabel must appear (case-insensitive) in the detected class.
	TargetLabel string `json:"target-label" mapstructure:"target-label"`

	// MaxEventAge rejects events whose producer timestamp is older. Zero disables the check.
	MaxEventAge time.Duration `json:"max-event-age" mapstructure:"max-event-age"`

	Cooldown           time.Duration `json:"cooldown" mapstructure:"cooldown"`
	NoDetectionTimeout time.Duration `json:"no-detection-timeout" mapstructure:"no-detection-timeout"`
	TickInterval       time.Duration `json:"tick-interval" mapstructure:"tick-interval"`

	HeartbeatInterval    time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
	PingTimeout          time.Duration `json:"ping-timeout" mapstructure:"ping-timeout"`
	MaxReconnectAttempts int           `json:"max-reconnect-attempts" mapstructure:"max-reconnect-attempts"`
	ReconnectDelay       time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`

	InboxSize       int  `json:"inbox-size" mapstructure:"inbox-size"`
	HomeOnStart     bool `json:"home-on-start" mapstructure:"home-on-start"`
	HomeOnStop      bool `json:"home-on-stop" mapstructure:"home-on-stop"`
	PublishOutcomes bool `json:"publish-outcomes" mapstructure:"publish-outcomes"`
}

// NewPolicyOptions creates a PolicyOptions object with default parameters.
func NewPolicyOptions() *PolicyOptions {
	return &PolicyOptions{
		Threshold:            0.6,
		TargetLabel:          "pistachio",
		Cooldown:             5 * time.Second,
		NoDetectionTimeout:   5 * time.Second,
		TickInterval:         time.Second,
		HeartbeatInterval:    10 * time.Second,
		PingTimeout:          5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		InboxSize:            64,
		HomeOnStart:          true,
		HomeOnStop:           true,
		PublishOutcomes:      true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *PolicyOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Threshold < 0 || o.Threshold > 1 {
		errs = append(errs, fmt.Errorf("--policy.threshold must be within [0,1], got %v", o.Threshold))
	}
	if o.TargetLabel == "" {
		errs = append(errs, errors.New("--policy.target-label must not be empty"))
	}
	if o.MaxEventAge < 0 {
		errs = append(errs, errors.New("--policy.max-event-age must not be negative"))
	}

	for _, d := range []struct {
		flag  string
		value time.Duration
	}{
		{"--policy.cooldown", o.Cooldown},
		{"--policy.no-detection-timeout", o.NoDetectionTimeout},
		{"--policy.tick-interval", o.TickInterval},
		{"--policy.heartbeat-interval", o.HeartbeatInterval},
		{"--policy.ping-timeout", o.PingTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.flag))
		}
	}
	if o.ReconnectDelay < 0 {
		errs = append(errs, errors.New("--policy.reconnect-delay must not be negative"))
	}
	if o.MaxReconnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("--policy.max-reconnect-attempts must be at least 1, got %d", o.MaxReconnectAttempts))
	}
	if o.InboxSize < 1 {
		errs = append(errs, fmt.Errorf("--policy.inbox-size must be at least 1, got %d", o.InboxSize))
	}

	return errs
}

// AddFlags adds flags for PolicyOptions to the specified FlagSet.
func (o *PolicyOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.Threshold, "policy.threshold", o.Threshold, "Minimum detection confidence that may move the actuator.")
	fs.StringVar(&o.TargetLabel, "policy.target-label", o.TargetLabel, "Object class that triggers the actuator (substring, case-insensitive).")
	fs.DurationVar(&o.MaxEventAge, "policy.max-event-age", o.MaxEventAge, "Reject detections whose producer timestamp is older than this. 0 disables.")

	fs.DurationVar(&o.Cooldown, "policy.cooldown", o.Cooldown, "Minimum time between two actuator moves.")
	fs.DurationVar(&o.NoDetectionTimeout, "policy.no-detection-timeout", o.NoDetectionTimeout, "Inactivity after which the actuator is reset.")
	fs.DurationVar(&o.TickInterval, "policy.tick-interval", o.TickInterval, "Period of the timer that evaluates timeouts and heartbeats.")

	fs.DurationVar(&o.HeartbeatInterval, "policy.heartbeat-interval", o.HeartbeatInterval, "Period of the broker liveness check.")
	fs.DurationVar(&o.PingTimeout, "policy.ping-timeout", o.PingTimeout, "Timeout of a single liveness round trip.")
	fs.IntVar(&o.MaxReconnectAttempts, "policy.max-reconnect-attempts", o.MaxReconnectAttempts, "Reconnection attempts before giving up.")
	fs.DurationVar(&o.ReconnectDelay, "policy.reconnect-delay", o.ReconnectDelay, "Fixed delay between reconnection attempts.")

	fs.IntVar(&o.InboxSize, "policy.inbox-size", o.InboxSize, "Detections buffered while the controller is busy.")
	fs.BoolVar(&o.HomeOnStart, "policy.home-on-start", o.HomeOnStart, "Send a reset when the bridge starts.")
	fs.BoolVar(&o.HomeOnStop, "policy.home-on-stop", o.HomeOnStop, "Send a reset when the bridge stops.")
	fs.BoolVar(&o.PublishOutcomes, "policy.publish-outcomes", o.PublishOutcomes, "Publish every actuator command outcome over MQTT.")
}
