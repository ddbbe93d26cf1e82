package bridge

import (
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/bridge/notifier"
	"github.com/autopeer-io/servobridge/internal/bridge/server/http"
	"github.com/autopeer-io/servobridge/internal/controller"
	"github.com/autopeer-io/servobridge/internal/detection"
	"github.com/autopeer-io/servobridge/internal/transport"
	"github.com/autopeer-io/servobridge/pkg/log"
	"github.com/autopeer-io/servobridge/pkg/options"
)

type Config struct {
	MqttOptions   *options.MqttOptions
	SerialOptions *options.SerialOptions
	PolicyOptions *options.PolicyOptions
	HttpOptions   *options.HttpOptions

	// Hooks for tests. Nil means the real implementation.
	PortOpener actuator.PortOpener
	NewClient  transport.ClientFactory
	Clock      clock.WithTicker
}

// NewBridge opens the actuator and assembles the bridge. The broker is not
// contacted until Run. Failing to open the serial port is fatal.
func (cfg *Config) NewBridge() (*Bridge, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	link, err := actuator.Open(actuator.Config{
		Device: cfg.SerialOptions.Device,
		Port: actuator.PortOptions{
			BaudRate: cfg.SerialOptions.BaudRate,
			DataBits: cfg.SerialOptions.DataBits,
			StopBits: cfg.SerialOptions.StopBits,
			Parity:   cfg.SerialOptions.Parity,
		},
		SettleDelay: cfg.SerialOptions.SettleDelay,
		Opener:      cfg.PortOpener,
		Clock:       clk,
		Logger:      log.WithName("actuator"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: actuator: %w", controller.ErrFatal, err)
	}

	session, err := transport.NewSession(transport.Config{
		Client:               cfg.MqttOptions.ToClientConfig(),
		NewClient:            cfg.NewClient,
		DetectionTopic:       cfg.MqttOptions.DetectionTopic,
		QoS:                  cfg.MqttOptions.QoS,
		TopicRoot:            cfg.MqttOptions.TopicRoot,
		ConnectTimeout:       cfg.MqttOptions.ConnectTimeout,
		PingTimeout:          cfg.PolicyOptions.PingTimeout,
		MaxReconnectAttempts: cfg.PolicyOptions.MaxReconnectAttempts,
		ReconnectDelay:       cfg.PolicyOptions.ReconnectDelay,
		Clock:                clk,
		Logger:               log.WithName("transport"),
	})
	if err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("failed to init mqtt session: %w", err)
	}

	ctrlCfg := controller.Config{
		Validator: detection.NewValidator(detection.Config{
			Threshold:   cfg.PolicyOptions.Threshold,
			TargetLabel: cfg.PolicyOptions.TargetLabel,
			MaxEventAge: cfg.PolicyOptions.MaxEventAge,
		}),
		Cooldown:           cfg.PolicyOptions.Cooldown,
		NoDetectionTimeout: cfg.PolicyOptions.NoDetectionTimeout,
		TickInterval:       cfg.PolicyOptions.TickInterval,
		HeartbeatInterval:  cfg.PolicyOptions.HeartbeatInterval,
		AckTimeout:         cfg.SerialOptions.AckTimeout,
		InboxSize:          cfg.PolicyOptions.InboxSize,
		HomeOnStart:        cfg.PolicyOptions.HomeOnStart,
		HomeOnStop:         cfg.PolicyOptions.HomeOnStop,
		Clock:              clk,
		Logger:             log.WithName("controller"),
	}
	if cfg.PolicyOptions.PublishOutcomes {
		ctrlCfg.Notifier = notifier.NewMQTTNotifier(session)
	}

	b := &Bridge{
		link:    link,
		session: session,
	}
	b.controller = controller.New(ctrlCfg, link, session)

	if cfg.HttpOptions != nil && cfg.HttpOptions.Enabled {
		b.httpServer = http.NewServer(cfg.HttpOptions, b, nil)
	}

	return b, nil
}
