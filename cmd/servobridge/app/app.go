package app

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/servobridge/cmd/servobridge/app/options"
	"github.com/autopeer-io/servobridge/pkg/app"
	"github.com/autopeer-io/servobridge/pkg/log"
)

const (
	commandName = "servobridge"
	commandDesc = `The servobridge subscribes to object detections published over MQTT
and drives a serial servo controller: a confident detection of the target
class moves the actuator, and a quiet period returns it home.

Moves are spaced by a cooldown, the broker connection is checked by a
periodic heartbeat, and a lost connection is retried a bounded number of
times before the process exits with an error.`
)

func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		commandName,
		"Drive a servo from MQTT object detections",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithConfigChange(onConfigChange),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()
		defer log.Sync()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		bridge, err := cfg.NewBridge()
		if err != nil {
			return fmt.Errorf("failed to create bridge: %w", err)
		}

		return bridge.Run(ctx)
	}
}

// onConfigChange applies settings that are safe to change at runtime. Only
// the log level qualifies; everything else needs a restart.
func onConfigChange(v *viper.Viper, in fsnotify.Event) {
	level := v.GetString("log.level")
	log.SetLevel(level)
	log.Info("Configuration changed", "file", in.Name, "log.level", level)
}
