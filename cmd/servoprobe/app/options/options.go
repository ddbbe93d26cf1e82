package options

import (
	"fmt"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/pkg/app"
	"github.com/autopeer-io/servobridge/pkg/log"
	"github.com/autopeer-io/servobridge/pkg/options"
)

// ProbeOptions configures a one-shot check of the actuator link.
type ProbeOptions struct {
	SerialOptions *options.SerialOptions `json:"serial" mapstructure:"serial"`
	Log           *log.Options           `json:"log" mapstructure:"log"`

	// List only prints the detected ports.
	List bool `json:"list" mapstructure:"list"`

	// Auto picks the first port that looks like a servo controller.
	Auto bool `json:"auto" mapstructure:"auto"`

	// Command is the single command to send: activate, reset or status.
	Command string `json:"command" mapstructure:"command"`
}

var (
	_ app.NamedFlagSetOptions = (*ProbeOptions)(nil)
	_ app.LoggerOptions       = (*ProbeOptions)(nil)
)

func NewProbeOptions() *ProbeOptions {
	logOpts := log.NewOptions()
	logOpts.Level = "warn"

	return &ProbeOptions{
		SerialOptions: options.NewSerialOptions(),
		Log:           logOpts,
		Command:       "status",
	}
}

func (o *ProbeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("probe")
	fs.BoolVar(&o.List, "list", o.List, "List serial ports and exit.")
	fs.BoolVar(&o.Auto, "auto", o.Auto, "Use the first port that looks like a servo controller instead of --serial.device.")
	fs.StringVar(&o.Command, "command", o.Command, "Command to send: activate, reset or status.")
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ProbeOptions) Complete() error {
	o.Command = strings.ToLower(strings.TrimSpace(o.Command))
	return nil
}

func (o *ProbeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if _, err := ParseCommand(o.Command); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

func (o *ProbeOptions) LogOptions() *log.Options {
	return o.Log
}

// ParseCommand maps a command name or its wire byte to a Command.
func ParseCommand(s string) (actuator.Command, error) {
	switch strings.ToLower(s) {
	case "activate", "a":
		return actuator.Activate, nil
	case "reset", "r":
		return actuator.Reset, nil
	case "status", "s":
		return actuator.StatusQuery, nil
	}
	return 0, fmt.Errorf("--command must be activate, reset or status, got %q", s)
}
