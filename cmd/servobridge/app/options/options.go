package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/servobridge/internal/bridge"
	"github.com/autopeer-io/servobridge/pkg/app"
	"github.com/autopeer-io/servobridge/pkg/log"
	"github.com/autopeer-io/servobridge/pkg/options"
)

type ServerOptions struct {
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	SerialOptions *options.SerialOptions `json:"serial" mapstructure:"serial"`
	PolicyOptions *options.PolicyOptions `json:"policy" mapstructure:"policy"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*ServerOptions)(nil)
	_ app.LoggerOptions       = (*ServerOptions)(nil)
)

func NewServerOptions() *ServerOptions {
	o := &ServerOptions{
		MqttOptions:   options.NewMqttOptions(),
		SerialOptions: options.NewSerialOptions(),
		PolicyOptions: options.NewPolicyOptions(),
		HttpOptions:   options.NewHttpOptions(),
		Log:           log.NewOptions(),
	}

	return o
}

func (o *ServerOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.SerialOptions.AddFlags(fss.FlagSet("serial"))
	o.PolicyOptions.AddFlags(fss.FlagSet("policy"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *ServerOptions) Complete() error {
	return o.MqttOptions.Complete()
}

func (o *ServerOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.SerialOptions.Validate()...)
	errs = append(errs, o.PolicyOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *ServerOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *ServerOptions) Config() (*bridge.Config, error) {
	return &bridge.Config{
		MqttOptions:   o.MqttOptions,
		SerialOptions: o.SerialOptions,
		PolicyOptions: o.PolicyOptions,
		HttpOptions:   o.HttpOptions,
	}, nil
}
