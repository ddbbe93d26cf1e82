package options

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SerialOptions)(nil)

// SerialOptions configures the actuator's serial link.
type SerialOptions struct {
	Device   string `json:"device" mapstructure:"device"`
	BaudRate int    `json:"baud-rate" mapstructure:"baud-rate"`
	DataBits int    `json:"data-bits" mapstructure:"data-bits"`
	// Parity is one of N, E, O.
	Parity   string `json:"parity" mapstructure:"parity"`
	StopBits int    `json:"stop-bits" mapstructure:"stop-bits"`

	// AckTimeout bounds the wait for the controller's acknowledgment byte.
	AckTimeout time.Duration `json:"ack-timeout" mapstructure:"ack-timeout"`

	// SettleDelay is waited after opening the port, while the board resets.
	SettleDelay time.Duration `json:"settle-delay" mapstructure:"settle-delay"`
}

// NewSerialOptions returns the defaults of the reference hardware: an
// Arduino-class board on /dev/ttyUSB0 at 9600 8N2.
func NewSerialOptions() *SerialOptions {
	return &SerialOptions{
		Device:      "/dev/ttyUSB0",
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "N",
		StopBits:    2,
		AckTimeout:  3 * time.Second,
		SettleDelay: 2 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SerialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Device == "" {
		errs = append(errs, errors.New("--serial.device must not be empty"))
	}
	if o.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("--serial.baud-rate must be positive, got %d", o.BaudRate))
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		errs = append(errs, fmt.Errorf("--serial.data-bits must be between 5 and 8, got %d", o.DataBits))
	}
	switch strings.ToUpper(o.Parity) {
	case "N", "E", "O":
	default:
		errs = append(errs, fmt.Errorf("--serial.parity must be N, E or O, got %q", o.Parity))
	}
	if o.StopBits != 1 && o.StopBits != 2 {
		errs = append(errs, fmt.Errorf("--serial.stop-bits must be 1 or 2, got %d", o.StopBits))
	}
	if o.AckTimeout <= 0 {
		errs = append(errs, errors.New("--serial.ack-timeout must be positive"))
	}
	if o.SettleDelay < 0 {
		errs = append(errs, errors.New("--serial.settle-delay must not be negative"))
	}

	return errs
}

// AddFlags adds flags for SerialOptions to the specified FlagSet.
func (o *SerialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Device, "serial.device", o.Device, "Serial device of the servo controller.")
	fs.IntVar(&o.BaudRate, "serial.baud-rate", o.BaudRate, "Serial baud rate.")
	fs.IntVar(&o.DataBits, "serial.data-bits", o.DataBits, "Serial data bits.")
	fs.StringVar(&o.Parity, "serial.parity", o.Parity, "Serial parity (N, E or O).")
	fs.IntVar(&o.StopBits, "serial.stop-bits", o.StopBits, "Serial stop bits (1 or 2).")
	fs.DurationVar(&o.AckTimeout, "serial.ack-timeout", o.AckTimeout, "How long to wait for a command acknowledgment.")
	fs.DurationVar(&o.SettleDelay, "serial.settle-delay", o.SettleDelay, "Wait after opening the port while the board resets.")
}
