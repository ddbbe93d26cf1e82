package app

import (
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/servobridge/pkg/log"
)

// NamedFlagSetOptions abstracts configuration options for reading parameters
// from the command line, grouped into named flag sets.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets, one per option group.
	Flags() cliflag.NamedFlagSets

	// Complete fills in derived values once flags and config are parsed.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}

// LoggerOptions is implemented by options that configure the global logger.
// The logger is initialized right after validation.
type LoggerOptions interface {
	LogOptions() *log.Options
}
