package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// envPrefix turns a command name into an environment variable prefix,
// e.g. servobridge -> SERVOBRIDGE.
func envPrefix(basename string) string {
	return strings.ToUpper(strings.ReplaceAll(basename, "-", "_"))
}

// addConfigFlag adds the --config flag and prepares v to read the file it
// names. Keys can be overridden by environment variables like
// SERVOBRIDGE_MQTT_BROKER.
func addConfigFlag(v *viper.Viper, basename string, fs *pflag.FlagSet) *string {
	cfgFile := fs.StringP(configFlagName, "c", "", "Read configuration from the specified YAML file. Flags override file values.")

	v.SetEnvPrefix(envPrefix(basename))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return cfgFile
}

// readConfig loads cfgFile, or ./<basename>.yaml and $HOME/.<basename>/<basename>.yaml
// when it is empty. A missing default file is not an error.
func readConfig(v *viper.Viper, basename, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+basename))
		}
		v.SetConfigName(basename)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file(%s): %w", cfgFile, err)
	}
	return nil
}

// watchConfig calls fn whenever the loaded configuration file changes.
func watchConfig(v *viper.Viper, fn func(v *viper.Viper, in fsnotify.Event)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(in fsnotify.Event) {
		fn(v, in)
	})
	v.WatchConfig()
}
