package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix prefixes the environment variables bound to flags.
const envPrefix = "DOCSYNC"

// loadConfig fills every flag the user did not set on the command line from
// DOCSYNC_<FLAG> environment variables or, failing that, the config file.
// Dashes in flag names become underscores in variable names; config file
// keys use the flag names as they are.
func loadConfig(cmd *cobra.Command, path string) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	return applyConfig(cmd.Flags(), v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read config file", err)
		}
	}
	return v, nil
}

func applyConfig(flags *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return WrapExitError(ExitCommandError, "invalid configuration", errors.Join(errs...))
	}
	return nil
}
