package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clambin/amp-autoshutdown/internal/cmd/check"
	"github.com/clambin/amp-autoshutdown/internal/cmd/instances"
	"github.com/clambin/amp-autoshutdown/internal/cmd/monitor"
	"github.com/clambin/go-common/charmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "amp-autoshutdown",
		Short: "Shuts down an AMP game server host when nobody is playing",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig(viper.GetViper(), configFilename)
		},
		SilenceUsage: true,
	}

	args = charmer.Arguments{
		"debug":       {false, "Log debug messages"},
		"log.format":  {"text", "Log format (text|json)"},
		"log.file":    {"", "Also log to this file, rotated at 5 MB. Empty logs to stderr only"},
		"settings":    {"config.toml", "Monitor settings file (TOML or YAML). Reloaded on every poll cycle"},
		"credentials": {"credentials.toml", "Credentials file holding the AMP API keys"},
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	_ = charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), args)
	RootCmd.AddCommand(&monitor.Cmd, &instances.Cmd, &check.Cmd)
}

// initConfig reads the process configuration file, if there is one. Settings can also be set through
// AMP_AUTOSHUTDOWN_* environment variables, e.g. AMP_AUTOSHUTDOWN_SLACK_TOKEN.
func initConfig(v *viper.Viper, filename string) error {
	if filename != "" {
		v.SetConfigFile(filename)
	} else {
		v.AddConfigPath("/etc/amp-autoshutdown/")
		v.AddConfigPath("$HOME/.amp-autoshutdown")
		v.AddConfigPath(".")
		v.SetConfigName("amp-autoshutdown")
	}

	v.SetEnvPrefix("AMP_AUTOSHUTDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if filename == "" && errors.As(err, new(viper.ConfigFileNotFoundError)) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
