// Package check implements the command that shows how the monitor interprets its settings file.
package check

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clambin/amp-autoshutdown/internal/cmd/cli"
	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/amp-autoshutdown/internal/maintenance"
	"github.com/clambin/amp-autoshutdown/internal/secrets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var Cmd = cobra.Command{
	Use:   "check",
	Short: "Show the effective monitor settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger, _ := cli.Logger(viper.GetViper(), os.Stderr)
		loader := cli.ReadOnlyLoader(viper.GetViper())
		cfg, err := loader.Load()
		if err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		r := Check(cfg, cli.Secrets(viper.GetViper(), logger), time.Now(), logger)
		r.Settings = loader.Path
		return yaml.NewEncoder(cmd.OutOrStdout()).Encode(r)
	},
}

type Report struct {
	Settings           string   `yaml:"settings,omitempty"`
	AMPBaseURL         string   `yaml:"amp_base_url"`
	APIKeyAlias        string   `yaml:"api_key_alias"`
	APIKeyFound        bool     `yaml:"api_key_found"`
	PollInterval       string   `yaml:"poll_interval"`
	IdleDelay          string   `yaml:"idle_delay"`
	DryRun             bool     `yaml:"dry_run"`
	VerifySSL          bool     `yaml:"verify_ssl"`
	LogLevel           string   `yaml:"log_level"`
	Instances          []Entry  `yaml:"instances"`
	MaintenanceWindows []Window `yaml:"maintenance_windows"`
	InMaintenance      bool     `yaml:"in_maintenance"`
}

type Entry struct {
	ID        string `yaml:"id"`
	Threshold int    `yaml:"threshold"`
}

type Window struct {
	Days   []string `yaml:"days,flow"`
	Start  string   `yaml:"start"`
	End    string   `yaml:"end"`
	Valid  bool     `yaml:"valid"`
	Active bool     `yaml:"active"`
}

// Check reports the effective settings of cfg at the given time.
func Check(cfg configuration.Configuration, store secrets.Store, now time.Time, logger *slog.Logger) Report {
	_, found := store.Get(cfg.APIKeyAlias)
	r := Report{
		AMPBaseURL:         cfg.AMPBaseURL,
		APIKeyAlias:        cfg.APIKeyAlias,
		APIKeyFound:        found,
		PollInterval:       cfg.PollInterval().String(),
		IdleDelay:          cfg.IdleDelay().String(),
		DryRun:             cfg.DryRun,
		VerifySSL:          cfg.VerifySSL,
		LogLevel:           cfg.Level().String(),
		Instances:          make([]Entry, 0, len(cfg.SelectedInstances)),
		MaintenanceWindows: make([]Window, 0, len(cfg.MaintenanceWindows)),
		InMaintenance:      maintenance.InWindow(now, cfg.MaintenanceWindows, logger),
	}
	for _, id := range cfg.SelectedInstances {
		r.Instances = append(r.Instances, Entry{ID: id, Threshold: cfg.Threshold(id)})
	}
	for _, w := range cfg.MaintenanceWindows {
		_, err := maintenance.TimeInWindow(now, w.Start, w.End)
		r.MaintenanceWindows = append(r.MaintenanceWindows, Window{
			Days:   w.Days,
			Start:  w.Start,
			End:    w.End,
			Valid:  err == nil,
			Active: err == nil && maintenance.InWindow(now, []configuration.MaintenanceWindow{w}, logger),
		})
	}
	return r
}
