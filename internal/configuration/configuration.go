// Package configuration holds the monitor settings that are re-read on every poll cycle.
package configuration

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
)

// ErrConfigInvalid marks a configuration value that cannot be used, e.g. a malformed maintenance window.
var ErrConfigInvalid = errors.New("invalid configuration")

const (
	DefaultAPIKeyAlias = "default"

	MinPollInterval = 5 * time.Second
	MinIdleDelay    = time.Minute
)

// Configuration of the idle monitor.
type Configuration struct {
	AMPBaseURL            string              `toml:"amp_base_url" yaml:"amp_base_url"`
	APIKeyAlias           string              `toml:"api_key_alias" yaml:"api_key_alias"`
	PollIntervalSeconds   int                 `toml:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	IdleDelayMinutes      int                 `toml:"idle_delay_minutes" yaml:"idle_delay_minutes"`
	GlobalPlayerThreshold int                 `toml:"global_player_threshold" yaml:"global_player_threshold"`
	PerInstanceThresholds map[string]int      `toml:"per_instance_thresholds" yaml:"per_instance_thresholds"`
	SelectedInstances     []string            `toml:"selected_instances" yaml:"selected_instances"`
	MaintenanceWindows    []MaintenanceWindow `toml:"maintenance_windows" yaml:"maintenance_windows"`
	DryRun                bool                `toml:"dry_run" yaml:"dry_run"`
	LogLevel              string              `toml:"log_level" yaml:"log_level"`
	VerifySSL             bool                `toml:"verify_ssl" yaml:"verify_ssl"`
}

// Default returns the configuration written when no configuration file exists yet.
func Default() Configuration {
	cfg := defaults()
	cfg.MaintenanceWindows = []MaintenanceWindow{{Days: []string{"sun"}, Start: "01:00", End: "05:00"}}
	return cfg
}

func defaults() Configuration {
	return Configuration{
		APIKeyAlias:         DefaultAPIKeyAlias,
		PollIntervalSeconds: 30,
		IdleDelayMinutes:    10,
		DryRun:              true,
		LogLevel:            "INFO",
		VerifySSL:           true,
	}
}

// PollInterval returns the time between two poll cycles. It is never shorter than MinPollInterval.
func (c Configuration) PollInterval() time.Duration {
	return max(MinPollInterval, duration(c.PollIntervalSeconds, time.Second))
}

// IdleDelay returns how long all instances must be idle before the host is shut down.
// It is never shorter than MinIdleDelay.
func (c Configuration) IdleDelay() time.Duration {
	return max(MinIdleDelay, duration(c.IdleDelayMinutes, time.Minute))
}

// duration returns value * unit, saturating at the largest whole number of units a time.Duration can hold.
func duration(value int, unit time.Duration) time.Duration {
	return time.Duration(min(int64(value), int64(math.MaxInt64/unit))) * unit
}

// Threshold returns the player threshold for an instance: its own threshold if configured, the global one otherwise.
func (c Configuration) Threshold(instance string) int {
	if threshold, ok := c.PerInstanceThresholds[instance]; ok {
		return threshold
	}
	return c.GlobalPlayerThreshold
}

// Level returns the slog level matching LogLevel. Unknown values map to Info.
func (c Configuration) Level() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Normalize cleans up a decoded configuration: negative thresholds become zero, selected instances lose blanks
// and duplicates (keeping their order) and maintenance window days are validated.
func (c Configuration) Normalize() Configuration {
	if c.APIKeyAlias = strings.TrimSpace(c.APIKeyAlias); c.APIKeyAlias == "" {
		c.APIKeyAlias = DefaultAPIKeyAlias
	}
	c.AMPBaseURL = strings.TrimRight(strings.TrimSpace(c.AMPBaseURL), "/")
	c.GlobalPlayerThreshold = max(0, c.GlobalPlayerThreshold)

	var thresholds map[string]int
	if len(c.PerInstanceThresholds) > 0 {
		thresholds = make(map[string]int, len(c.PerInstanceThresholds))
		for instance, threshold := range c.PerInstanceThresholds {
			thresholds[instance] = max(0, threshold)
		}
	}
	c.PerInstanceThresholds = thresholds

	instances := make([]string, 0, len(c.SelectedInstances))
	for _, instance := range c.SelectedInstances {
		if instance = strings.TrimSpace(instance); instance != "" && !slices.Contains(instances, instance) {
			instances = append(instances, instance)
		}
	}
	c.SelectedInstances = instances

	windows := make([]MaintenanceWindow, len(c.MaintenanceWindows))
	for i, window := range c.MaintenanceWindows {
		windows[i] = window.Normalize()
	}
	c.MaintenanceWindows = windows
	return c
}

// A MaintenanceWindow is a recurring period during which the host must not be shut down.
// Start and End are "HH:MM" (24h). If Start is after End, the window wraps around midnight.
type MaintenanceWindow struct {
	Days  []string `toml:"days" yaml:"days"`
	Start string   `toml:"start" yaml:"start"`
	End   string   `toml:"end" yaml:"end"`
}

// AnyDay matches every day of the week.
const AnyDay = "*"

var validDays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun", AnyDay}

// Normalize lower-cases the days and drops invalid ones. A window without valid days applies to every day.
func (w MaintenanceWindow) Normalize() MaintenanceWindow {
	days := make([]string, 0, len(w.Days))
	for _, day := range w.Days {
		if day = strings.ToLower(strings.TrimSpace(day)); slices.Contains(validDays, day) && !slices.Contains(days, day) {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		days = []string{AnyDay}
	}
	w.Days = days
	w.Start = strings.TrimSpace(w.Start)
	w.End = strings.TrimSpace(w.End)
	return w
}
