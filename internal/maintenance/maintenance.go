// Package maintenance determines whether a moment falls inside one of the configured maintenance windows.
package maintenance

import (
	"log/slog"
	"strings"
	"time"

	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/go-common/set"
)

// InWindow returns true if now falls inside any of the maintenance windows.
// Windows with a malformed start or end time never match. A window without days applies to every day.
func InWindow(now time.Time, windows []configuration.MaintenanceWindow, logger *slog.Logger) bool {
	today := Weekday(now)
	for _, window := range windows {
		if !appliesTo(window, today) {
			continue
		}
		in, err := TimeInWindow(now, window.Start, window.End)
		if err != nil {
			logger.Warn("ignoring invalid maintenance window", slog.String("start", window.Start), slog.String("end", window.End), slog.Any("err", err))
			continue
		}
		if in {
			return true
		}
	}
	return false
}

func appliesTo(window configuration.MaintenanceWindow, day string) bool {
	if len(window.Days) == 0 {
		return true
	}
	lowered := make([]string, len(window.Days))
	for i, d := range window.Days {
		lowered[i] = strings.ToLower(d)
	}
	days := set.New(lowered...)
	return days.Contains(configuration.AnyDay) || days.Contains(day)
}

// TimeInWindow returns true if the time of day of t is between start and end ("HH:MM"), inclusive.
// If start is after end, the window wraps around midnight.
func TimeInWindow(t time.Time, start, end string) (bool, error) {
	from, err := configuration.ParseTimeOfDay(start)
	if err != nil {
		return false, err
	}
	to, err := configuration.ParseTimeOfDay(end)
	if err != nil {
		return false, err
	}
	current := configuration.OffsetOf(t)
	if from.Offset() <= to.Offset() {
		return from.Offset() <= current && current <= to.Offset(), nil
	}
	return current >= from.Offset() || current <= to.Offset(), nil
}

// Weekday returns the lower-case three-letter abbreviation of the day of t, e.g. "mon".
func Weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String()[:3])
}
