package configuration

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time, without date.
type TimeOfDay struct {
	Hour    int
	Minutes int
}

// ParseTimeOfDay parses an "HH:MM" (24h) timestamp.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	timestamp, err := time.Parse("15:04", value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q", ErrConfigInvalid, value)
	}
	return TimeOfDay{Hour: timestamp.Hour(), Minutes: timestamp.Minute()}, nil
}

// Offset returns the time since midnight.
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minutes)*time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minutes)
}

// OffsetOf returns the time since midnight of a timestamp, in the timestamp's location.
func OffsetOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
