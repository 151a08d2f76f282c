// Package decider decides when a set of game server instances has been idle long enough to shut down the host.
//
// A Decider tracks the last time any instance had more players than its threshold. Once all instances have been
// at or below their threshold for the configured idle delay, RegisterObservation returns true, once. It only fires
// again after new activity has been observed.
package decider

import (
	"time"

	"github.com/clambin/amp-autoshutdown/internal/configuration"
)

// State of a Decider.
type State struct {
	LastActivity      time.Time
	ShutdownTriggered bool
}

// A Decider is not safe for concurrent use: it is owned by the poll loop.
type Decider struct {
	state                 State
	idleDelay             time.Duration
	globalThreshold       int
	perInstanceThresholds map[string]int
	now                   func() time.Time
}

// Option configures a Decider.
type Option func(*Decider)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(d *Decider) { d.now = now }
}

// New returns a Decider for the configuration. The idle period starts now.
func New(cfg configuration.Configuration, opts ...Option) *Decider {
	d := Decider{now: time.Now}
	for _, opt := range opts {
		opt(&d)
	}
	d.state.LastActivity = d.now()
	d.UpdateConfig(cfg)
	return &d
}

// UpdateConfig replaces the thresholds and idle delay. It does not reset the idle period.
func (d *Decider) UpdateConfig(cfg configuration.Configuration) {
	d.idleDelay = cfg.IdleDelay()
	d.globalThreshold = cfg.GlobalPlayerThreshold
	d.perInstanceThresholds = cfg.PerInstanceThresholds
}

// RegisterObservation processes the player count of each instance and returns true if the host should be shut down.
//
// An instance is active if its player count is strictly above its threshold. If any instance is active,
// the idle period restarts. An empty observation carries no information and is ignored.
func (d *Decider) RegisterObservation(playerCounts map[string]int) bool {
	if len(playerCounts) == 0 {
		return false
	}
	now := d.now()
	for instance, count := range playerCounts {
		if count > d.threshold(instance) {
			d.state.LastActivity = now
			d.state.ShutdownTriggered = false
			return false
		}
	}
	if now.Sub(d.state.LastActivity) < d.idleDelay || d.state.ShutdownTriggered {
		return false
	}
	d.state.ShutdownTriggered = true
	return true
}

// MarkActive restarts the idle period without clearing a triggered shutdown.
func (d *Decider) MarkActive() {
	d.state.LastActivity = d.now()
}

// State returns the current state.
func (d *Decider) State() State {
	return d.state
}

// IdleFor returns the time since the last activity.
func (d *Decider) IdleFor() time.Duration {
	return d.now().Sub(d.state.LastActivity)
}

// IdleDelay returns the configured idle delay.
func (d *Decider) IdleDelay() time.Duration {
	return d.idleDelay
}

func (d *Decider) threshold(instance string) int {
	if threshold, ok := d.perInstanceThresholds[instance]; ok {
		return threshold
	}
	return d.globalThreshold
}
