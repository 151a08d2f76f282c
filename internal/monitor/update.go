package monitor

import (
	"encoding/json"
	"log/slog"
	"slices"
	"time"
)

// Status describes the outcome of a poll cycle.
type Status string

const (
	StatusOK             Status = "ok"
	StatusNoInstances    Status = "no_instances"
	StatusMaintenance    Status = "maintenance"
	StatusAPIUnavailable Status = "api_unavailable"
)

// An Update is the snapshot published at the end of every poll cycle.
type Update struct {
	Timestamp         time.Time      `json:"timestamp"`
	Status            Status         `json:"status"`
	PlayerCounts      PlayerCounts   `json:"player_counts,omitempty"`
	Thresholds        map[string]int `json:"thresholds,omitempty"`
	LastActivity      time.Time      `json:"last_activity"`
	IdleFor           time.Duration  `json:"-"`
	IdleDelay         time.Duration  `json:"-"`
	DryRun            bool           `json:"dry_run"`
	ShutdownTriggered bool           `json:"shutdown_triggered"`
}

// InMaintenance returns true if the cycle was skipped because of a maintenance window.
func (u Update) InMaintenance() bool {
	return u.Status == StatusMaintenance
}

// APIUp returns true if the cycle could reach the AMP API. Cycles that didn't call the API count as up.
func (u Update) APIUp() bool {
	return u.Status != StatusAPIUnavailable
}

func (u Update) MarshalJSON() ([]byte, error) {
	type update Update
	return json.Marshal(struct {
		update
		IdleFor   string `json:"idle_for"`
		IdleDelay string `json:"idle_delay"`
	}{
		update:    update(u),
		IdleFor:   u.IdleFor.Round(time.Second).String(),
		IdleDelay: u.IdleDelay.String(),
	})
}

func (u Update) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("status", string(u.Status)),
		slog.Duration("idle", u.IdleFor.Round(time.Second)),
		slog.Duration("delay", u.IdleDelay),
	}
	if len(u.PlayerCounts) > 0 {
		attrs = append(attrs, slog.Any("players", u.PlayerCounts))
	}
	if u.ShutdownTriggered {
		attrs = append(attrs, slog.Bool("triggered", true))
	}
	return slog.GroupValue(attrs...)
}

// PlayerCounts maps an instance ID to its number of players.
type PlayerCounts map[string]int

// Total returns the number of players across all instances.
func (p PlayerCounts) Total() int {
	var total int
	for _, count := range p {
		total += count
	}
	return total
}

func (p PlayerCounts) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(p))
	for _, id := range p.sortedIDs() {
		attrs = append(attrs, slog.Int(id, p[id]))
	}
	return slog.GroupValue(attrs...)
}

func (p PlayerCounts) sortedIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
