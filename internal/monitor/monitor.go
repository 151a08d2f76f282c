// Package monitor polls the AMP instances and shuts down the host once they have all been idle for long enough.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/amp-autoshutdown/internal/decider"
	"github.com/clambin/amp-autoshutdown/internal/maintenance"
	"github.com/clambin/amp-autoshutdown/pkg/pubsub"
)

// A Loader returns the current configuration.
type Loader interface {
	Load() (configuration.Configuration, error)
}

// A PlayerCounter returns the number of players of each instance.
type PlayerCounter interface {
	GetPlayerCounts(ctx context.Context, instanceIDs []string) (map[string]int, error)
}

// A ClientFactory returns the PlayerCounter to use for a configuration.
// It is called on every cycle, so changes to the AMP URL or API key take effect without a restart.
type ClientFactory func(cfg configuration.Configuration) (PlayerCounter, error)

// A Shutdowner shuts down the host.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

type Notifier interface {
	Notify(string)
}

// Monitor runs the poll loop. Each cycle's outcome is published to its subscribers as an Update.
type Monitor struct {
	*pubsub.Publisher[Update]
	loader            Loader
	clients           ClientFactory
	shutdowner        Shutdowner
	notifier          Notifier
	levelVar          *slog.LevelVar
	logger            *slog.Logger
	refresh           chan struct{}
	shutdownInitiated atomic.Bool
	now               func() time.Time
}

// New returns a Monitor. If levelVar is not nil, the monitor sets it to the log level of the configuration
// on every cycle. notifier may be nil.
func New(loader Loader, clients ClientFactory, shutdowner Shutdowner, notifier Notifier, levelVar *slog.LevelVar, logger *slog.Logger) *Monitor {
	return &Monitor{
		Publisher:  pubsub.New[Update](logger.With(slog.String("component", "publisher"))),
		loader:     loader,
		clients:    clients,
		shutdowner: shutdowner,
		notifier:   notifier,
		levelVar:   levelVar,
		logger:     logger,
		refresh:    make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled or a shutdown has been triggered.
// It only returns an error if the initial configuration cannot be loaded.
func (m *Monitor) Run(ctx context.Context) error {
	cfg, err := m.loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	m.setLevel(cfg)
	m.logger.Info("monitor started",
		slog.Any("instances", cfg.SelectedInstances),
		slog.Duration("interval", cfg.PollInterval()),
		slog.Duration("idleDelay", cfg.IdleDelay()),
		slog.Bool("dryRun", cfg.DryRun),
	)
	defer m.logger.Info("monitor stopped")

	d := decider.New(cfg, decider.WithClock(m.now))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-m.refresh:
		}

		var stop bool
		if cfg, stop = m.cycle(ctx, d, cfg); stop {
			return nil
		}
		timer.Reset(cfg.PollInterval())
	}
}

// Refresh requests an immediate poll cycle. It never blocks: if a request is already pending, it is dropped.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// cycle runs one poll cycle. It returns the configuration it used and whether the loop should stop.
// A panic during the cycle is logged and the previous configuration is kept.
func (m *Monitor) cycle(ctx context.Context, d *decider.Decider, previous configuration.Configuration) (cfg configuration.Configuration, stop bool) {
	cfg = previous
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("poll cycle failed", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			cfg, stop = previous, false
		}
	}()

	if loaded, err := m.loader.Load(); err != nil {
		m.logger.Warn("failed to reload configuration. using previous configuration", slog.Any("err", err))
	} else {
		cfg = loaded
	}
	m.setLevel(cfg)
	d.UpdateConfig(cfg)

	now := m.now()
	m.logger.Debug("poll cycle started", slog.Int("instances", len(cfg.SelectedInstances)))

	update := Update{
		Timestamp: now,
		Status:    StatusOK,
		IdleDelay: d.IdleDelay(),
		DryRun:    cfg.DryRun,
	}

	switch {
	case len(cfg.SelectedInstances) == 0:
		m.logger.Warn("no AMP instances selected for monitoring. skipping cycle")
		update.Status = StatusNoInstances
	case maintenance.InWindow(now, cfg.MaintenanceWindows, m.logger):
		m.logger.Debug("within maintenance window. skipping shutdown checks")
		d.MarkActive()
		update.Status = StatusMaintenance
	default:
		counts, err := m.playerCounts(ctx, cfg)
		if err != nil {
			m.logger.Warn("AMP API unavailable", slog.Any("err", err))
			update.Status = StatusAPIUnavailable
			break
		}
		update.PlayerCounts = counts
		update.Thresholds = thresholds(cfg)
		m.logger.Info("player counts", slog.Any("players", update.PlayerCounts))
		if d.RegisterObservation(counts) {
			m.logger.Info("idle threshold exceeded", slog.Duration("idle", d.IdleFor().Round(time.Second)))
			m.triggerShutdown(ctx, cfg)
			stop = true
		}
	}

	state := d.State()
	update.LastActivity = state.LastActivity
	update.IdleFor = d.IdleFor()
	update.ShutdownTriggered = state.ShutdownTriggered
	m.logger.Debug("poll cycle completed", slog.Any("update", update))
	m.Publish(update)
	return cfg, stop
}

func (m *Monitor) playerCounts(ctx context.Context, cfg configuration.Configuration) (PlayerCounts, error) {
	client, err := m.clients(cfg)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	counts, err := client.GetPlayerCounts(ctx, cfg.SelectedInstances)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// triggerShutdown shuts down the host, unless dry-run is enabled. It acts at most once per Monitor,
// even when called concurrently. A failed shutdown is not retried.
func (m *Monitor) triggerShutdown(ctx context.Context, cfg configuration.Configuration) {
	if !m.shutdownInitiated.CompareAndSwap(false, true) {
		m.logger.Debug("shutdown already initiated. skipping")
		return
	}
	if cfg.DryRun {
		m.logger.Warn("dry-run enabled. system shutdown skipped")
		m.notify(fmt.Sprintf("All instances idle for %s. Dry-run enabled: host not shut down", cfg.IdleDelay()))
		return
	}
	m.logger.Warn("idle threshold exceeded. issuing system shutdown command")
	if err := m.shutdowner.Shutdown(ctx); err != nil {
		m.logger.Error("failed to execute shutdown command", slog.Any("err", err))
		m.notify("Failed to shut down host: " + err.Error())
		return
	}
	m.notify(fmt.Sprintf("All instances idle for %s. Shutting down host", cfg.IdleDelay()))
}

func (m *Monitor) notify(msg string) {
	if m.notifier != nil {
		m.notifier.Notify(msg)
	}
}

func (m *Monitor) setLevel(cfg configuration.Configuration) {
	if m.levelVar != nil {
		m.levelVar.Set(cfg.Level())
	}
}

func thresholds(cfg configuration.Configuration) map[string]int {
	t := make(map[string]int, len(cfg.SelectedInstances))
	for _, instance := range cfg.SelectedInstances {
		t[instance] = cfg.Threshold(instance)
	}
	return t
}
