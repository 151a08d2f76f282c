// Package collector exports the outcome of the latest poll cycle as Prometheus metrics.
package collector

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clambin/amp-autoshutdown/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	playersDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "instance", "players"),
		"Number of players on the instance",
		[]string{"instance"},
		nil,
	)
	thresholdDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "instance", "player_threshold"),
		"Number of players above which the instance is active",
		[]string{"instance"},
		nil,
	)
	idleDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "", "idle_seconds"),
		"Time since the last activity in seconds",
		nil,
		nil,
	)
	idleDelayDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "", "idle_delay_seconds"),
		"Idle time after which the host is shut down, in seconds",
		nil,
		nil,
	)
	maintenanceDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "", "maintenance"),
		"1 if the host is inside a maintenance window",
		nil,
		nil,
	)
	apiUpDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "api", "up"),
		"1 if the AMP API could be reached during the last poll cycle",
		nil,
		nil,
	)
	dryRunDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "", "dry_run"),
		"1 if dry-run is enabled",
		nil,
		nil,
	)
	triggeredDesc = prometheus.NewDesc(
		prometheus.BuildFQName("amp_autoshutdown", "shutdown", "triggered"),
		"1 if the idle threshold was exceeded and a shutdown was triggered",
		nil,
		nil,
	)
)

type Publisher[T any] interface {
	Subscribe() chan T
	Unsubscribe(chan T)
}

var _ prometheus.Collector = &Collector{}

// Collector is a prometheus.Collector for the Updates of a monitor.
type Collector struct {
	Monitor    Publisher[monitor.Update]
	Logger     *slog.Logger
	lock       sync.RWMutex
	lastUpdate *monitor.Update
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Monitor.Subscribe()
	defer c.Monitor.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.process(update)
		}
	}
}

func (c *Collector) process(update monitor.Update) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lastUpdate = &update
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- playersDesc
	ch <- thresholdDesc
	ch <- idleDesc
	ch <- idleDelayDesc
	ch <- maintenanceDesc
	ch <- apiUpDesc
	ch <- dryRunDesc
	ch <- triggeredDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.lastUpdate == nil {
		return
	}
	for instance, count := range c.lastUpdate.PlayerCounts {
		ch <- prometheus.MustNewConstMetric(playersDesc, prometheus.GaugeValue, float64(count), instance)
	}
	for instance, threshold := range c.lastUpdate.Thresholds {
		ch <- prometheus.MustNewConstMetric(thresholdDesc, prometheus.GaugeValue, float64(threshold), instance)
	}
	ch <- prometheus.MustNewConstMetric(idleDesc, prometheus.GaugeValue, c.lastUpdate.IdleFor.Seconds())
	ch <- prometheus.MustNewConstMetric(idleDelayDesc, prometheus.GaugeValue, c.lastUpdate.IdleDelay.Seconds())
	ch <- prometheus.MustNewConstMetric(maintenanceDesc, prometheus.GaugeValue, boolValue(c.lastUpdate.InMaintenance()))
	ch <- prometheus.MustNewConstMetric(apiUpDesc, prometheus.GaugeValue, boolValue(c.lastUpdate.APIUp()))
	ch <- prometheus.MustNewConstMetric(dryRunDesc, prometheus.GaugeValue, boolValue(c.lastUpdate.DryRun))
	ch <- prometheus.MustNewConstMetric(triggeredDesc, prometheus.GaugeValue, boolValue(c.lastUpdate.ShutdownTriggered))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
