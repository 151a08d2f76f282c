package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clambin/amp-autoshutdown/internal/amp"
	"github.com/clambin/amp-autoshutdown/internal/cmd/cli"
	"github.com/clambin/amp-autoshutdown/internal/collector"
	"github.com/clambin/amp-autoshutdown/internal/health"
	"github.com/clambin/amp-autoshutdown/internal/monitor"
	"github.com/clambin/amp-autoshutdown/internal/notifier"
	"github.com/clambin/amp-autoshutdown/internal/shutdown"
	"github.com/clambin/go-common/charmer"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Cmd = cobra.Command{
		Use:   "monitor",
		Short: "Shut down the host when all AMP instances are idle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			logger, levelVar := cli.Logger(viper.GetViper(), os.Stderr)
			logger.Info("amp-autoshutdown starting", slog.String("version", cmd.Root().Version))
			defer logger.Info("amp-autoshutdown stopped")

			a, err := New(viper.GetViper(), cmd.Root().Version, levelVar, logger)
			if err != nil {
				return err
			}
			prometheus.MustRegister(a)
			return a.Run(ctx)
		},
	}

	args = charmer.Arguments{
		"exporter.addr":    {":9090", "Address of Prometheus exporter. Empty disables the exporter"},
		"health.addr":      {":8080", "Address of /health endpoint. Empty disables the endpoint"},
		"slack.token":      {"", "Slack token. If set, shutdowns are announced on Slack"},
		"shutdown.command": {"", "Command that shuts down the host. Empty uses the OS default"},
	}
)

func init() {
	_ = charmer.SetPersistentFlags(&Cmd, viper.GetViper(), args)
}

// App runs the monitor with its exporter and health endpoint.
type App struct {
	monitor      *monitor.Monitor
	collector    *collector.Collector
	health       *health.Health
	metrics      transportMetrics
	exporterAddr string
	healthAddr   string
}

var _ prometheus.Collector = &App{}

// New builds an App from the process settings.
func New(v *viper.Viper, version string, levelVar *slog.LevelVar, logger *slog.Logger) (*App, error) {
	if exporterAddr := v.GetString("exporter.addr"); exporterAddr != "" && exporterAddr == v.GetString("health.addr") {
		return nil, fmt.Errorf("exporter and health endpoint cannot share address %q", exporterAddr)
	}

	a := App{
		metrics:      newTransportMetrics(),
		exporterAddr: v.GetString("exporter.addr"),
		healthAddr:   v.GetString("health.addr"),
	}

	factory := clients{
		store:  cli.Secrets(v, logger.With(slog.String("component", "secrets"))),
		opts:   []amp.Option{amp.WithMiddleware(a.metrics.instrument)},
		logger: logger.With(slog.String("component", "amp")),
	}

	shutdowner := shutdown.Default()
	if command := strings.Fields(v.GetString("shutdown.command")); len(command) > 0 {
		shutdowner = shutdown.Command{Name: command[0], Args: command[1:]}
	}

	notifiers := notifier.Notifiers{notifier.SLogNotifier{Logger: logger.With(slog.String("component", "notifier"))}}
	if token := v.GetString("slack.token"); token != "" {
		notifiers = append(notifiers, notifier.NewSlackNotifier(token, "amp-autoshutdown "+version, logger.With(slog.String("component", "slack"))))
	}

	a.monitor = monitor.New(cli.Loader(v), factory.PlayerCounter, shutdowner, notifiers, levelVar, logger.With(slog.String("component", "monitor")))
	a.collector = &collector.Collector{Monitor: a.monitor, Logger: logger.With(slog.String("component", "collector"))}
	a.health = health.New(a.monitor, logger.With(slog.String("component", "health")))

	logger.Debug("monitor configured", slog.String("settings", v.GetString("settings")), slog.String("shutdown", shutdowner.String()))
	return &a, nil
}

// HealthHandler returns the handler for the /health endpoint.
func (a *App) HealthHandler() http.Handler {
	m := http.NewServeMux()
	m.Handle("/health", a.health)
	return m
}

// Run runs the monitor, the collector, the health endpoint and the HTTP servers. It returns when ctx is cancelled
// or after the monitor triggered a shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return taskmanager.New(a.makeTasks(cancel)...).Run(ctx)
}

func (a *App) makeTasks(stop context.CancelFunc) []taskmanager.Task {
	// the monitor returns once it triggered a shutdown. that stops the other tasks too.
	tasks := []taskmanager.Task{
		stopOnReturn{Task: a.monitor, stop: stop},
		a.collector,
		a.health,
	}
	if a.exporterAddr != "" {
		tasks = append(tasks, promserver.New(promserver.WithAddr(a.exporterAddr)))
	}
	if a.healthAddr != "" {
		tasks = append(tasks, httpserver.New(a.healthAddr, a.HealthHandler()))
	}
	return tasks
}

type stopOnReturn struct {
	taskmanager.Task
	stop context.CancelFunc
}

func (s stopOnReturn) Run(ctx context.Context) error {
	defer s.stop()
	return s.Task.Run(ctx)
}

func (a *App) Describe(ch chan<- *prometheus.Desc) {
	a.collector.Describe(ch)
	a.metrics.Describe(ch)
}

func (a *App) Collect(ch chan<- prometheus.Metric) {
	a.collector.Collect(ch)
	a.metrics.Collect(ch)
}
