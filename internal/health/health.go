// Package health serves the latest poll cycle outcome on the /health endpoint.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/clambin/amp-autoshutdown/internal/monitor"
)

type Monitor interface {
	Subscribe() chan monitor.Update
	Unsubscribe(chan monitor.Update)
	Refresh()
}

// Health reports the outcome of the latest poll cycle. It returns 503 before the first cycle completed
// and while the AMP API is unreachable.
type Health struct {
	Monitor
	logger     *slog.Logger
	lastUpdate *monitor.Update
	lock       sync.RWMutex
}

func New(m Monitor, logger *slog.Logger) *Health {
	return &Health{
		Monitor: m,
		logger:  logger,
	}
}

func (h *Health) Run(ctx context.Context) error {
	h.logger.Debug("started")
	defer h.logger.Debug("stopped")

	ch := h.Monitor.Subscribe()
	defer h.Monitor.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			h.lock.Lock()
			h.lastUpdate = &update
			h.lock.Unlock()
		}
	}
}

func (h *Health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.lock.RLock()
	update := h.lastUpdate
	h.lock.RUnlock()

	if update == nil {
		http.Error(w, "no update yet", http.StatusServiceUnavailable)
		h.Monitor.Refresh()
		return
	}

	body, err := json.MarshalIndent(update, "", "  ")
	if err != nil {
		h.logger.Error("failed to encode update", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !update.APIUp() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(append(body, '\n'))
}
