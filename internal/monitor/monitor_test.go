package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clambin/amp-autoshutdown/internal/amp"
	"github.com/clambin/amp-autoshutdown/internal/configuration"
	"github.com/clambin/amp-autoshutdown/internal/shutdown"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Run_Shutdown(t *testing.T) {
	tests := []struct {
		name          string
		dryRun        bool
		shutdownErr   error
		wantShutdowns int32
		wantMessage   string
	}{
		{name: "shutdown", wantShutdowns: 1, wantMessage: "All instances idle for 1m0s. Shutting down host"},
		{name: "dry run", dryRun: true, wantShutdowns: 0, wantMessage: "All instances idle for 1m0s. Dry-run enabled: host not shut down"},
		{name: "shutdown fails", shutdownErr: shutdown.ErrShutdownFailed, wantShutdowns: 1, wantMessage: "Failed to shut down host: shutdown failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfiguration()
			cfg.DryRun = tt.dryRun
			h := newHarness(cfg)
			h.shutdowner.err = tt.shutdownErr
			h.start(t)

			u := h.next(t)
			assert.Equal(t, StatusOK, u.Status)
			assert.Equal(t, PlayerCounts{"mc": 0, "valheim": 0}, u.PlayerCounts)
			assert.Equal(t, map[string]int{"mc": 0, "valheim": 2}, u.Thresholds)
			assert.False(t, u.ShutdownTriggered)

			h.clock.Advance(2 * time.Minute)
			u = h.refresh(t)
			assert.True(t, u.ShutdownTriggered)
			assert.Equal(t, 2*time.Minute, u.IdleFor)

			assert.NoError(t, h.wait(t))
			assert.Equal(t, tt.wantShutdowns, h.shutdowner.calls.Load())
			assert.Equal(t, []string{tt.wantMessage}, h.notifier.Messages())
		})
	}
}

func TestMonitor_Run_Activity(t *testing.T) {
	h := newHarness(testConfiguration())
	h.counter.Set(map[string]int{"mc": 0, "valheim": 3}, nil)
	h.start(t)

	u := h.next(t)
	assert.Equal(t, StatusOK, u.Status)
	assert.Equal(t, 3, u.PlayerCounts.Total())

	h.clock.Advance(2 * time.Minute)
	u = h.refresh(t)
	assert.False(t, u.ShutdownTriggered)
	assert.Equal(t, h.clock.Now(), u.LastActivity)

	// players at the threshold count as idle
	h.counter.Set(map[string]int{"mc": 0, "valheim": 2}, nil)
	h.clock.Advance(30 * time.Second)
	u = h.refresh(t)
	assert.False(t, u.ShutdownTriggered)
	assert.Equal(t, 30*time.Second, u.IdleFor)

	h.clock.Advance(30 * time.Second)
	u = h.refresh(t)
	assert.True(t, u.ShutdownTriggered)
	assert.NoError(t, h.wait(t))
	assert.Equal(t, int32(1), h.shutdowner.calls.Load())
}

func TestMonitor_Run_Maintenance(t *testing.T) {
	cfg := testConfiguration()
	cfg.MaintenanceWindows = []configuration.MaintenanceWindow{{Days: []string{"*"}, Start: "11:00", End: "13:00"}}
	h := newHarness(cfg)
	h.start(t)

	u := h.next(t)
	assert.Equal(t, StatusMaintenance, u.Status)
	assert.True(t, u.InMaintenance())
	assert.Empty(t, u.PlayerCounts)

	h.clock.Advance(30 * time.Minute)
	u = h.refresh(t)
	assert.Equal(t, StatusMaintenance, u.Status)
	assert.Equal(t, h.clock.Now(), u.LastActivity)
	assert.Zero(t, h.counter.calls.Load())

	// the end of the window is inclusive
	h.clock.Advance(30 * time.Minute)
	u = h.refresh(t)
	assert.Equal(t, StatusMaintenance, u.Status)

	// maintenance counts as activity: the idle period starts when the window ends
	h.clock.Advance(30 * time.Second)
	u = h.refresh(t)
	assert.Equal(t, StatusOK, u.Status)
	assert.False(t, u.ShutdownTriggered)
	assert.Equal(t, 30*time.Second, u.IdleFor)

	h.clock.Advance(30 * time.Second)
	u = h.refresh(t)
	assert.True(t, u.ShutdownTriggered)
	assert.NoError(t, h.wait(t))
}

func TestMonitor_Run_APIUnavailable(t *testing.T) {
	h := newHarness(testConfiguration())
	h.counter.Set(nil, amp.ErrAPIUnavailable)
	h.start(t)

	u := h.next(t)
	assert.Equal(t, StatusAPIUnavailable, u.Status)
	assert.False(t, u.APIUp())

	// no observation: neither activity nor idle
	h.clock.Advance(2 * time.Minute)
	u = h.refresh(t)
	assert.Equal(t, StatusAPIUnavailable, u.Status)
	assert.False(t, u.ShutdownTriggered)
	assert.Equal(t, 2*time.Minute, u.IdleFor)

	h.counter.Set(map[string]int{"mc": 0}, nil)
	u = h.refresh(t)
	assert.Equal(t, StatusOK, u.Status)
	assert.True(t, u.ShutdownTriggered)
	assert.NoError(t, h.wait(t))
}

func TestMonitor_Run_ClientFactoryFails(t *testing.T) {
	h := newHarness(testConfiguration())
	h.clients = func(configuration.Configuration) (PlayerCounter, error) {
		return nil, errors.New("amp: base URL is required")
	}
	h.start(t)

	u := h.next(t)
	assert.Equal(t, StatusAPIUnavailable, u.Status)
}

func TestMonitor_Run_NoInstances(t *testing.T) {
	cfg := testConfiguration()
	cfg.SelectedInstances = []string{}
	h := newHarness(cfg)
	h.start(t)

	u := h.next(t)
	assert.Equal(t, StatusNoInstances, u.Status)
	assert.Zero(t, h.counter.calls.Load())
}

func TestMonitor_Run_Reload(t *testing.T) {
	h := newHarness(testConfiguration())
	h.start(t)

	u := h.next(t)
	assert.Equal(t, time.Minute, u.IdleDelay)
	assert.Equal(t, slog.LevelInfo, h.levelVar.Level())

	cfg := testConfiguration()
	cfg.IdleDelayMinutes = 30
	cfg.LogLevel = "debug"
	cfg.DryRun = true
	h.loader.Set(cfg, nil)
	u = h.refresh(t)
	assert.Equal(t, 30*time.Minute, u.IdleDelay)
	assert.True(t, u.DryRun)
	assert.Equal(t, slog.LevelDebug, h.levelVar.Level())

	// a failed reload keeps the previous configuration
	h.loader.Set(configuration.Configuration{}, configuration.ErrConfigInvalid)
	u = h.refresh(t)
	assert.Equal(t, StatusOK, u.Status)
	assert.Equal(t, 30*time.Minute, u.IdleDelay)
}

func TestMonitor_Run_InitialLoadFails(t *testing.T) {
	h := newHarness(testConfiguration())
	h.loader.Set(configuration.Configuration{}, configuration.ErrConfigInvalid)
	err := h.monitor.Run(t.Context())
	assert.ErrorIs(t, err, configuration.ErrConfigInvalid)
}

func TestMonitor_Run_Cancel(t *testing.T) {
	h := newHarness(testConfiguration())
	h.start(t)
	_ = h.next(t)

	start := time.Now()
	h.cancel()
	assert.NoError(t, h.wait(t))
	assert.Less(t, time.Since(start), time.Second)
}

func TestMonitor_Run_RecoversFromPanic(t *testing.T) {
	h := newHarness(testConfiguration())
	h.counter.panics.Store(true)
	h.start(t)

	var u Update
	require.Eventually(t, func() bool {
		h.monitor.Refresh()
		select {
		case u = <-h.updates:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusOK, u.Status)
	assert.GreaterOrEqual(t, h.counter.calls.Load(), int32(2))
}

func TestMonitor_TriggerShutdown_AtMostOnce(t *testing.T) {
	h := newHarness(testConfiguration())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.monitor.triggerShutdown(t.Context(), testConfiguration())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), h.shutdowner.calls.Load())
	assert.Len(t, h.notifier.Messages(), 1)
}

func TestMonitor_Refresh_DoesNotBlock(t *testing.T) {
	h := newHarness(testConfiguration())
	done := make(chan struct{})
	go func() {
		for range 10 {
			h.monitor.Refresh()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Refresh blocked")
	}
}

func testConfiguration() configuration.Configuration {
	return configuration.Configuration{
		AMPBaseURL:            "https://amp.example.com",
		APIKeyAlias:           configuration.DefaultAPIKeyAlias,
		PollIntervalSeconds:   30,
		IdleDelayMinutes:      1,
		PerInstanceThresholds: map[string]int{"valheim": 2},
		SelectedInstances:     []string{"mc", "valheim"},
		LogLevel:              "INFO",
	}
}

type harness struct {
	monitor    *Monitor
	loader     *fakeLoader
	counter    *fakeCounter
	clients    ClientFactory
	shutdowner *fakeShutdowner
	notifier   *fakeNotifier
	clock      *fakeClock
	levelVar   *slog.LevelVar
	updates    chan Update
	cancel     context.CancelFunc
	errCh      chan error
}

func newHarness(cfg configuration.Configuration) *harness {
	h := harness{
		loader:     &fakeLoader{cfg: cfg},
		counter:    &fakeCounter{counts: map[string]int{"mc": 0, "valheim": 0}},
		shutdowner: &fakeShutdowner{},
		notifier:   &fakeNotifier{},
		clock:      &fakeClock{now: time.Date(2024, time.March, 4, 12, 0, 0, 0, time.Local)},
		levelVar:   new(slog.LevelVar),
	}
	h.clients = func(configuration.Configuration) (PlayerCounter, error) { return h.counter, nil }
	h.monitor = New(h.loader, func(cfg configuration.Configuration) (PlayerCounter, error) {
		return h.clients(cfg)
	}, h.shutdowner, h.notifier, h.levelVar, slog.New(slog.DiscardHandler))
	h.monitor.now = h.clock.Now
	return &h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.updates = h.monitor.Subscribe()
	t.Cleanup(func() { h.monitor.Unsubscribe(h.updates) })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.cancel = cancel
	h.errCh = make(chan error, 1)
	go func() { h.errCh <- h.monitor.Run(ctx) }()
}

func (h *harness) next(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update received")
		return Update{}
	}
}

func (h *harness) refresh(t *testing.T) Update {
	t.Helper()
	h.monitor.Refresh()
	return h.next(t)
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
		return nil
	}
}

type fakeLoader struct {
	lock sync.Mutex
	cfg  configuration.Configuration
	err  error
}

func (f *fakeLoader) Load() (configuration.Configuration, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.cfg, f.err
}

func (f *fakeLoader) Set(cfg configuration.Configuration, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cfg, f.err = cfg, err
}

type fakeCounter struct {
	lock   sync.Mutex
	counts map[string]int
	err    error
	calls  atomic.Int32
	panics atomic.Bool
}

func (f *fakeCounter) GetPlayerCounts(_ context.Context, _ []string) (map[string]int, error) {
	f.calls.Add(1)
	if f.panics.CompareAndSwap(true, false) {
		panic("boom")
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.counts, f.err
}

func (f *fakeCounter) Set(counts map[string]int, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.counts, f.err = counts, err
}

type fakeShutdowner struct {
	calls atomic.Int32
	err   error
}

func (f *fakeShutdowner) Shutdown(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type fakeNotifier struct {
	lock     sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(msg string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.messages = append(f.messages, msg)
}

func (f *fakeNotifier) Messages() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.messages...)
}

type fakeClock struct {
	lock sync.Mutex
	now  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.now = f.now.Add(d)
}
