// Package app wires the avatar, its dispatch loop and the device session
// into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/normanking/cortexface/internal/assets"
	"github.com/normanking/cortexface/internal/avatar"
	"github.com/normanking/cortexface/internal/boards"
	"github.com/normanking/cortexface/internal/bridge"
	"github.com/normanking/cortexface/internal/bus"
	"github.com/normanking/cortexface/internal/config"
	"github.com/normanking/cortexface/internal/display"
	"github.com/normanking/cortexface/internal/metrics"
	"github.com/normanking/cortexface/internal/session"
	"github.com/normanking/cortexface/internal/timer"
	"github.com/rs/zerolog"
)

// App holds the running components
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	profile    *boards.Profile
	catalog    *assets.Catalog
	eventBus   *bus.EventBus
	loop       *timer.Loop
	surface    *display.Memory
	controller *avatar.Controller
	bridge     *bridge.AvatarBridge
	metrics    *metrics.Recorder
	manual     *timer.Manual // set in step mode, only touched on the loop

	mu         sync.Mutex
	watcher    *assets.Watcher
	session    *session.Client
	metricsSrv *http.Server
	started    bool
}

// ErrNotStepping is returned by Step when the app runs on wall time
var ErrNotStepping = errors.New("app is not in step mode")

// Option customizes New
type Option func(*App)

// WithStepping drives the avatar timers from virtual time advanced by Step
// instead of the clock.
func WithStepping() Option {
	return func(a *App) { a.manual = timer.NewManual() }
}

// New builds the components for cfg. A nil clock uses wall time.
func New(cfg *config.Config, logger zerolog.Logger, clk clock.Clock, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logger.With().Str("component", "app").Logger()

	profile, err := boards.Get(cfg.Board)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg.Assets.Dir, logger)
	if err != nil {
		return nil, err
	}

	avCfg, err := profile.AvatarConfig(catalog)
	if err != nil {
		return nil, err
	}
	avCfg = applyOverrides(avCfg, cfg.Avatar)
	if err := avCfg.Validate(); err != nil {
		return nil, err
	}

	var resolver display.SourceResolver
	if catalog != nil {
		resolver = catalog
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		profile:  profile,
		catalog:  catalog,
		eventBus: bus.NewEventBus(),
		loop:     timer.NewLoop(clk, logger),
		surface:  display.NewMemory(resolver),
		metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(a)
	}

	var scheduler timer.Scheduler = a.loop
	if a.manual != nil {
		scheduler = a.manual
	}
	a.controller = avatar.New(a.surface, scheduler, avCfg, logger)
	a.bridge = bridge.NewAvatarBridge(a.controller, a.loop, scheduler, a.eventBus, bridge.Options{
		Linger:  cfg.Avatar.Linger,
		Metrics: a.metrics,
	}, logger)
	return a, nil
}

// loadCatalog returns nil without error when dir does not exist, so boards
// with explicit durations run without GIFs on disk.
func loadCatalog(dir string, logger zerolog.Logger) (*assets.Catalog, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("dir", dir).Msg("Asset directory missing, sources are not checked")
		return nil, nil
	}
	return assets.Load(dir, logger)
}

func applyOverrides(cfg avatar.Config, o config.AvatarConfig) avatar.Config {
	if o.StartMargin > 0 {
		cfg.StartMargin = o.StartMargin
	}
	if o.AdvanceMargin > 0 {
		cfg.AdvanceMargin = o.AdvanceMargin
	}
	if o.CaptionInterval > 0 {
		cfg.CaptionInterval = o.CaptionInterval
	}
	if o.CaptionUnit != "" {
		cfg.CaptionUnit = avatar.CaptionUnit(o.CaptionUnit)
	}
	return cfg
}

// Start runs the loop, initializes the avatar in idle and starts the
// optional watcher, session and metrics listener.
func (a *App) Start(ctx context.Context, connect bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	a.loop.Start()
	a.bridge.Bind()

	var initErr error
	if err := a.loop.Do(ctx, func() { initErr = a.controller.Initialize() }); err != nil {
		a.loop.Stop()
		return err
	}
	if initErr != nil {
		a.loop.Stop()
		return fmt.Errorf("initialize avatar: %w", initErr)
	}
	a.eventBus.Publish(bus.Event{Type: bus.EventTypeIdle})

	if a.cfg.Assets.Watch && a.catalog != nil {
		w, err := assets.NewWatcher(a.catalog, a.onAssetChanged, a.logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Asset watcher unavailable")
		} else {
			a.watcher = w
		}
	}

	if a.cfg.Metrics.Addr != "" {
		a.startMetrics(a.cfg.Metrics.Addr)
	}

	if connect && a.cfg.Server.URL != "" {
		a.session = session.NewClient(session.Options{
			URL:               a.cfg.Server.URL,
			Token:             a.cfg.Server.Token,
			DeviceID:          a.cfg.Server.DeviceID,
			ProtocolVersion:   a.cfg.Server.ProtocolVersion,
			ReconnectDelay:    a.cfg.Server.ReconnectDelay,
			MaxReconnectDelay: a.cfg.Server.MaxReconnectDelay,
		}, a.eventBus, a.logger)
		if err := a.session.Connect(ctx); err != nil {
			return err
		}
	}

	a.started = true
	a.logger.Info().
		Str("board", a.profile.Name).
		Bool("session", a.session != nil).
		Str("metrics", a.cfg.Metrics.Addr).
		Msg("cortexface started")
	return nil
}

func (a *App) onAssetChanged(name string, removed bool) {
	a.eventBus.Publish(bus.Event{
		Type: bus.EventTypeAssetChanged,
		Data: map[string]any{bus.KeyResource: name, bus.KeyRemoved: removed},
	})
}

func (a *App) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics listener failed")
		}
	}(a.metricsSrv)
}

// Stop shuts down in reverse order: session, watcher, metrics, avatar, loop
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.started = false

	if a.session != nil {
		a.session.Disconnect()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metricsSrv.Shutdown(ctx)
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.loop.Do(ctx, a.controller.Destroy); err != nil {
		a.logger.Warn().Err(err).Msg("Avatar destroy did not complete")
	}
	a.loop.Stop()
	a.logger.Info().Msg("cortexface stopped")
}

// State reads the controller state on the loop
func (a *App) State(ctx context.Context) (avatar.State, error) {
	var s avatar.State
	err := a.loop.Do(ctx, func() { s = a.controller.State() })
	return s, err
}

// Stepping reports whether the app was built WithStepping
func (a *App) Stepping() bool { return a.manual != nil }

// Step advances virtual time by d on the loop, firing due timers. A d of
// zero or less jumps to the next timer deadline. It returns the virtual time
// after the step.
func (a *App) Step(ctx context.Context, d time.Duration) (time.Duration, error) {
	if a.manual == nil {
		return 0, ErrNotStepping
	}
	var now time.Duration
	err := a.loop.Do(ctx, func() {
		if d <= 0 {
			next, ok := a.manual.Until()
			if !ok {
				now = a.manual.Now()
				return
			}
			d = next
		}
		a.manual.Advance(d)
		now = a.manual.Now()
	})
	return now, err
}

// Bus returns the event bus
func (a *App) Bus() *bus.EventBus { return a.eventBus }

// Surface returns the display surface
func (a *App) Surface() *display.Memory { return a.surface }

// Profile returns the board profile
func (a *App) Profile() *boards.Profile { return a.profile }

// Metrics returns the metrics recorder
func (a *App) Metrics() *metrics.Recorder { return a.metrics }

// Session returns the device session, nil when not connected
func (a *App) Session() *session.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}
