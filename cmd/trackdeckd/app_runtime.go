package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/trackdeck/trackdeck/internal/api"
	"github.com/trackdeck/trackdeck/internal/cachestore"
	"github.com/trackdeck/trackdeck/internal/clock"
	"github.com/trackdeck/trackdeck/internal/config"
	"github.com/trackdeck/trackdeck/internal/connectivity"
	"github.com/trackdeck/trackdeck/internal/fetchpolicy"
	"github.com/trackdeck/trackdeck/internal/freshness"
	"github.com/trackdeck/trackdeck/internal/notify"
	"github.com/trackdeck/trackdeck/internal/refresh"
)

type trackdeckApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	quality     *connectivity.QualityTable
	monitor     *connectivity.Monitor
	mirror      *cachestore.MirrorRepo
	store       *cachestore.Store
	flushWorker *cachestore.MirrorFlushWorker
	sweeper     *cachestore.MirrorSweeper
	tracker     *freshness.Tracker
	policy      *fetchpolicy.Policy
	coord       *refresh.Coordinator
	apiSrv      *api.Server
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	mirror, err := persistenceBootstrap(envCfg.DataDir)
	if err != nil {
		return fmt.Errorf("persistence bootstrap: %w", err)
	}
	log.Println("Persistence bootstrap complete")

	app, err := newTrackdeckApp(envCfg, mirror)
	if err != nil {
		_ = mirror.Close()
		return err
	}

	serverErrCh := app.startServers()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if err := mirror.Close(); err != nil {
		log.Printf("Mirror close error: %v", err)
	}
	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

// persistenceBootstrap opens (or creates) the mirror database and brings
// its schema up to date.
func persistenceBootstrap(dataDir string) (*cachestore.MirrorRepo, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	db, err := cachestore.OpenDB(filepath.Join(dataDir, "cache.db"))
	if err != nil {
		return nil, err
	}
	if err := cachestore.MigrateMirrorDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return cachestore.NewMirrorRepo(db), nil
}

func newTrackdeckApp(envCfg *config.EnvConfig, mirror *cachestore.MirrorRepo) (*trackdeckApp, error) {
	app := &trackdeckApp{
		envCfg:     envCfg,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
		mirror:     mirror,
	}

	runtimeCfg, err := config.LoadRuntimeOverlay(envCfg.RuntimeConfigFile, config.NewDefaultRuntimeConfig())
	if err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}
	app.runtimeCfg.Store(runtimeCfg)

	clk := clock.NewSystem()
	cfg := func() *config.RuntimeConfig { return app.runtimeCfg.Load() }

	app.quality = connectivity.NewQualityTable(envCfg.QualityTableMaxEntries, 10*time.Minute)

	app.monitor = connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:  connectivity.NewHTTPProber(&http.Client{}),
		Clock:   clk,
		Quality: app.quality,

		BaseURL:               func() string { return cfg().BaseURL },
		ProbePath:             func() string { return cfg().ProbePath },
		ProbeHeaders:          func() map[string]string { return cfg().ProbeHeaders },
		ProbeTimeout:          func() time.Duration { return cfg().ProbeTimeout.Std() },
		OnlineInterval:        func() time.Duration { return cfg().OnlineInterval.Std() },
		OfflineInterval:       func() time.Duration { return cfg().OfflineInterval.Std() },
		FailuresBeforeOffline: func() int { return cfg().FailuresBeforeOffline },
		FastLatencyThreshold:  func() time.Duration { return cfg().FastLatencyThreshold.Std() },

		// The coordinator is constructed below; the indirection keeps
		// the transition wiring out of construction order.
		OnTransition: func(online bool) {
			if app.coord != nil {
				app.coord.OnConnectivityChange(online)
			}
		},
	})

	app.store = cachestore.NewStore(cachestore.StoreConfig{
		Clock:      clk,
		DefaultTTL: func() time.Duration { return cfg().DefaultCacheTTL.Std() },
		Enabled:    func() bool { return cfg().CacheEnabled },
		Mirror:     mirror,
	})
	if err := app.bootstrapCache(); err != nil {
		return nil, err
	}

	app.flushWorker = cachestore.NewMirrorFlushWorker(
		app.store,
		mirror,
		clk,
		func() int { return cfg().MirrorFlushDirtyThreshold },
		func() time.Duration { return cfg().MirrorFlushInterval.Std() },
		envCfg.MirrorFlushCheckTick,
	)

	app.sweeper, err = cachestore.NewMirrorSweeper(mirror, envCfg.MirrorSweepSchedule)
	if err != nil {
		return nil, fmt.Errorf("mirror sweeper: %w", err)
	}

	app.tracker = freshness.NewTracker(freshness.TrackerConfig{
		Clock:             clk,
		OutdatedThreshold: func() time.Duration { return cfg().OutdatedThreshold.Std() },
		StaleThreshold:    func() time.Duration { return cfg().StaleThreshold.Std() },
		Online:            app.monitor.IsOnline,
	})

	app.policy = fetchpolicy.NewPolicy(fetchpolicy.PolicyConfig{
		Cache:               app.store,
		Online:              app.monitor.IsOnline,
		OnFreshData:         app.tracker.Touch,
		RetryMaxAttempts:    func() int { return cfg().RetryMaxAttempts },
		RetryInitialBackoff: func() time.Duration { return cfg().RetryInitialBackoff.Std() },
	})

	notifier := notify.NewDebouncer(notify.LogSink{}, clk, func() time.Duration {
		return cfg().NotifyQuietPeriod.Std()
	})

	app.coord = refresh.NewCoordinator(refresh.CoordinatorConfig{
		Clock:    clk,
		Tracker:  app.tracker,
		Notifier: notifier,

		Enabled:            func() bool { return cfg().RefreshEnabled },
		Interval:           func() time.Duration { return cfg().RefreshInterval.Std() },
		RefreshOnReconnect: func() bool { return cfg().RefreshOnReconnect },
		OnlyWhenVisible:    func() bool { return cfg().OnlyWhenVisible },
		RefreshOnResume:    func() bool { return cfg().RefreshOnResume },
	})

	app.apiSrv = api.NewServer(
		envCfg.ListenAddress,
		envCfg.Port,
		envCfg.AdminToken,
		int64(envCfg.APIMaxBodyBytes),
		api.Deps{
			Monitor:         app.monitor,
			Store:           app.store,
			Tracker:         app.tracker,
			Coordinator:     app.coord,
			Policy:          app.policy,
			RuntimeCfg:      app.runtimeCfg,
			OnConfigPatched: app.onConfigPatched,
		},
	)

	app.startBackgroundServices()
	return app, nil
}

// bootstrapCache rehydrates the in-memory map from the mirror so cached
// data survives a restart into the first offline minutes.
func (a *trackdeckApp) bootstrapCache() error {
	entries, err := a.mirror.LoadAll()
	if err != nil {
		return fmt.Errorf("load mirrored cache: %w", err)
	}
	a.store.Bootstrap(entries)
	log.Printf("Cache bootstrap: %d mirrored entries loaded", len(entries))
	return nil
}

// onConfigPatched runs after every successful config PATCH. A base URL
// change invalidates the reachability belief and forces a re-probe; the
// heartbeats re-arm so new intervals apply immediately.
func (a *trackdeckApp) onConfigPatched(old, applied *config.RuntimeConfig) {
	if old.BaseURL != applied.BaseURL {
		log.Printf("Base URL changed %q -> %q, re-probing", old.BaseURL, applied.BaseURL)
		a.monitor.NoteEndpointChanged(old.BaseURL)
	}
	a.coord.UpdateConfig()
}

func (a *trackdeckApp) startBackgroundServices() {
	a.monitor.StartMonitoring()
	a.flushWorker.Start()
	a.sweeper.Start()
	a.coord.Start()
}

func (a *trackdeckApp) startServers() <-chan error {
	serverErrCh := make(chan error, 1)

	go func() {
		log.Printf("TrackDeck API server starting on %s", formatListenURL(a.envCfg.ListenAddress, a.envCfg.Port))
		err := a.apiSrv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		select {
		case serverErrCh <- fmt.Errorf("api server: %w", err):
		default:
		}
	}()

	return serverErrCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

func formatListenURL(listenAddress string, port int) string {
	return "http://" + net.JoinHostPort(listenAddress, strconv.Itoa(port))
}

func (a *trackdeckApp) shutdown(ctx context.Context) {
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("API server stopped")

	// Stop in order: refresh triggers first, then the probe loop, then
	// persistence workers, flushing pending writes before the DB closes.
	a.coord.Stop()
	log.Println("Refresh coordinator stopped")

	a.monitor.Stop()
	log.Println("Connectivity monitor stopped")

	a.sweeper.Stop()
	log.Println("Mirror sweeper stopped")

	a.flushWorker.Stop() // final mirror flush before DB close
	log.Println("Mirror flush worker stopped")

	a.quality.Close()
	log.Println("Server stopped")
}
