package app

import (
	"context"
	"fmt"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/discovery"
	"postwatch/internal/eventbus"
	"postwatch/internal/feed"
	"postwatch/internal/notify"
	"postwatch/internal/scheduler"
	"postwatch/internal/store"
	logx "postwatch/pkg/logx"
)

// App owns wiring and lifecycle: config file in, running monitor out.
type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	st     store.Store
	known  *store.KnownSet
	source *feed.HTTPSource
	engine *discovery.Engine
	notif  *notify.Manager
	sched  *scheduler.Service
	sink   *logSink

	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetLogger(logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	bus := eventbus.New()

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	src, err := feed.NewHTTPSource(mapSourceConfig(cfg), logSvc.Logger().With(logx.String("comp", "feed")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine := discovery.New(src, st, engCfg, logSvc.Logger().With(logx.String("comp", "discovery")))

	notifCfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notifCfg, bus, logSvc.Logger().With(logx.String("comp", "notify")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		st:      st,
		source:  src,
		engine:  engine,
		notif:   notif,
	}

	schedCfg := a.mapSchedulerConfig(cfg)
	a.sched = scheduler.New(schedCfg, engine, notif, a.knownLen,
		bus, logSvc.Logger().With(logx.String("comp", "scheduler")))
	a.sink = newLogSink(bus, logSvc.Logger().With(logx.String("comp", "sink")))

	return a, nil
}

func (a *App) knownLen() int {
	if a.known == nil {
		return 0
	}
	return a.known.Len()
}

// Start loads the known set and begins monitoring. full forces the
// first scan to walk the whole feed even when the store is non-empty.
func (a *App) Start(ctx context.Context, full bool) error {
	known, err := a.st.LoadKnown(ctx)
	if err != nil {
		return fmt.Errorf("load known posts: %w", err)
	}
	a.known = known
	a.log.Info("known posts loaded", logx.Int("count", known.Len()))

	a.sink.Start(ctx)
	a.notif.Start(ctx)
	a.sched.Start(ctx, full)

	// Config hot reload.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	go func() {
		if err := a.cfgm.Watch(watchCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	sub := a.cfgm.Subscribe(1)
	go func() {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-watchCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("postwatch started")
	return nil
}

// Stop shuts everything down in reverse order. In-flight scans are
// cancelled; the store is closed last so a finishing merge can land.
func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.sched.Shutdown(ctx)
	a.notif.Stop(ctx)
	a.sink.Stop()
	err := a.st.Close()
	a.log.Info("postwatch stopped")
	_ = a.logs.Close()
	return err
}

// CheckNow triggers a manual scan; full forces a full-feed walk.
func (a *App) CheckNow(full bool) { a.sched.CheckNow(full) }

// StartMonitoring resumes a suspended scheduler.
func (a *App) StartMonitoring(ctx context.Context) { a.sched.Start(ctx, false) }

// StopMonitoring suspends scanning without shutting the process down.
func (a *App) StopMonitoring() { a.sched.Stop() }

// applyConfig pushes a hot-reloaded config into the running services.
// Storage and source changes need a restart and are ignored here.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if engCfg, err := mapEngineConfig(cfg); err == nil {
		a.engine.Apply(engCfg)
	}
	if notifCfg, err := mapNotifyConfig(cfg); err == nil {
		a.notif.Apply(notifCfg)
	}
	a.sched.Apply(a.mapSchedulerConfig(cfg))
	a.log.Info("config applied")
}

// ---- config mapping ----

const (
	defaultSchedule    = 5 * time.Minute
	defaultScanTimeout = 2 * time.Minute
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = 5 * time.Minute
	defaultThreshold   = 3
)

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = "./known_posts.json"
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapSourceConfig(cfg *config.Config) feed.HTTPConfig {
	login := cfg.Source.LoginPath
	if login == "" {
		login = "/login"
	}
	feedPath := cfg.Source.FeedPath
	if feedPath == "" {
		feedPath = "/feed"
	}
	return feed.HTTPConfig{
		BaseURL:   cfg.Source.BaseURL,
		LoginPath: login,
		FeedPath:  feedPath,
		PageSize:  cfg.Source.PageSize,
		Username:  cfg.Source.Username,
		Password:  cfg.Source.Password,
	}
}

func mapEngineConfig(cfg *config.Config) (discovery.Config, error) {
	timeout, err := config.ParseDurationOrDefault("check.scan_timeout", cfg.Check.ScanTimeout, defaultScanTimeout)
	if err != nil {
		return discovery.Config{}, err
	}
	return discovery.Config{Timeout: timeout}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	autoClose, err := config.ParseDurationField("notify.auto_close", cfg.Notify.AutoClose)
	if err != nil {
		return notify.Config{}, err
	}
	perToast, err := config.ParseDurationField("notify.per_toast_auto_close", cfg.Notify.PerToastAutoClose)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		GlobalAutoClose:   autoClose,
		PerToastAutoClose: perToast,
		RatePerSec:        cfg.Notify.RatePerSec,
	}, nil
}

func (a *App) mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sched, err := scheduler.ParseSchedule(cfg.Check.Schedule)
	if cfg.Check.Schedule != "" && err != nil {
		a.log.Warn("invalid check.schedule, using default",
			logx.String("value", cfg.Check.Schedule), logx.Err(err))
	}
	if sched.IsZero() {
		sched = scheduler.Schedule{Every: defaultSchedule, Raw: defaultSchedule.String()}
	}

	base, _ := config.ParseDurationOrDefault("backoff.base", cfg.Backoff.Base, defaultBackoffBase)
	max, _ := config.ParseDurationOrDefault("backoff.max", cfg.Backoff.Max, defaultBackoffMax)
	threshold := cfg.Backoff.FailureThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	autoClose, _ := config.ParseDurationField("notify.auto_close", cfg.Notify.AutoClose)

	return scheduler.Config{
		Schedule:         sched,
		BackoffBase:      base,
		BackoffMax:       max,
		FailureThreshold: threshold,
		FullEveryN:       cfg.Check.FullEveryN,
		GlobalAutoClose:  autoClose,
	}
}
