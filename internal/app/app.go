// Package app wires the panel daemon together: config, logging, store,
// worker supervisor, scheduled dispatcher and the control service.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/ArtemKrvzng/telegram-control-panel/internal/botproc"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/config"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/dispatcher"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/panel"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/store"
	"github.com/ArtemKrvzng/telegram-control-panel/internal/telegram"
	logx "github.com/ArtemKrvzng/telegram-control-panel/pkg/logx"
)

type App struct {
	cfgPath string
	cfgMgr  *config.Manager
	logSvc  *logx.Service
	log     logx.Logger

	store  *store.Store
	sup    *botproc.Manager
	disp   *dispatcher.Service
	Panel  *panel.Service
	sender *telegram.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	bgWG    sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	fail := func(err error) (*App, error) {
		_ = logSvc.Close()
		return nil, err
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return fail(err)
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy},
		log.With(logx.String("svc", "store")))
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}

	httpTimeout, err := config.ParseDurationOrDefault("telegram.http_timeout", cfg.Telegram.HTTPTimeout, 10*time.Second)
	if err != nil {
		_ = st.Close()
		return fail(err)
	}
	sender := telegram.NewClient(telegram.Config{
		BaseURL: cfg.Telegram.APIBaseURL,
		Timeout: httpTimeout,
	}, log.With(logx.String("svc", "telegram")))

	stopGrace, err := config.ParseDurationOrDefault("worker.stop_grace", cfg.Worker.StopGrace, 10*time.Second)
	if err != nil {
		_ = st.Close()
		return fail(err)
	}
	sup := botproc.NewManager(
		botproc.Config{StopGrace: stopGrace},
		botproc.NewWorkerCommand(workerBinPath(cfg.Worker.BinPath), cfgPath),
		log.With(logx.String("svc", "botproc")),
	)

	retention, err := config.ParseDurationOrDefault("dispatcher.retention", cfg.Dispatcher.Retention, 0)
	if err != nil {
		_ = st.Close()
		return fail(err)
	}
	disp := dispatcher.New(dispatcher.Config{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
		AssetsDir: cfg.Telegram.AssetsDir,
		Retention: retention,
	}, st, st, sender, log.With(logx.String("svc", "dispatcher")))

	ctl := panel.New(panel.Config{
		AssetsDir:           cfg.Telegram.AssetsDir,
		BroadcastRatePerSec: float64(cfg.Dispatcher.BroadcastRatePerSec),
	}, st, sup, disp, sender, log.With(logx.String("svc", "panel")))

	return &App{
		cfgPath: cfgPath,
		cfgMgr:  mgr,
		logSvc:  logSvc,
		log:     log,
		store:   st,
		sup:     sup,
		disp:    disp,
		Panel:   ctl,
		sender:  sender,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	a.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.disp.Start(runCtx)
	a.restorePending(runCtx)

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		a.watchConfig(runCtx)
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("panel started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err == nil && sent {
		a.log.Debug("sd_notify stopping sent")
	}

	if cancel != nil {
		cancel()
	}
	a.disp.Stop(ctx)
	a.sup.StopAll()
	a.bgWG.Wait()

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("panel stopped")
	_ = a.logSvc.Close()
	return nil
}

// restorePending re-arms timers for posts that were awaiting delivery when
// the previous daemon instance went down. Posts whose instant already passed
// stay pending and are only reported; nothing fires late.
func (a *App) restorePending(ctx context.Context) {
	posts, err := a.store.ListPendingPosts(ctx)
	if err != nil {
		a.log.Error("pending post restore failed", logx.Err(err))
		return
	}
	now := time.Now()
	restored, missed := 0, 0
	for _, p := range posts {
		if !p.ScheduledAt.After(now) {
			missed++
			a.log.Warn("pending post missed its window",
				logx.String("link", p.Link), logx.Time("scheduled_at", p.ScheduledAt))
			continue
		}
		if err := a.disp.Schedule(p.Link, p.ScheduledAt); err != nil {
			a.log.Warn("pending post restore failed", logx.String("link", p.Link), logx.Err(err))
			continue
		}
		restored++
	}
	if restored > 0 || missed > 0 {
		a.log.Info("pending posts restored", logx.Int("restored", restored), logx.Int("missed", missed))
	}
}

// watchConfig hot-applies logging changes from the config file. Everything
// else (storage path, worker binary, dispatcher sizing) requires a restart.
func (a *App) watchConfig(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			if cfg == nil {
				continue
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			a.log.Info("logging config reapplied", logx.String("level", cfg.Logging.Level))
		}
	}
}

// workerBinPath defaults to a "botworker" binary next to the panel binary.
func workerBinPath(configured string) string {
	if configured != "" {
		return configured
	}
	exe, err := os.Executable()
	if err != nil {
		return "botworker"
	}
	return filepath.Join(filepath.Dir(exe), "botworker")
}
