// Package app assembles the bot: config, logging, storage, feed client,
// ingestion pipeline, scheduler, command router and the Telegram adapter.
package app

import (
	"context"
	"time"

	"spotbot/internal/commands"
	"spotbot/internal/config"
	"spotbot/internal/engine"
	"spotbot/internal/eventbus"
	"spotbot/internal/feed"
	"spotbot/internal/router"
	"spotbot/internal/scheduler"
	"spotbot/internal/storage"
	"spotbot/internal/transport"
	"spotbot/internal/transport/telegram"
	"spotbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	sched   *scheduler.Service
	router  *router.Router

	interactions chan transport.Interaction

	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busyTimeout, err := config.ParseDuration(cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	reqTimeout, err := config.ParseDuration(cfg.Feed.RequestTimeout, 0)
	if err != nil {
		return nil, err
	}
	client := feed.NewHTTPClient(feed.ClientConfig{
		BaseURL:        cfg.Feed.BaseURL,
		RequestTimeout: reqTimeout,
		RatePerSec:     cfg.Feed.RatePerSec,
	}, log.With(logx.String("comp", "feed")))
	fetcher := feed.NewFetcher(client, feed.FetcherConfig{
		PageSize: cfg.Feed.PageSize,
		MaxPages: cfg.Feed.MaxPages,
	}, log.With(logx.String("comp", "feed")))

	pollTimeout, err := config.ParseDuration(cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	selector := engine.NewSelector(store, log.With(logx.String("comp", "selector")))
	pipeline := engine.NewPipeline(fetcher, selector, store, adapter, bus,
		log.With(logx.String("comp", "engine")))

	sched := scheduler.New(store, pipeline.Run, bus, log.With(logx.String("comp", "scheduler")))

	r := router.New(adapter, log.With(logx.String("comp", "router")))
	if err := commands.Register(r, commands.Deps{
		Store: store,
		Sched: sched,
		Log:   log.With(logx.String("comp", "commands")),
	}); err != nil {
		return nil, err
	}

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		adapter:      adapter,
		sched:        sched,
		router:       r,
		interactions: make(chan transport.Interaction, 64),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.adapter.Start(ctx, a.interactions); err != nil {
		return err
	}
	a.router.Start(ctx, a.interactions)
	if err := a.sched.Refresh(ctx); err != nil {
		return err
	}

	go a.followConfig(ctx)
	go a.followEvents(ctx)

	a.log.Info("started", logx.Int("tenants", len(a.sched.RunningJobs())))
	return nil
}

// followEvents mirrors run outcomes onto the app log so operators see posts
// and failures in one place regardless of which trigger caused the run.
func (a *App) followEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(16)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.TypeItemPosted:
				a.log.Info("item posted",
					logx.String("tenant", ev.TenantID),
					logx.Any("item", ev.Data),
				)
			case eventbus.TypeRunFinished:
				if res, ok := ev.Data.(engine.RunResult); ok && res.Err != nil {
					a.log.Warn("run finished with error",
						logx.String("tenant", ev.TenantID),
						logx.Duration("took", res.Took),
						logx.Err(res.Err),
					)
				}
			}
		}
	}
}

// followConfig watches the config file and applies the parts that can change
// at runtime (log sinks and level). Everything else needs a restart.
func (a *App) followConfig(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			if err := a.sched.Refresh(ctx); err != nil {
				a.log.Warn("scheduler refresh after config change failed", logx.Err(err))
			}
			a.log.Info("runtime config applied", logx.String("level", cfg.Logging.Level))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop()
	_ = a.adapter.Stop(ctx)
	a.router.Wait()
	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
