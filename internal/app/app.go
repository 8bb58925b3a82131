package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"quotecast/internal/broadcast"
	"quotecast/internal/config"
	"quotecast/internal/quote"
	rtsup "quotecast/internal/runtime/supervisor"
	"quotecast/internal/storage"
	"quotecast/internal/task/scheduler"
	kit "quotecast/internal/transport"
	telegram "quotecast/internal/transport/telegram/adapter"
	"quotecast/internal/transport/telegram/router"
	logx "quotecast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	adapter  *telegram.Adapter
	triggers *scheduler.Service
	resolver *quote.Resolver
	mgr      *broadcast.Manager
	cmdm     *router.CommandManager

	updates chan kit.Update
}

// NewApp loads configuration from cfgPath (optional) and the environment,
// then builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, os.LookupEnv)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapTelegramConfig(cfg), bootLog)
	if err != nil {
		return nil, err
	}

	// The adapter doubles as the Telegram log sink.
	logSvc, log := logx.New(cfg.LogConfig(), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	settings, schedCfg, err := mapBroadcast(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	triggers := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")))
	resolver := quote.New(mapQuoteConfig(cfg), log.With(logx.String("comp", "quote")))
	mgr := broadcast.New(settings, store, triggers, resolver, ad, log.With(logx.String("comp", "broadcast")))

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Workers:        cfg.Telegram.Workers,
		DefaultTimeout: cfg.CommandTimeout(),
		Audit:          store,
		UnknownReply:   "Unknown command. Try /help.",
	})
	cmds := &commands{
		mgr:    mgr,
		quotes: resolver,
		help:   cmdm.HelpText,
		log:    log.With(logx.String("comp", "commands")),
	}
	cmdm.SetRegistry(cmds.registry())

	for _, w := range cfg.Warnings() {
		log.Warn("config warning", logx.String("detail", w))
	}
	log.Info("app configured",
		logx.String("mode", ad.Mode()),
		logx.String("tz", settings.Location.String()),
		logx.String("daily", settings.DefaultTime.String()),
		logx.Bool("channel_set", settings.ChannelID != ""),
		logx.Bool("admin_set", settings.AdminID != ""),
		logx.String("db", sc.Path),
	)

	return &App{
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    store,
		adapter:  ad,
		triggers: triggers,
		resolver: resolver,
		mgr:      mgr,
		cmdm:     cmdm,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores persisted schedules, starts triggering and begins serving
// chat commands.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.mgr.Bootstrap(runCtx); err != nil {
		a.log.Warn("schedule bootstrap incomplete; continuing", logx.Err(err))
	}
	a.triggers.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.cmdm.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.notifySystemd(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("triggers", a.triggers.Len()))
	return nil
}

// applyConfig hot-applies logging. Every other section is only reported;
// it takes effect on the next restart.
func (a *App) applyConfig(next *config.Config) {
	changed, restart, attrs := config.SummarizeChange(a.cfg, next)
	a.cfg = next
	if len(changed) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(next.LogConfig())
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts everything down in reverse start order. Each step is bounded so
// a stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.notifySystemd(daemon.SdNotifyStopping)
	a.sup.Cancel()

	a.step(ctx, "telegram", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; deadline exceeded", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)))
	}
}
