// Package app is the castbot composition root.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"castbot/internal/bot"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/eventbus"
	"castbot/internal/recipients"
	"castbot/internal/runtime/supervisor"
	"castbot/internal/storage"
	kit "castbot/internal/transport"
	telegram "castbot/internal/transport/telegram/adapter"
	"castbot/internal/transport/telegram/router"
	logx "castbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	// bsup owns broadcast runs; it outlives the app context so a stop can
	// give running broadcasts a short grace period.
	bsup *supervisor.Supervisor
	sups *supervisor.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	coord   *broadcast.Coordinator
	cmdm    *router.CommandManager
	digest  *digest

	started time.Time
	updates chan kit.Update
}

// NewApp loads the config at cfgPath and wires every component. Nothing
// runs until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := cfg.Telegram.PollDuration()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", store.Driver()))

	bus := eventbus.New()
	sups := supervisor.NewRegistry()
	bsup := supervisor.New(context.Background(),
		supervisor.WithLogger(log.With(logx.String("comp", "broadcast.supervisor"))),
		supervisor.WithCancelOnError(false),
	)
	sups.Set("broadcast", bsup)

	coord := broadcast.NewCoordinator(broadcast.Deps{
		Store:      store,
		Gateway:    ad,
		Supervisor: bsup,
		Bus:        bus,
		Log:        log,
		Options:    func() broadcast.Options { return broadcastOptions(cfgm.Get()) },
	})

	cmdm := router.NewCommandManager(log, ad, cfg.Telegram.OwnerUserIDs, router.Options{
		Config:      cfgm.Get,
		Supervisors: sups,
	})
	cmdm.SetObserver(recipients.NewRegistrar(store, bus, log).Observe)
	bot.New(bot.Deps{Broadcaster: coord, Store: store, Log: log}).Install(cmdm)

	owners := func() []int64 {
		if c := cfgm.Get(); c != nil {
			return c.Telegram.OwnerUserIDs
		}
		return nil
	}

	return &App{
		cfgm:    cfgm,
		bsup:    bsup,
		sups:    sups,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		coord:   coord,
		cmdm:    cmdm,
		digest:  newDigest(store, ad, owners, log),
		updates: make(chan kit.Update, 256),
	}, nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.GroupLogChatID(),
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func broadcastOptions(cfg *config.Config) broadcast.Options {
	if cfg == nil {
		return broadcast.Options{}
	}
	return broadcast.Options{
		MaxInFlight: cfg.Broadcast.MaxInFlight,
		ReportEvery: cfg.Broadcast.ReportEvery,
		RatePerSec:  cfg.Broadcast.RatePerSec,
		Prefetch:    cfg.Broadcast.Prefetch,
	}
}

// Done is closed when the app context ends (Stop or a fatal error).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error reported by a supervised goroutine.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	cfg := a.cfgm.Get()
	if cfg.HTTP.IsEnabled() {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           newHealthRouter(healthSource{started: a.started, sessions: a.coord.Active, sups: a.sups}, a.log.With(logx.String("comp", "http"))),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.sup.Go("http", func(c context.Context) error {
			return serveHTTP(c, srv, a.log.With(logx.String("comp", "http")))
		})
	}

	a.digest.Apply(cfg.Digest)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// keep only the latest config of a burst
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)))
	return nil
}

// applyConfig pushes the live-reloadable parts of newCfg into the running
// components. Broadcast options are read by the next run.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	changed, restart, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if len(changed) == 0 {
		a.log.Info("config reloaded (no live changes)")
		return
	}

	a.logs.Apply(logConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.digest.Apply(newCfg.Digest)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: changed})

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case broadcast.StartedEvent:
		a.log.Info("broadcast started", logx.Int64("operator", d.OperatorID), logx.Int("total", d.Total))
	case broadcast.FinishedEvent:
		fields := []logx.Field{
			logx.Int64("operator", d.OperatorID),
			logx.String("run_id", d.Result.RunID),
			logx.Int64("ok", d.Result.Tally.Succeeded),
			logx.Int64("fail", d.Result.Tally.Failed),
			logx.Duration("took", d.Result.Elapsed),
		}
		if d.Result.Unattempted > 0 {
			fields = append(fields, logx.Int("unattempted", d.Result.Unattempted))
		}
		if d.Result.SourceErr != nil {
			fields = append(fields, logx.Err(d.Result.SourceErr))
		}
		a.log.Info("broadcast finished", fields...)
	case recipients.Joined:
		a.log.Debug("recipient joined", logx.Int64("id", int64(d.Recipient.ID)))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("digest", 1*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })
	step("broadcast", 6*time.Second, a.stopBroadcasts)
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// stopBroadcasts lets running broadcasts finish for a few seconds, then
// interrupts them.
func (a *App) stopBroadcasts(ctx context.Context) error {
	if n := len(a.coord.Active()); n > 0 {
		a.log.Info("waiting for running broadcasts", logx.Int("sessions", n))
	}
	graceCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	err := a.bsup.Wait(graceCtx)
	cancel()
	if err == nil {
		a.bsup.Cancel()
		return nil
	}
	return a.bsup.Stop(ctx)
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
