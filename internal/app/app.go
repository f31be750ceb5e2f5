package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wasched/internal/bot"
	"wasched/internal/config"
	"wasched/internal/dispatch"
	"wasched/internal/eventbus"
	"wasched/internal/messaging"
	"wasched/internal/observability/httpserver"
	"wasched/internal/receipts"
	rtsup "wasched/internal/runtime/supervisor"
	"wasched/internal/storage"
	kit "wasched/internal/transport"
	telegram "wasched/internal/transport/telegram/adapter"
	"wasched/internal/transport/telegram/router"
	"wasched/internal/wizard"
	logx "wasched/pkg/logx"
)

const sessionSweepEvery = time.Minute

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *rtsup.Registry

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	store         storage.Store
	backend       messaging.Backend
	receipts      receipts.Cache
	closeReceipts func() error

	adapter  *telegram.Adapter
	router   *router.Router
	bot      *bot.Bot
	sessions *wizard.Sessions

	disp    *dispatch.Dispatcher
	trigger *dispatch.Trigger
	http    *httpserver.Service

	set     settings
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	set, _ := mapSettings(cfg)

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
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

	// The Telegram sink is enabled only after its target chat is known,
	// otherwise Apply warns about a missing target.
	logCfg := mapLogging(cfg)
	wantChat := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if chatID, ok := groupLogChat(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = wantChat
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		sups:    rtsup.NewRegistry(),
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		set:     set,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg); err != nil {
		a.closeResources()
		logSvc.Close()
		return nil, err
	}
	return a, nil
}

// build opens the store and the backends and assembles the chat surface.
func (a *App) build(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(ctx, sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	a.backend, err = openBackend(cfg, a.log)
	if err != nil {
		return err
	}
	a.receipts, a.closeReceipts, err = openReceipts(ctx, cfg, a.log.With(logx.String("comp", "receipts")))
	if err != nil {
		return err
	}

	a.disp = dispatch.New(a.store, a.backend, dispatch.Options{
		SendTimeout: a.set.SendTimeout,
		RatePerSec:  a.set.SendRate,
		Receipts:    a.receipts,
		Bus:         a.bus,
	}, a.log.With(logx.String("comp", "dispatch")))
	a.trigger = dispatch.NewTrigger(a.disp, a.set.Location, a.log.With(logx.String("comp", "dispatch.trigger")))

	a.sessions = wizard.NewSessions(a.set.SessionTTL)
	a.bot = bot.New(bot.Deps{
		Store:       a.store,
		Backend:     a.backend,
		Sessions:    a.sessions,
		Bus:         a.bus,
		Log:         a.log,
		Ticks:       a.disp,
		Supervisors: a.sups,
	}, a.botSettings(cfg))

	a.router = router.New(a.log, a.adapter, router.Options{})
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetAllowed(cfg.Bot.AllowedUserIDs)
	a.bot.Register(a.router)

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	a.http = httpserver.New(hc, a.health, a.log)
	return nil
}

func (a *App) botSettings(cfg *config.Config) bot.Settings {
	return bot.Settings{
		Location:        a.set.Location,
		MinLead:         a.set.MinLead,
		MaxChoices:      a.set.MaxChoices,
		OwnerContactURL: strings.TrimSpace(cfg.Bot.OwnerContactURL),
	}
}

// health backs /healthz: the process is healthy when the WhatsApp backend
// answers ready.
func (a *App) health(ctx context.Context) (bool, map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ready := a.backend.IsReady(ctx)
	detail := map[string]any{
		"wa_ready":        ready,
		"wizard_sessions": a.sessions.Len(),
		"dispatch":        a.trigger.Running(),
	}
	if r, ok := a.disp.LastReport(); ok {
		detail["last_tick"] = r
	}
	if next := a.trigger.Next(); !next.IsZero() {
		detail["next_tick"] = next
	}
	return ready, detail
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sups.SetSource("telegram.adapter", a.adapter.Supervisor)

	a.sup.Go("telegram.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sups.SetSource("telegram.router", a.router.Supervisor)

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.router.PublishMenu(menuCtx); err != nil {
		a.log.Warn("publishing command menu failed", logx.Err(err))
	}
	cancel()

	if a.set.DispatchOn {
		if err := a.trigger.Start(a.sup.Context(), a.set.DispatchSpec); err != nil {
			return err
		}
	} else {
		a.log.Warn("dispatch disabled via config; scheduled entries will not be sent")
	}

	a.http.Start(a.sup.Context())
	a.sups.SetSource("http", a.http.Supervisor)

	a.sup.Go0("wizard.sweep", func(c context.Context) {
		t := time.NewTicker(sessionSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.sessions.Sweep(); n > 0 {
					a.log.Debug("expired wizard sessions removed", logx.Int("count", n))
				}
			}
		}
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("tz", a.set.Location.String()),
		logx.Bool("dispatch", a.set.DispatchOn),
		logx.String("dispatch_spec", a.set.DispatchSpec),
	)
	return nil
}

// applyConfig pushes a validated reload into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	if chatID, ok := groupLogChat(next); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogging(next))

	a.router.SetOwners(next.Telegram.OwnerUserIDs)
	a.router.SetAllowed(next.Bot.AllowedUserIDs)

	set, err := mapSettings(next)
	if err != nil {
		a.log.Warn("invalid scheduler/wizard config; keeping previous", logx.Err(err))
	} else {
		a.applySettings(ctx, set)
		a.bot.SetSettings(a.botSettings(next))
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(a.sup.Context(), hc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applySettings(ctx context.Context, set settings) {
	prev := a.set
	a.set = set

	a.sessions.SetTTL(set.SessionTTL)
	a.disp.Apply(set.SendTimeout, set.SendRate)

	// The cron trigger binds its location at construction; new entries
	// use the new zone right away.
	if prev.Location.String() != set.Location.String() {
		a.log.Warn("scheduler.timezone changed; dispatch spec keeps the old zone until restart",
			logx.String("from", prev.Location.String()), logx.String("to", set.Location.String()))
	}

	switch {
	case !set.DispatchOn && a.trigger.Running():
		a.log.Info("dispatch disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.trigger.Stop(stopCtx)
		cancel()
	case set.DispatchOn && !a.trigger.Running():
		if err := a.trigger.Start(a.sup.Context(), set.DispatchSpec); err != nil {
			a.log.Error("dispatch start failed", logx.Err(err))
		}
	case set.DispatchOn:
		if err := a.trigger.Reschedule(set.DispatchSpec); err != nil {
			a.log.Error("dispatch reschedule failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// The trigger waits for an in-flight tick so no send is cut off midway.
	step("dispatch", 5*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func (a *App) closeResources() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.closeReceipts != nil {
		keep(a.closeReceipts())
		a.closeReceipts = nil
	}
	if a.store != nil {
		keep(a.store.Close())
		a.store = nil
	}
	return firstErr
}
