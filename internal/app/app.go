package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"unfollowbot/internal/chat"
	"unfollowbot/internal/config"
	"unfollowbot/internal/detector"
	"unfollowbot/internal/eventbus"
	"unfollowbot/internal/i18n"
	"unfollowbot/internal/ledger"
	"unfollowbot/internal/notify"
	"unfollowbot/internal/reconcile"
	"unfollowbot/internal/runtime/supervisor"
	"unfollowbot/internal/scheduler"
	"unfollowbot/internal/storage"
	"unfollowbot/internal/twitch"
	logx "unfollowbot/pkg/logx"
	"unfollowbot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	ledger     *ledger.Ledger
	detector   *detector.Detector
	catalog    *i18n.Catalog
	chat       *chat.Transport
	dispatcher *notify.Dispatcher
	reconciler *reconcile.Reconciler
	loop       *scheduler.Loop
}

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tg, err := telegramPusher(cfg)
	if err != nil {
		return nil, err
	}
	var sender logx.Sender
	if tg != nil {
		sender = tg
	}
	logSvc, log := logx.New(logConfig(cfg), sender)
	if cfg.Logging.Telegram.Enabled && sender == nil {
		log.Warn("logging.telegram enabled but telegram.token is not set")
	}
	appLog := log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
	}
	// Close what was opened so far when a later step fails.
	ok := false
	defer func() {
		if !ok {
			if a.store != nil {
				_ = a.store.Close()
			}
			_ = logSvc.Close()
		}
	}()

	pusher, err := pushers(cfg, tg)
	if err != nil {
		return nil, err
	}
	if len(pusher) == 0 {
		appLog.Warn("no push backend configured; unfollows are only logged")
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	a.ledger = ledger.New(a.store, log.With(logx.String("comp", "ledger")))

	api, err := twitch.New(twitchConfig(cfg), log.With(logx.String("comp", "twitch")))
	if err != nil {
		return nil, err
	}

	// Whispers need both the chat connection and the templates; without
	// chat neither is set up and the dispatcher skips messaging.
	var whisperer notify.Whisperer
	var templates notify.Templates
	if cfg.Chat.IsEnabled() {
		a.catalog, err = i18n.Load(cfg.Settings.MessagesFile, log.With(logx.String("comp", "i18n")))
		if err != nil {
			return nil, err
		}
		a.chat = chat.New(
			chat.NewIRCDialer(ircConfig(cfg), log.With(logx.String("comp", "chat.irc"))),
			log.With(logx.String("comp", "chat")),
			chat.Options{
				MaxTries:   cfg.Chat.MaxReconnectTries,
				RetryDelay: cfg.Chat.ReconnectDelayDuration(),
				OnFatal:    a.fatal,
			},
		)
		whisperer, templates = a.chat, a.catalog
	}

	a.dispatcher = notify.New(pusher, api, a.ledger, whisperer, templates,
		log.With(logx.String("comp", "notify")),
		notify.Options{
			PushTitle:        cfg.Settings.PushTitle,
			PushBody:         cfg.Settings.PushBody,
			MessagingEnabled: cfg.Settings.MessageUsers,
		})

	a.detector = detector.New(cfg.Settings.ChecksBeforeNotification)
	a.reconciler = reconcile.New(cfg.Twitch.ChannelID, api, a.detector, a.ledger, a.dispatcher, a.bus,
		log.With(logx.String("comp", "reconcile")))

	sched, err := pollSchedule(cfg)
	if err != nil {
		return nil, err
	}
	schedLog := log.With(logx.String("comp", "scheduler"))
	a.loop = scheduler.New(sched, a.reconciler.Tick, schedLog,
		scheduler.WithAfterTick(func(scheduler.Report) { systemd.Watchdog(schedLog) }))

	ok = true
	return a, nil
}

// fatal is the chat transport's OnFatal hook.
func (a *App) fatal(err error) {
	if a.sup == nil {
		a.log.Error("fatal error before start", logx.Err(err))
		return
	}
	a.sup.Fail("chat", err)
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
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := pollSchedule(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.ledger.Load(ctx); err != nil {
		return err
	}
	if a.chat != nil {
		if err := a.chat.Connect(ctx); err != nil {
			return err
		}
		a.log.Info("connected to chat")
	}

	// Subscribe before the watcher starts so no reload is missed.
	sub := a.cfgm.Subscribe(8)

	a.sup.Go("scheduler", a.loop.Run)
	// Losing hot reload is not worth stopping the checks for.
	watchBackoff := supervisor.WithRestartBackoff(time.Second, time.Minute)
	a.sup.GoRestart("config.watch", a.cfgm.Watch, watchBackoff)
	if a.catalog != nil {
		a.sup.GoRestart("messages.watch", a.catalog.Watch, watchBackoff)
	}

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

	// hot reload config fan-out
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
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	systemd.Ready(a.log)
	if wd := systemd.WatchdogInterval(); wd > 0 {
		now := time.Now()
		if gap := a.loop.Schedule().Next(now).Sub(now); gap >= wd {
			a.log.Warn("systemd watchdog is shorter than the poll interval; the unit will be restarted between checks",
				logx.Duration("watchdog", wd), logx.Duration("poll_interval", gap))
		}
	}
	a.log.Info("app started",
		logx.String("channel_id", a.cfgm.Get().Twitch.ChannelID),
		logx.String("schedule", a.loop.Schedule().String()),
		logx.Bool("chat", a.chat != nil),
	)
	return nil
}

// applyConfig applies the live-reloadable settings of newCfg. Everything
// else is logged as needing a restart.
func (a *App) applyConfig(prev, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(prev, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(logConfig(newCfg))
	a.detector.SetThreshold(newCfg.Settings.ChecksBeforeNotification)
	a.dispatcher.SetMessagingEnabled(newCfg.Settings.MessageUsers)
	a.dispatcher.SetPushFormat(newCfg.Settings.PushTitle, newCfg.Settings.PushBody)
	if prev == nil || prev.Settings.PollInterval != newCfg.Settings.PollInterval {
		if s, err := pollSchedule(newCfg); err != nil {
			a.log.Warn("invalid poll interval; keeping previous", logx.Err(err))
		} else {
			a.loop.SetSchedule(s)
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("keys", ch.Restart))
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TickDone:
		if e.Tick == nil {
			return
		}
		a.log.Debug("tick done",
			logx.Int("fetched", e.Tick.Fetched),
			logx.Int("followed", e.Tick.Followed),
			logx.Int("unfollowed", e.Tick.Unfollowed),
			logx.Int("suspects", e.Tick.Suspects),
			logx.Bool("flushed", e.Tick.Flushed),
			logx.Duration("took", e.Tick.Took),
		)
	default:
		a.log.Debug("event", logx.String("type", string(e.Type)),
			logx.String("user_id", e.Follower.ID), logx.String("user", e.Follower.Name))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	systemd.Stopping(a.log)
	a.log.Info("stopping", logx.String("reason", string(reason)))


	// step runs one shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Supervised goroutines first: the scheduler may be mid-tick and still
	// using chat and storage.
	step("supervisor", 10*time.Second, func(c context.Context) error {
		// Stop cancels first so the scheduler ends after the tick in flight.
		// A recorded fatal error is reported below, not as a step failure.
		_ = a.sup.Stop(c)
		if n := a.sup.Counters().Active; n > 0 {
			return fmt.Errorf("%d goroutines still running", n)
		}
		return nil
	})
	step("chat", 2*time.Second, func(context.Context) error {
		if a.chat != nil {
			return a.chat.Close()
		}
		return nil
	})
	step("ledger", 2*time.Second, func(c context.Context) error {
		_, err := a.ledger.FlushIfDirty(c)
		return err
	})
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	if err := a.sup.Err(); err != nil {
		a.log.Error("stopped with error", logx.Err(err))
	} else {
		a.log.Info("stopped")
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
