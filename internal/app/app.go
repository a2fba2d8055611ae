package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"robocmd/internal/config"
	"robocmd/internal/eventbus"
	"robocmd/internal/journal"
	"robocmd/internal/loop"
	"robocmd/internal/observability/debug"
	"robocmd/internal/runtime/supervisor"
	"robocmd/internal/sim"
	"robocmd/internal/trigger"
	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	// jsup outlives sup so lifecycle events from the final CancelAll
	// still reach the journal.
	jsup *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store journal.Store
	rec   *journal.Recorder

	mgr      *scheduler.Manager
	robot    *sim.Robot
	reg      *trigger.Registry
	triggers *trigger.Service
	loop     *loop.Loop
	debug    *debug.Service

	notify func(state string) (bool, error)
}

type Option func(*App)

// WithNotifier replaces daemon.SdNotify for READY/STOPPING and watchdog
// notifications.
func WithNotifier(fn func(state string) (bool, error)) Option {
	return func(a *App) { a.notify = fn }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		bus:     eventbus.New(),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
	for _, o := range opts {
		o(a)
	}

	a.logs, a.log = logx.New(mapLogging(cfg), eventbus.AlertSink(a.bus))
	log := a.log
	a.log = log.With(logx.String("comp", "app"))

	// Journal (optional)
	if jc, err := mapJournal(cfg); err == nil {
		st, err := journal.Open(jc, log.With(logx.String("comp", "journal")))
		if err != nil {
			a.logs.Close()
			return nil, err
		}
		a.store = st
		a.rec = journal.NewRecorder(st, "", log)
		a.log.Info("journal enabled", logx.String("driver", jc.Driver), logx.String("session", a.rec.Session()))
	} else if !isDisabled(err) {
		a.logs.Close()
		return nil, err
	}

	a.mgr = scheduler.New(
		scheduler.WithLogger(log),
		scheduler.WithObserver(eventbus.Observer(a.bus)),
	)
	a.robot = sim.New(log)
	if err := a.robot.Register(a.mgr); err != nil {
		a.closeEarly()
		return nil, err
	}
	a.mgr.AddCondScheduler(a.robot.Bindings())

	a.reg = trigger.NewRegistry()
	for name, f := range a.robot.Factories() {
		if err := a.reg.Register(name, f); err != nil {
			a.closeEarly()
			return nil, err
		}
	}
	a.triggers = trigger.New(a.reg, a.mgr, log)
	specs := mapTriggers(cfg)
	if err := a.triggers.Validate(specs); err != nil {
		a.closeEarly()
		return nil, fmt.Errorf("triggers: %w", err)
	}
	_ = a.triggers.Apply(specs)

	a.loop = loop.New(a.mgr, mapLoop(cfg), log, loop.WithBus(a.bus), loop.WithNotifier(a.notify))
	a.debug = debug.New(mapDebug(cfg), func() any { return a.Status() }, log)
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	a.logs.Close()
}

// Manager exposes the command manager driven by the control loop.
func (a *App) Manager() *scheduler.Manager { return a.mgr }

// Robot exposes the simulated subsystems.
func (a *App) Robot() *sim.Robot { return a.robot }

func (a *App) Triggers() *trigger.Service { return a.triggers }

func (a *App) Bus() eventbus.Bus { return a.bus }

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
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapJournal(cfg); err != nil && !isDisabled(err) {
			return err
		}
		return a.triggers.Validate(mapTriggers(cfg))
	})

	if a.rec != nil {
		a.jsup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(a.log))
		a.jsup.Go("journal.recorder", func(c context.Context) error {
			return a.rec.Run(c, a.bus)
		})
	}

	// Keep this debug-level; loop overruns can be frequent.
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

	a.sup.Go("control.loop", a.loop.Run)
	a.triggers.Start()

	// Baseline is taken with the subscription so a reload committed before
	// the goroutine runs is still diffed against the startup config.
	sub := a.cfgm.Subscribe(8)
	last := a.cfgm.Get()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.debug.Start(a.sup.Context())

	if ok, err := a.notify(daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify READY sent")
	}
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig fans a reloaded config out to the live components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	ch := config.SummarizeChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if ch.Has("loop") {
		a.loop.Update(mapLoop(newCfg))
	}
	if ch.Has("triggers") {
		if err := a.triggers.Apply(mapTriggers(newCfg)); err != nil {
			a.log.Warn("some triggers were rejected", logx.Err(err))
		}
	}
	if ch.Has("debug") {
		a.debug.Reconfigure(a.sup.Context(), mapDebug(newCfg))
	}
	if ch.RestartRequired {
		a.log.Warn("journal config changed; restart required for changes to take effect")
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify STOPPING failed", logx.Err(err))
	}

	// Stop firing triggers before the loop goes away so nothing lands in
	// the deferred queue after the final tick.
	step := a.stepper(ctx)
	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// The loop is stopped; end whatever is still running so subsystems
	// get their End(true).
	step("commands", time.Second, func(context.Context) error { a.mgr.CancelAll(); return nil })

	step("journal.recorder", time.Second, func(c context.Context) error {
		if a.jsup != nil {
			return a.jsup.Stop(c)
		}
		return nil
	})
	if a.rec != nil {
		written, failed := a.rec.Counts()
		a.log.Info("journal session closed",
			logx.String("session", a.rec.Session()),
			logx.Uint64("written", written),
			logx.Uint64("failed", failed))
	}
	step("journal", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("ticks", a.loop.Stats().Ticks))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// stepper runs shutdown steps with an upper bound so one component can't
// stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, max time.Duration, fn func(context.Context) error) {
	return func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
}
