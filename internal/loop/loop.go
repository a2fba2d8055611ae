// Package loop drives the command scheduler at a fixed period.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"robocmd/internal/eventbus"
	logx "robocmd/pkg/logx"
)

// Ticker is the tick entry point of the scheduler.
type Ticker interface {
	Run()
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func()

func (f TickerFunc) Run() { f() }

// Overrun is published on loop.overrun when a tick takes longer than the
// period.
type Overrun struct {
	Tick    uint64
	Took    time.Duration
	Period  time.Duration
	Overrun uint64
}

// Stats describes loop timing since Start.
type Stats struct {
	Ticks    uint64
	Overruns uint64
	Last     time.Duration
	Max      time.Duration
	Period   time.Duration
}

type Config struct {
	Period            time.Duration
	OverrunWarnPerSec int
	Watchdog          bool
}

type Option func(*Loop)

func WithBus(b eventbus.Bus) Option {
	return func(l *Loop) { l.bus = b }
}

// WithNotifier replaces the systemd notifier (daemon.SdNotify).
func WithNotifier(fn func(state string) (bool, error)) Option {
	return func(l *Loop) { l.notify = fn }
}

// Loop calls Ticker.Run once per period on a single goroutine.
type Loop struct {
	ticker Ticker
	log    logx.Logger
	bus    eventbus.Bus
	notify func(state string) (bool, error)

	periodCh chan time.Duration

	mu       sync.Mutex
	cfg      Config
	warn     *rate.Limiter
	stats     Stats
	lastPing  time.Time
	pingEvery time.Duration

	running atomic.Bool
}

func New(t Ticker, cfg Config, log logx.Logger, opts ...Option) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		ticker:   t,
		log:      log.With(logx.String("comp", "loop")),
		periodCh: make(chan time.Duration, 1),
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
	for _, o := range opts {
		o(l)
	}
	l.apply(cfg)
	return l
}

func (l *Loop) apply(cfg Config) {
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	if cfg.OverrunWarnPerSec <= 0 {
		cfg.OverrunWarnPerSec = 1
	}
	// Ping at half the systemd watchdog interval when one is configured.
	pingEvery := time.Second
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		pingEvery = d / 2
	}
	l.mu.Lock()
	l.cfg = cfg
	l.pingEvery = pingEvery
	l.stats.Period = cfg.Period
	l.warn = rate.NewLimiter(rate.Limit(cfg.OverrunWarnPerSec), 1)
	l.mu.Unlock()
}

// Update applies new settings. A period change takes effect on the running
// loop from its next tick.
func (l *Loop) Update(cfg Config) {
	l.mu.Lock()
	old := l.cfg.Period
	l.mu.Unlock()
	l.apply(cfg)

	l.mu.Lock()
	period := l.cfg.Period
	l.mu.Unlock()
	if period == old {
		return
	}
	select {
	case <-l.periodCh:
	default:
	}
	l.periodCh <- period
	l.log.Info("loop period changed", logx.Duration("from", old), logx.Duration("to", period))
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Run ticks until ctx is done. It returns ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		panic("loop: Run called twice")
	}
	defer l.running.Store(false)

	l.mu.Lock()
	period := l.cfg.Period
	l.mu.Unlock()
	t := time.NewTicker(period)
	defer t.Stop()
	l.log.Info("control loop started", logx.Duration("period", period))

	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped", logx.Uint64("ticks", l.Stats().Ticks))
			return ctx.Err()
		case p := <-l.periodCh:
			t.Reset(p)
		case <-t.C:
			l.Step()
		}
	}
}

// Step runs exactly one tick and records its timing.
func (l *Loop) Step() {
	start := time.Now()
	l.ticker.Run()
	took := time.Since(start)

	l.mu.Lock()
	l.stats.Ticks++
	l.stats.Last = took
	l.stats.Max = max(l.stats.Max, took)
	period := l.cfg.Period
	var ev *Overrun
	if took > period {
		l.stats.Overruns++
		ev = &Overrun{Tick: l.stats.Ticks, Took: took, Period: period, Overrun: l.stats.Overruns}
	}
	warn := ev != nil && l.warn.Allow()
	ping := l.cfg.Watchdog && start.Sub(l.lastPing) >= l.pingEvery
	if ping {
		l.lastPing = start
	}
	l.mu.Unlock()

	if ev != nil {
		if l.bus != nil {
			l.bus.Publish(eventbus.Event{Type: eventbus.TopicLoopOverrun, Data: *ev})
		}
		if warn {
			l.log.Warn("loop overrun",
				logx.Uint64("tick", ev.Tick),
				logx.Duration("took", took),
				logx.Duration("period", period),
				logx.Uint64("overruns", ev.Overrun))
		}
	}
	if ping {
		if _, err := l.notify(daemon.SdNotifyWatchdog); err != nil {
			l.log.Debug("watchdog notify failed", logx.Err(err))
		}
	}
}
