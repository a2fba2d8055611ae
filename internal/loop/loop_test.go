package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"robocmd/internal/eventbus"
	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunTicksSchedulerUntilCancel(t *testing.T) {
	m := scheduler.New()
	var runs atomic.Int32
	if err := m.RegisterSubsystem(0, func() { runs.Add(1) }, nil); err != nil {
		t.Fatalf("RegisterSubsystem error = %v", err)
	}
	l := New(m, Config{Period: time.Millisecond}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("loop did not tick")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if got := l.Stats().Ticks; got < 5 {
		t.Fatalf("Ticks = %d, want >= 5", got)
	}
}

func TestStepRecordsOverrun(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	slow := TickerFunc(func() { time.Sleep(3 * time.Millisecond) })
	l := New(slow, Config{Period: time.Millisecond}, logx.Nop(), WithBus(bus))
	l.Step()

	st := l.Stats()
	if st.Ticks != 1 || st.Overruns != 1 {
		t.Fatalf("Stats = %+v, want 1 tick 1 overrun", st)
	}
	if st.Max < 3*time.Millisecond {
		t.Fatalf("Max = %v, want >= 3ms", st.Max)
	}
	e := <-ch
	ov, ok := e.Data.(Overrun)
	if e.Type != eventbus.TopicLoopOverrun || !ok || ov.Period != time.Millisecond {
		t.Fatalf("event = %+v, want loop.overrun with 1ms period", e)
	}
}

func TestStepWithinPeriodIsNotOverrun(t *testing.T) {
	t.Parallel()
	l := New(TickerFunc(func() {}), Config{Period: time.Hour}, logx.Nop())
	l.Step()
	if st := l.Stats(); st.Overruns != 0 {
		t.Fatalf("Overruns = %d, want 0", st.Overruns)
	}
}

func TestWatchdogPingsAreThrottled(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		states []string
	)
	notify := func(state string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, state)
		return true, nil
	}
	l := New(TickerFunc(func() {}), Config{Period: time.Hour, Watchdog: true}, logx.Nop(), WithNotifier(notify))
	for i := 0; i < 5; i++ {
		l.Step()
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 1 || states[0] != "WATCHDOG=1" {
		t.Fatalf("notify states = %v, want one WATCHDOG=1", states)
	}
}

func TestUpdateChangesPeriodLive(t *testing.T) {
	var runs atomic.Int32
	l := New(TickerFunc(func() { runs.Add(1) }), Config{Period: time.Hour}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	l.Update(Config{Period: time.Millisecond})
	if got := l.Stats().Period; got != time.Millisecond {
		t.Fatalf("Period = %v, want 1ms", got)
	}
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("period change did not reach the running loop")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
