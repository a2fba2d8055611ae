package command

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// spy records lifecycle calls and finishes after a fixed number of ticks
// (0 means never).
type spy struct {
	Base
	name       string
	reqs       []SUID
	finishAt   int
	inits      int
	ticks      int
	ends       int
	lastInterr bool
}

func (p *spy) Init()     { p.inits++ }
func (p *spy) Periodic() { p.ticks++ }
func (p *spy) End(interrupted bool) {
	p.ends++
	p.lastInterr = interrupted
}
func (p *spy) IsFinished() bool     { return p.finishAt > 0 && p.ticks >= p.finishAt }
func (p *spy) Requirements() []SUID { return p.reqs }
func (p *spy) Name() string         { return p.name }

// drive runs c the way the scheduler would until it finishes or max ticks pass.
func drive(c Command, max int) (ticks int, finished bool) {
	c.Init()
	for ticks < max {
		c.Periodic()
		ticks++
		if c.IsFinished() {
			c.End(false)
			return ticks, true
		}
	}
	return ticks, false
}

func TestSimpleBuilderDelegates(t *testing.T) {
	t.Parallel()
	var calls []string
	done := false
	c := NewBuilder().
		OnInit(func() { calls = append(calls, "init") }).
		OnPeriodic(func() { calls = append(calls, "periodic") }).
		OnEnd(func(interrupted bool) {
			if interrupted {
				calls = append(calls, "end:interrupted")
				return
			}
			calls = append(calls, "end")
		}).
		Until(func() bool { return done }).
		Requires(3, 1, 3).
		Build()

	c.Init()
	c.Periodic()
	if c.IsFinished() {
		t.Fatal("IsFinished = true before predicate flipped")
	}
	done = true
	if !c.IsFinished() {
		t.Fatal("IsFinished = false after predicate flipped")
	}
	c.End(false)

	want := []string{"init", "periodic", "end"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]SUID{1, 3}, c.Requirements()); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
	if c.Name() != DefaultName {
		t.Fatalf("Name = %q, want %q", c.Name(), DefaultName)
	}
}

func TestSimpleMissingClosuresAreNoops(t *testing.T) {
	t.Parallel()
	c := Empty()
	c.Init()
	c.Periodic()
	c.End(true)
	if c.IsFinished() {
		t.Fatal("empty command should never finish")
	}
	if len(c.Requirements()) != 0 {
		t.Fatalf("Requirements = %v, want none", c.Requirements())
	}
}

func TestShorthandConstructors(t *testing.T) {
	t.Parallel()
	n := 0
	inc := func() { n++ }
	never := func() bool { return false }
	always := func() bool { return true }
	end := func(bool) { n += 100 }

	tests := []struct {
		name     string
		cmd      *Simple
		wantN    int
		finished bool
	}{
		{name: "start only", cmd: StartOnly(inc, 1), wantN: 1},
		{name: "run only", cmd: RunOnly(inc, 1), wantN: 1},
		{name: "end only", cmd: EndOnly(end), wantN: 100},
		{name: "run start", cmd: RunStart(inc, inc), wantN: 2},
		{name: "run end", cmd: RunEnd(inc, end), wantN: 101},
		{name: "start end", cmd: StartEnd(inc, end), wantN: 101},
		{name: "run start end", cmd: RunStartEnd(inc, inc, end), wantN: 102},
		{name: "run until", cmd: RunUntil(always, inc), wantN: 1, finished: true},
		{name: "run end until", cmd: RunEndUntil(never, inc, end), wantN: 101},
		{name: "start run until", cmd: StartRunUntil(inc, always), wantN: 1, finished: true},
		{name: "all", cmd: All(inc, inc, end, always), wantN: 102, finished: true},
	}
	for _, tt := range tests {
		n = 0
		tt.cmd.Init()
		tt.cmd.Periodic()
		tt.cmd.End(false)
		if n != tt.wantN {
			t.Fatalf("%s: counter = %d, want %d", tt.name, n, tt.wantN)
		}
		if got := tt.cmd.IsFinished(); got != tt.finished {
			t.Fatalf("%s: IsFinished = %v, want %v", tt.name, got, tt.finished)
		}
	}
}

func TestAlongWithWaitsForAll(t *testing.T) {
	t.Parallel()
	a := &spy{name: "a", reqs: []SUID{1}, finishAt: 1}
	b := &spy{name: "b", reqs: []SUID{2}, finishAt: 3}
	p := AlongWith(a, b)

	ticks, finished := drive(p, 10)
	if !finished || ticks != 3 {
		t.Fatalf("drive = (%d, %v), want (3, true)", ticks, finished)
	}
	if a.ticks != 1 {
		t.Fatalf("a.ticks = %d, want 1 (finished children are not advanced)", a.ticks)
	}
	if a.ends != 1 || a.lastInterr {
		t.Fatalf("a ended %d times (interrupted=%v), want once naturally", a.ends, a.lastInterr)
	}
	if b.ends != 1 || b.lastInterr {
		t.Fatalf("b ended %d times (interrupted=%v), want once naturally", b.ends, b.lastInterr)
	}
	if diff := cmp.Diff([]SUID{1, 2}, p.Requirements()); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
	if p.Name() != "a,b" {
		t.Fatalf("Name = %q, want %q", p.Name(), "a,b")
	}
}

func TestRaceWithInterruptsLosers(t *testing.T) {
	t.Parallel()
	fast := &spy{name: "fast", finishAt: 2}
	slow := &spy{name: "slow", finishAt: 10}
	third := &spy{name: "third"}
	p := RaceWithMany(fast, slow, third)
	if !p.Race() {
		t.Fatal("Race = false, want true")
	}

	ticks, finished := drive(p, 10)
	if !finished || ticks != 2 {
		t.Fatalf("drive = (%d, %v), want (2, true)", ticks, finished)
	}
	if fast.ends != 1 || fast.lastInterr {
		t.Fatalf("fast ended %d times (interrupted=%v), want once naturally", fast.ends, fast.lastInterr)
	}
	for _, c := range []*spy{slow, third} {
		if c.ends != 1 || !c.lastInterr {
			t.Fatalf("%s ended %d times (interrupted=%v), want once interrupted", c.name, c.ends, c.lastInterr)
		}
	}
}

func TestParallelInterruptEndsUnfinished(t *testing.T) {
	t.Parallel()
	a := &spy{name: "a", finishAt: 1}
	b := &spy{name: "b"}
	p := AlongWithMany(a, b)
	p.Init()
	p.Periodic()
	p.End(true)
	if a.ends != 1 || a.lastInterr {
		t.Fatalf("a ended %d times (interrupted=%v), want once naturally", a.ends, a.lastInterr)
	}
	if b.ends != 1 || !b.lastInterr {
		t.Fatalf("b ended %d times (interrupted=%v), want once interrupted", b.ends, b.lastInterr)
	}
}

func TestSequentialAdvancesOneAtATime(t *testing.T) {
	t.Parallel()
	a := &spy{name: "a", reqs: []SUID{1}, finishAt: 2}
	b := &spy{name: "b", reqs: []SUID{2}, finishAt: 1}
	s := Before(a, b)

	s.Init()
	if a.inits != 1 || b.inits != 0 {
		t.Fatalf("inits after Init = (%d, %d), want (1, 0)", a.inits, b.inits)
	}
	s.Periodic()
	s.Periodic()
	if a.ends != 1 || b.inits != 1 || s.Current() != 1 {
		t.Fatalf("after a finished: a.ends=%d b.inits=%d current=%d", a.ends, b.inits, s.Current())
	}
	if b.ticks != 0 {
		t.Fatalf("b.ticks = %d, want 0 (next child advances on the following tick)", b.ticks)
	}
	s.Periodic()
	if !s.IsFinished() {
		t.Fatal("IsFinished = false after last child finished")
	}
	if s.Name() != "a->b" {
		t.Fatalf("Name = %q, want %q", s.Name(), "a->b")
	}
	if diff := cmp.Diff([]SUID{1, 2}, s.Requirements()); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
}

func TestSequentialInterruptOnlyActive(t *testing.T) {
	t.Parallel()
	a := &spy{name: "a", finishAt: 1}
	b := &spy{name: "b"}
	c := &spy{name: "c"}
	s := AndThenMany(a, b, c)
	s.Init()
	s.Periodic()
	s.Periodic()
	s.End(true)
	if a.ends != 1 || a.lastInterr {
		t.Fatalf("a ended %d times (interrupted=%v), want once naturally", a.ends, a.lastInterr)
	}
	if b.ends != 1 || !b.lastInterr {
		t.Fatalf("b ended %d times (interrupted=%v), want once interrupted", b.ends, b.lastInterr)
	}
	if c.inits != 0 || c.ends != 0 {
		t.Fatalf("c touched: inits=%d ends=%d, want untouched", c.inits, c.ends)
	}
}

func TestBeforeAfterOrdering(t *testing.T) {
	t.Parallel()
	x := &spy{name: "x"}
	y := &spy{name: "y"}
	if got := Before(x, y).Name(); got != "x->y" {
		t.Fatalf("Before name = %q, want x->y", got)
	}
	if got := After(x, y).Name(); got != "y->x" {
		t.Fatalf("After name = %q, want y->x", got)
	}
}

func TestWithNameIsTransparent(t *testing.T) {
	t.Parallel()
	inner := &spy{name: "inner", reqs: []SUID{4}, finishAt: 1}
	n := WithName(inner, "Intake")
	if n.Name() != "Intake" {
		t.Fatalf("Name = %q, want Intake", n.Name())
	}
	if diff := cmp.Diff([]SUID{4}, n.Requirements()); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
	if _, finished := drive(n, 3); !finished {
		t.Fatal("named command did not finish with its inner command")
	}
	if inner.inits != 1 || inner.ends != 1 {
		t.Fatalf("inner lifecycle = (%d inits, %d ends), want (1, 1)", inner.inits, inner.ends)
	}
	if n.Unwrap() != Command(inner) {
		t.Fatal("Unwrap did not return the inner command")
	}
}

func TestWaitForUsesElapsedTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := base
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = time.Now })

	w := WaitFor(1500 * time.Millisecond)
	if w.IsFinished() {
		t.Fatal("IsFinished = true before Init")
	}
	w.Init()
	cur = base.Add(time.Second)
	if w.IsFinished() {
		t.Fatal("IsFinished = true after 1s, want false")
	}
	cur = base.Add(1500 * time.Millisecond)
	if !w.IsFinished() {
		t.Fatal("IsFinished = false after 1.5s, want true")
	}
	if w.Requirements() != nil {
		t.Fatalf("Requirements = %v, want none", w.Requirements())
	}
	if w.Name() != "TimedCommand(1.5s)" {
		t.Fatalf("Name = %q, want TimedCommand(1.5s)", w.Name())
	}
}

func TestProxyBuildsLazilyOnce(t *testing.T) {
	t.Parallel()
	builds := 0
	inner := &spy{name: "deferred", reqs: []SUID{7}, finishAt: 1}
	p := NewProxy(func() Command {
		builds++
		return inner
	})
	if p.Built() {
		t.Fatal("Built = true before first use")
	}
	if diff := cmp.Diff([]SUID{7}, p.Requirements()); diff != "" {
		t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
	}
	drive(p, 3)
	drive(p, 3)
	if builds != 1 {
		t.Fatalf("factory ran %d times, want 1", builds)
	}
	if p.Name() != "deferred" {
		t.Fatalf("Name = %q, want deferred", p.Name())
	}
}

func TestProxyInsideGroupBuildsOnFirstUse(t *testing.T) {
	t.Parallel()
	for _, tt := range []struct {
		name  string
		group func(Command) Command
	}{
		{"along", func(p Command) Command { return AlongWith(p, Empty()) }},
		{"race", func(p Command) Command { return RaceWith(Empty(), p) }},
		{"before", func(p Command) Command { return Before(p, Empty()) }},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			builds := 0
			p := NewProxy(func() Command {
				builds++
				return &spy{name: "late", reqs: []SUID{4}}
			})
			g := tt.group(p)
			if builds != 0 || p.Built() {
				t.Fatalf("factory ran %d times while composing, want 0", builds)
			}
			if diff := cmp.Diff([]SUID{4}, g.Requirements()); diff != "" {
				t.Fatalf("requirements mismatch (-want +got):\n%s", diff)
			}
			g.Requirements()
			if builds != 1 {
				t.Fatalf("factory ran %d times, want 1", builds)
			}
		})
	}
}

func TestProxyNilFactoryIsEmpty(t *testing.T) {
	t.Parallel()
	p := NewProxy(func() Command { return nil })
	p.Init()
	p.Periodic()
	if p.IsFinished() {
		t.Fatal("nil proxy target should behave like Empty()")
	}
	p.End(true)
}

func TestUnionSkipsNil(t *testing.T) {
	t.Parallel()
	got := Union(&spy{reqs: []SUID{5, 2}}, nil, &spy{reqs: []SUID{2, 9}})
	if diff := cmp.Diff([]SUID{2, 5, 9}, got); diff != "" {
		t.Fatalf("Union mismatch (-want +got):\n%s", diff)
	}
}
