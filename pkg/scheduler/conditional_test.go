package scheduler

import (
	"testing"

	"robocmd/pkg/command"
	"robocmd/pkg/condition"
)

func TestOnTrueFiresOncePerRisingEdge(t *testing.T) {
	t.Parallel()
	m := New()
	mustRegister(t, m, 1, nil)
	starts := 0
	source := false
	cs := NewConditionalScheduler()
	cs.AddCond(condition.OnTrue(func() bool { return source }), func() command.Command {
		return command.StartOnly(func() { starts++ })
	})
	m.AddCondScheduler(cs)

	for _, v := range []bool{false, true, true, true, false, false, true, true} {
		source = v
		m.Run()
	}
	if starts != 2 {
		t.Fatalf("starts = %d, want 2", starts)
	}
}

func TestContinueRestartsFinishedCommand(t *testing.T) {
	t.Parallel()
	m := New()
	runs := 0
	cs := NewConditionalScheduler()
	cs.AddCond(condition.Func(func() condition.Response { return condition.Continue }), func() command.Command {
		return command.NewBuilder().
			OnInit(func() { runs++ }).
			Until(func() bool { return true }).
			Build()
	})
	m.AddCondScheduler(cs)

	m.Run() // started, finishes
	m.Run() // record is stale, restarts
	m.Run()
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
}

func TestContinueKeepsLiveCommand(t *testing.T) {
	t.Parallel()
	m := New()
	builds := 0
	cs := NewConditionalScheduler()
	idx := cs.AddCond(condition.Func(func() condition.Response { return condition.Continue }), func() command.Command {
		builds++
		return command.Empty()
	})
	m.AddCondScheduler(cs)
	for i := 0; i < 4; i++ {
		m.Run()
	}
	if builds != 1 {
		t.Fatalf("builds = %d, want 1", builds)
	}
	id, ok := cs.Active(idx)
	if !ok || !m.IsScheduled(id) {
		t.Fatalf("Active(%d) = %d,%v; scheduled=%v", idx, id, ok, m.IsScheduled(id))
	}
}

func TestStopWithoutRecordIsNoop(t *testing.T) {
	t.Parallel()
	m := New()
	cs := NewConditionalScheduler()
	idx := cs.AddCond(condition.Func(func() condition.Response { return condition.Stop }), func() command.Command {
		t.Fatalf("factory called on Stop")
		return nil
	})
	m.AddCondScheduler(cs)
	m.Run()
	if _, ok := cs.Active(idx); ok {
		t.Fatalf("Active recorded after Stop")
	}
}

func TestNilFactoryResultIsSkipped(t *testing.T) {
	t.Parallel()
	m := New()
	cs := NewConditionalScheduler()
	idx := cs.AddCond(condition.Always(), func() command.Command { return nil })
	m.AddCondScheduler(cs)
	m.Run()
	if _, ok := cs.Active(idx); ok {
		t.Fatalf("Active recorded for nil command")
	}
	if got := len(m.Snapshot().Commands); got != 0 {
		t.Fatalf("live commands = %d, want 0", got)
	}
}

func TestPanickingConditionIsSkipped(t *testing.T) {
	t.Parallel()
	m := New()
	started := false
	cs := NewConditionalScheduler()
	cs.AddCond(condition.Func(func() condition.Response { panic("sensor gone") }), func() command.Command {
		return command.Empty()
	})
	cs.AddCond(condition.Always(), func() command.Command {
		return command.StartOnly(func() { started = true })
	})
	m.AddCondScheduler(cs)
	m.Run()
	if !started {
		t.Fatalf("second binding did not start after first panicked")
	}
}

func TestAddCondRejectsNil(t *testing.T) {
	t.Parallel()
	cs := NewConditionalScheduler()
	if got := cs.AddCond(nil, func() command.Command { return nil }); got != -1 {
		t.Fatalf("AddCond(nil cond) = %d, want -1", got)
	}
	if got := cs.AddCond(condition.Always(), nil); got != -1 {
		t.Fatalf("AddCond(nil factory) = %d, want -1", got)
	}
	if cs.Len() != 0 {
		t.Fatalf("Len = %d, want 0", cs.Len())
	}
}

func TestClearCondSchedulers(t *testing.T) {
	t.Parallel()
	m := New()
	starts := 0
	cs := NewConditionalScheduler()
	cs.AddCond(condition.Always(), func() command.Command {
		return command.StartOnly(func() { starts++ })
	})
	m.AddCondScheduler(cs)
	m.ClearCondSchedulers()
	m.Run()
	if starts != 0 {
		t.Fatalf("starts = %d after clear, want 0", starts)
	}
}
