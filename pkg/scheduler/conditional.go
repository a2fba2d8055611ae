package scheduler

import (
	"runtime/debug"
	"sync"

	"robocmd/pkg/command"
	"robocmd/pkg/condition"
	logx "robocmd/pkg/logx"
)

// Factory builds a fresh command each time its condition starts one.
type Factory func() command.Command

type binding struct {
	cond    condition.Condition
	factory Factory
}

// ConditionalScheduler binds conditions to command factories. Register it
// with Manager.AddCondScheduler; it is polled once per tick after the
// subsystem pass.
type ConditionalScheduler struct {
	mu       sync.Mutex
	bindings []binding
	active   map[int]ID
}

func NewConditionalScheduler() *ConditionalScheduler {
	return &ConditionalScheduler{active: map[int]ID{}}
}

// AddCond binds cond to factory and returns the binding index. Nil
// arguments are rejected with -1.
func (cs *ConditionalScheduler) AddCond(cond condition.Condition, factory Factory) int {
	if cond == nil || factory == nil {
		return -1
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.bindings = append(cs.bindings, binding{cond: cond, factory: factory})
	return len(cs.bindings) - 1
}

// Active returns the command most recently started for binding i.
func (cs *ConditionalScheduler) Active(i int) (ID, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	id, ok := cs.active[i]
	return id, ok
}

func (cs *ConditionalScheduler) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.bindings)
}

func (cs *ConditionalScheduler) poll(m *Manager) {
	cs.mu.Lock()
	bindings := cs.bindings
	cs.mu.Unlock()

	for i, b := range bindings {
		resp, ok := pollSafe(m.log, b.cond)
		if !ok {
			continue
		}
		switch resp {
		case condition.Start:
			cs.start(m, i, b.factory)
		case condition.Continue:
			id, recorded := cs.Active(i)
			if !recorded || !m.aliveLocked(id) {
				cs.start(m, i, b.factory)
			}
		case condition.Stop:
			if id, recorded := cs.Active(i); recorded {
				m.interruptLocked(id)
				cs.mu.Lock()
				delete(cs.active, i)
				cs.mu.Unlock()
			}
		}
	}
}

func (cs *ConditionalScheduler) start(m *Manager, i int, factory Factory) {
	cmd, ok := buildSafe(m.log, factory)
	if !ok || cmd == nil {
		return
	}
	id := m.startLocked(cmd)
	cs.mu.Lock()
	cs.active[i] = id
	cs.mu.Unlock()
}

func pollSafe(log logx.Logger, c condition.Condition) (resp condition.Response, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("condition panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			ok = false
		}
	}()
	return c.Poll(), true
}

func buildSafe(log logx.Logger, f Factory) (cmd command.Command, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("command factory panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			ok = false
		}
	}()
	return f(), true
}
