package scheduler

import (
	"fmt"
	"runtime/debug"
	"slices"

	"robocmd/pkg/command"
	logx "robocmd/pkg/logx"
)

// Run performs one scheduler tick: the subsystem pass, the conditional
// scheduler pass and the command pass, in that order. Requests made from
// inside the tick are applied before Run returns.
func (m *Manager) Run() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	m.tick++
	// Requests that raced the end of the previous tick.
	m.drainLocked()

	m.subsystemPassLocked()
	m.conditionPassLocked()
	m.commandPassLocked()

	m.drainLocked()
}

func (m *Manager) subsystemPassLocked() {
	for _, ss := range m.subsystems {
		if ss.periodic != nil {
			m.guardCallback(ss.suid, ss.periodic)
		}
		if _, owned := m.owners[ss.suid]; !owned {
			m.owners[ss.suid] = Slot{Default: true, Index: ss.def}
		}
	}
}

func (m *Manager) conditionPassLocked() {
	for _, cs := range m.conds {
		cs.poll(m)
	}
}

func (m *Manager) commandPassLocked() {
	displaced := m.displaced
	m.displaced = nil
	for _, ref := range displaced {
		s := m.at(ref)
		if s == nil || !s.interrupted {
			continue
		}
		m.endLocked(ref, s, true)
	}

	for _, ref := range m.visitOrderLocked() {
		s := m.at(ref)
		if s == nil {
			continue
		}
		m.advanceLocked(ref, s)
	}
}

// visitOrderLocked lists owning slots once each: owners in registration
// order, owners of unregistered SUIDs by ascending SUID, then orphans.
func (m *Manager) visitOrderLocked() []Slot {
	seen := make(map[Slot]struct{}, len(m.owners))
	out := make([]Slot, 0, len(m.owners))
	add := func(ref Slot) {
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	for _, ss := range m.subsystems {
		if ref, ok := m.owners[ss.suid]; ok {
			add(ref)
		}
	}
	var stray []SUID
	for suid := range m.owners {
		if _, ok := m.bySUID[suid]; !ok {
			stray = append(stray, suid)
		}
	}
	slices.Sort(stray)
	for _, suid := range stray {
		add(m.owners[suid])
	}
	for i, s := range m.slots {
		if s != nil && s.orphan {
			add(Slot{Index: i})
		}
	}
	return out
}

func (m *Manager) advanceLocked(ref Slot, s *slot) {
	if s.interrupted {
		m.endLocked(ref, s, true)
		return
	}
	if !s.initialized {
		if !m.guard(ref, s, "init", s.cmd.Init) {
			return
		}
		s.initialized = true
		m.emit(EventInitialized, ref, s, "")
	}
	if !m.guard(ref, s, "periodic", s.cmd.Periodic) {
		return
	}
	var done bool
	if !m.guard(ref, s, "is_finished", func() { done = s.cmd.IsFinished() }) {
		return
	}
	if done {
		m.endLocked(ref, s, false)
	}
}

// endLocked calls End at most once per ownership period and releases the slot.
func (m *Manager) endLocked(ref Slot, s *slot, interrupted bool) {
	if s.initialized {
		m.safeEnd(ref, s, interrupted)
	}
	kind := EventFinished
	if interrupted {
		kind = EventInterrupted
	}
	m.emit(kind, ref, s, "")
	m.releaseLocked(ref, s)
}

// releaseLocked resets a default slot for re-initialization, or frees a
// transient slot and drops every ownership entry still pointing at it.
func (m *Manager) releaseLocked(ref Slot, s *slot) {
	s.initialized = false
	s.interrupted = false
	if ref.Default {
		return
	}
	m.slots[ref.Index] = nil
	delete(m.byID, s.id)
	m.dropLive(s.id)
	for _, suid := range s.reqs {
		if m.owners[suid] == ref {
			delete(m.owners, suid)
		}
	}
}

func (m *Manager) scheduleLocked(cmd command.Command, id ID) {
	reqs := command.Union(cmd)
	s := &slot{cmd: cmd, id: id, reqs: reqs, orphan: len(reqs) == 0}
	ref := Slot{Index: m.allocLocked(s)}
	m.byID[id] = ref.Index
	m.emit(EventScheduled, ref, s, "")

	for _, suid := range reqs {
		if _, ok := m.bySUID[suid]; !ok {
			m.log.Warn("command requires unregistered subsystem",
				logx.String("command", cmd.Name()), logx.Int("suid", int(suid)))
		}
		if prev, ok := m.owners[suid]; ok && prev != ref {
			m.displaceLocked(prev, cmd.Name())
		}
		m.owners[suid] = ref
	}
}

// displaceLocked flags ref for interruption and queues it for the next
// command pass. A slot already cancelled is queued too, since once it loses
// ownership nothing else visits it.
func (m *Manager) displaceLocked(ref Slot, by string) {
	s := m.at(ref)
	if s == nil {
		return
	}
	if !slices.Contains(m.displaced, ref) {
		m.displaced = append(m.displaced, ref)
	}
	if s.interrupted {
		return
	}
	s.interrupted = true
	m.emit(EventDisplaced, ref, s, by)
}

// allocLocked stores s in the first free transient slot, growing storage
// only when every slot is taken.
func (m *Manager) allocLocked(s *slot) int {
	for i, cur := range m.slots {
		if cur == nil {
			m.slots[i] = s
			return i
		}
	}
	m.slots = append(m.slots, s)
	return len(m.slots) - 1
}

// startLocked schedules on behalf of a conditional scheduler.
func (m *Manager) startLocked(cmd command.Command) ID {
	id := m.newID()
	m.markLive(id)
	m.scheduleLocked(cmd, id)
	return id
}

func (m *Manager) interruptLocked(id ID) bool {
	idx, ok := m.byID[id]
	if !ok {
		return false
	}
	m.slots[idx].interrupted = true
	return true
}

func (m *Manager) aliveLocked(id ID) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *Manager) cancelAllLocked() {
	ended := 0
	for i, s := range m.slots {
		if s == nil {
			continue
		}
		// Transient commands are ended even before their first init.
		ref := Slot{Index: i}
		m.safeEnd(ref, s, true)
		ended++
		m.emit(EventInterrupted, ref, s, "cancel_all")
		m.dropLive(s.id)
	}
	for i, s := range m.defaults {
		if s.initialized {
			m.safeEnd(Slot{Default: true, Index: i}, s, true)
			ended++
		}
		s.initialized = false
		s.interrupted = false
	}
	m.slots = m.slots[:0]
	clear(m.owners)
	clear(m.byID)
	m.displaced = nil

	if m.observer != nil {
		m.observer.OnEvent(Event{Kind: EventCancelAll, Time: m.now(), Tick: m.tick})
	}
	m.log.Info("all commands cancelled", logx.Int("ended", ended))
}

func (m *Manager) at(ref Slot) *slot {
	if ref.Default {
		if ref.Index < 0 || ref.Index >= len(m.defaults) {
			return nil
		}
		return m.defaults[ref.Index]
	}
	if ref.Index < 0 || ref.Index >= len(m.slots) {
		return nil
	}
	return m.slots[ref.Index]
}

// guard runs one lifecycle call of the command in ref. A panic is logged,
// an initialized command is ended as interrupted, and the slot is released;
// guard then reports false.
func (m *Manager) guard(ref Slot, s *slot, phase string, fn func()) (ok bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ok = false
		m.log.Error("command panicked",
			logx.String("command", s.cmd.Name()),
			logx.String("slot", ref.String()),
			logx.String("phase", phase),
			logx.Any("panic", r),
			logx.Stack(string(debug.Stack())))
		m.emit(EventPanic, ref, s, fmt.Sprintf("%s: %v", phase, r))
		if s.initialized {
			m.safeEnd(ref, s, true)
		}
		m.emit(EventInterrupted, ref, s, "panic")
		m.releaseLocked(ref, s)
	}()
	fn()
	return true
}

func (m *Manager) safeEnd(ref Slot, s *slot, interrupted bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("command end panicked",
				logx.String("command", s.cmd.Name()),
				logx.String("slot", ref.String()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	s.cmd.End(interrupted)
}

func (m *Manager) guardCallback(suid SUID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subsystem periodic panicked",
				logx.Int("suid", int(suid)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}
