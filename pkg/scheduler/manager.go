package scheduler

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"robocmd/pkg/command"
	logx "robocmd/pkg/logx"
)

type subsystem struct {
	suid     SUID
	periodic func()
	def      int // index into Manager.defaults
}

type slot struct {
	cmd         command.Command
	id          ID
	reqs        []SUID
	initialized bool
	interrupted bool
	orphan      bool
}

type opKind int

const (
	opSchedule opKind = iota
	opCancel
	opCancelAll
)

type deferredOp struct {
	kind opKind
	id   ID
	cmd  command.Command
}

// Manager is the command scheduler. The zero value is not usable; call New.
type Manager struct {
	mu sync.Mutex

	log      logx.Logger
	observer Observer
	now      func() time.Time

	subsystems []subsystem
	bySUID     map[SUID]int
	nextSUID   int

	defaults  []*slot
	slots     []*slot // transient; nil entries are free
	owners    map[SUID]Slot
	byID      map[ID]int
	displaced []Slot
	conds     []*ConditionalScheduler
	tick      uint64

	seq  atomic.Uint64
	busy atomic.Bool

	// dmu guards the deferred queue and the live ID set. It is never held
	// while calling user code, so command bodies can always take it.
	dmu      sync.Mutex
	deferred []deferredOp
	live     map[ID]struct{}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		now:    time.Now,
		bySUID: map[SUID]int{},
		owners: map[SUID]Slot{},
		byID:   map[ID]int{},
		live:   map[ID]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

// RegisterSubsystem adds a subsystem under suid with its per-tick callback and
// default command. A nil periodic is allowed; a nil default becomes
// command.Empty(). Must not be called from command bodies.
func (m *Manager) RegisterSubsystem(suid SUID, periodic func(), def command.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(suid, periodic, def)
}

// Register is RegisterSubsystem with a manager-assigned SUID.
func (m *Manager) Register(periodic func(), def command.Command) (SUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.nextSUID <= math.MaxUint8 {
		suid := SUID(m.nextSUID)
		if _, taken := m.bySUID[suid]; taken {
			m.nextSUID++
			continue
		}
		return suid, m.registerLocked(suid, periodic, def)
	}
	return 0, ErrSUIDExhausted
}

func (m *Manager) registerLocked(suid SUID, periodic func(), def command.Command) error {
	if _, dup := m.bySUID[suid]; dup {
		return ErrDuplicateSubsystem
	}
	def = command.Custom(def)
	m.defaults = append(m.defaults, &slot{
		cmd:  def,
		id:   m.newID(),
		reqs: []SUID{suid},
	})
	m.bySUID[suid] = len(m.subsystems)
	m.subsystems = append(m.subsystems, subsystem{
		suid:     suid,
		periodic: periodic,
		def:      len(m.defaults) - 1,
	})
	if int(suid) >= m.nextSUID {
		m.nextSUID = int(suid) + 1
	}
	m.log.Debug("subsystem registered", logx.Int("suid", int(suid)), logx.String("default", def.Name()))
	return nil
}

// Schedule hands cmd to the manager and returns its ID (0 for a nil command).
//
// A command without requirements runs as an orphan every tick. Otherwise it
// takes ownership of every subsystem it requires, last scheduler wins: the
// previous owners are flagged for interruption and ended on the next command
// pass.
func (m *Manager) Schedule(cmd command.Command) ID {
	if cmd == nil {
		m.log.Warn("schedule ignored: nil command")
		return 0
	}
	id := m.newID()
	m.markLive(id)
	if m.busy.Load() {
		m.enqueue(deferredOp{kind: opSchedule, id: id, cmd: cmd})
		return id
	}
	m.direct(func() { m.scheduleLocked(cmd, id) })
	return id
}

// Cancel requests cooperative interruption of id. The command's End(true)
// runs on the next command pass. It reports whether id was live.
func (m *Manager) Cancel(id ID) bool {
	if !m.IsScheduled(id) {
		return false
	}
	if m.busy.Load() {
		m.enqueue(deferredOp{kind: opCancel, id: id})
		return true
	}
	var ok bool
	m.direct(func() { ok = m.interruptLocked(id) })
	return ok
}

// IsScheduled reports whether id is queued or still occupies a slot.
// Safe to call from command bodies.
func (m *Manager) IsScheduled(id ID) bool {
	m.dmu.Lock()
	_, ok := m.live[id]
	m.dmu.Unlock()
	return ok
}

// CancelAll ends every live transient command with interrupted=true, whether
// or not it has been initialized yet, along with every initialized default
// command. It then resets transient storage, ownership and initialization
// state in one step. Subsystems and conditional schedulers stay registered;
// ownership falls back to default commands on the next tick.
func (m *Manager) CancelAll() {
	if m.busy.Load() {
		m.enqueue(deferredOp{kind: opCancelAll})
		return
	}
	m.direct(m.cancelAllLocked)
}

// direct runs fn under the manager lock outside a tick. Requests that raced
// the end of the last tick are applied first so fn sees them in slots, and
// requests fn itself queues are applied before the lock is released.
func (m *Manager) direct(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy.Store(true)
	defer m.busy.Store(false)

	m.drainLocked()
	fn()
	m.drainLocked()
}

// AddCondScheduler registers cs to be polled on every tick.
func (m *Manager) AddCondScheduler(cs *ConditionalScheduler) {
	if cs == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conds = append(m.conds, cs)
}

// ClearCondSchedulers unregisters every conditional scheduler.
func (m *Manager) ClearCondSchedulers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conds = nil
}

func (m *Manager) newID() ID { return ID(m.seq.Add(1)) }

func (m *Manager) markLive(id ID) {
	m.dmu.Lock()
	m.live[id] = struct{}{}
	m.dmu.Unlock()
}

func (m *Manager) dropLive(id ID) {
	m.dmu.Lock()
	delete(m.live, id)
	m.dmu.Unlock()
}

func (m *Manager) enqueue(op deferredOp) {
	m.dmu.Lock()
	m.deferred = append(m.deferred, op)
	m.dmu.Unlock()
}

// drainLocked applies queued requests in arrival order. Requests queued while
// draining (e.g. by an End handler) are applied in the same call.
func (m *Manager) drainLocked() {
	for {
		m.dmu.Lock()
		ops := m.deferred
		m.deferred = nil
		m.dmu.Unlock()
		if len(ops) == 0 {
			return
		}
		for _, op := range ops {
			switch op.kind {
			case opSchedule:
				m.scheduleLocked(op.cmd, op.id)
			case opCancel:
				m.interruptLocked(op.id)
			case opCancelAll:
				m.cancelAllLocked()
			}
		}
	}
}

func (m *Manager) emit(kind EventKind, ref Slot, s *slot, detail string) {
	if m.observer == nil || s == nil {
		return
	}
	m.observer.OnEvent(Event{
		Kind:         kind,
		Time:         m.now(),
		Tick:         m.tick,
		ID:           s.id,
		Slot:         ref,
		Name:         s.cmd.Name(),
		Requirements: s.reqs,
		Detail:       detail,
	})
}
