package scheduler

import (
	"errors"
	"fmt"
	"time"

	"robocmd/pkg/command"
	logx "robocmd/pkg/logx"
)

// SUID re-exports command.SUID for callers that only import the scheduler.
type SUID = command.SUID

// ID identifies one scheduled command. IDs are never reused, so a stale ID
// can never refer to a different command that happens to occupy the same
// storage slot later.
type ID uint64

var (
	ErrDuplicateSubsystem = errors.New("subsystem already registered")
	ErrSUIDExhausted      = errors.New("no free subsystem ids left")
)

// Slot locates a command in manager storage: either the permanent default
// slot of a subsystem or a recyclable transient slot.
type Slot struct {
	Default bool
	Index   int
}

func (s Slot) String() string {
	if s.Default {
		return fmt.Sprintf("DefaultCommand(%d)", s.Index)
	}
	return fmt.Sprintf("Command(%d)", s.Index)
}

// EventKind names a lifecycle transition reported to an Observer.
type EventKind string

const (
	EventScheduled   EventKind = "scheduled"
	EventInitialized EventKind = "initialized"
	EventFinished    EventKind = "finished"
	EventInterrupted EventKind = "interrupted"
	EventDisplaced   EventKind = "displaced"
	EventPanic       EventKind = "panic"
	EventCancelAll   EventKind = "cancel_all"
)

// Event describes one lifecycle transition.
type Event struct {
	Kind         EventKind
	Time         time.Time
	Tick         uint64
	ID           ID
	Slot         Slot
	Name         string
	Requirements []SUID
	Detail       string
}

// Observer receives lifecycle events. It is called with the manager lock
// held and must not block or call back into the manager.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Option configures a Manager.
type Option func(m *Manager)

func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
