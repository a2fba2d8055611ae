package scheduler

import "slices"

// Snapshot is a point-in-time view of manager state for diagnostics.
type Snapshot struct {
	Tick       uint64
	Subsystems []SubsystemState
	Commands   []CommandState
	Orphans    int
	SlotCap    int
	Pending    int
}

// SubsystemState reports which slot owns a subsystem. Owner is empty when
// the subsystem is unowned until the next subsystem pass.
type SubsystemState struct {
	SUID    SUID
	Owner   string
	OwnerID ID
	Slot    Slot
	Default bool
}

// CommandState describes one live transient command.
type CommandState struct {
	ID           ID
	Slot         Slot
	Name         string
	Requirements []SUID
	Initialized  bool
	Interrupted  bool
	Orphan       bool
}

// Snapshot captures the current state. It calls Name on live commands and
// must not be called from command bodies.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Tick: m.tick, SlotCap: len(m.slots)}
	for _, ss := range m.subsystems {
		st := SubsystemState{SUID: ss.suid}
		if ref, ok := m.owners[ss.suid]; ok {
			if s := m.at(ref); s != nil {
				st.Owner = s.cmd.Name()
				st.OwnerID = s.id
				st.Slot = ref
				st.Default = ref.Default
			}
		}
		snap.Subsystems = append(snap.Subsystems, st)
	}
	for i, s := range m.slots {
		if s == nil {
			continue
		}
		if s.orphan {
			snap.Orphans++
		}
		snap.Commands = append(snap.Commands, CommandState{
			ID:           s.id,
			Slot:         Slot{Index: i},
			Name:         s.cmd.Name(),
			Requirements: slices.Clone(s.reqs),
			Initialized:  s.initialized,
			Interrupted:  s.interrupted,
			Orphan:       s.orphan,
		})
	}

	m.dmu.Lock()
	snap.Pending = len(m.deferred)
	m.dmu.Unlock()
	return snap
}
