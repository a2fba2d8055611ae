package app

import (
	"robocmd/internal/eventbus"
	"robocmd/internal/loop"
	"robocmd/internal/runtime/supervisor"
	"robocmd/internal/trigger"
	"robocmd/pkg/scheduler"
)

// Status is the runtime snapshot served on the debug endpoint.
type Status struct {
	Scheduler scheduler.Snapshot     `json:"scheduler"`
	Loop      loop.Stats             `json:"loop"`
	Triggers  []trigger.Status       `json:"triggers"`
	Tasks     []supervisor.TaskStats `json:"tasks,omitempty"`
	Bus       eventbus.Stats         `json:"bus"`
	Journal   *JournalStatus         `json:"journal,omitempty"`
}

type JournalStatus struct {
	Session string `json:"session"`
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler: a.mgr.Snapshot(),
		Loop:      a.loop.Stats(),
		Triggers:  a.triggers.Status(),
		Bus:       a.bus.Stats(),
	}
	if a.sup != nil {
		st.Tasks = a.sup.Snapshot()
	}
	if a.rec != nil {
		w, f := a.rec.Counts()
		st.Journal = &JournalStatus{Session: a.rec.Session(), Written: w, Failed: f}
	}
	return st
}
