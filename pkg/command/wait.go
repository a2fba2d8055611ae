package command

import (
	"fmt"
	"time"
)

// now is swapped in tests.
var now = time.Now

// Wait finishes once its duration has elapsed since Init. It requires no
// subsystems.
type Wait struct {
	duration time.Duration
	started  time.Time
}

func (w *Wait) Init()                { w.started = now() }
func (w *Wait) Periodic()            {}
func (w *Wait) End(interrupted bool) {}

// IsFinished is false until Init has run.
func (w *Wait) IsFinished() bool {
	if w.started.IsZero() {
		return false
	}
	return now().Sub(w.started) >= w.duration
}

func (w *Wait) Requirements() []SUID { return nil }

func (w *Wait) Name() string { return fmt.Sprintf("TimedCommand(%s)", w.duration) }

func (w *Wait) Duration() time.Duration { return w.duration }
