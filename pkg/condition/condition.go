// Package condition turns boolean signals into scheduling responses.
//
// A Condition is polled once per tick by a scheduler.ConditionalScheduler and
// keeps whatever edge memory it needs between polls.
package condition

// Response tells the conditional scheduler what to do with the command bound
// to a condition.
type Response int

const (
	// NoChange leaves the bound command alone.
	NoChange Response = iota
	// Start builds and schedules a fresh command.
	Start
	// Continue keeps the bound command running, restarting it if it already
	// finished on its own.
	Continue
	// Stop interrupts the bound command.
	Stop
)

func (r Response) String() string {
	switch r {
	case Start:
		return "start"
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	default:
		return "no_change"
	}
}

// Condition yields one Response per poll.
type Condition interface {
	Poll() Response
}

// Func adapts a plain function to Condition.
type Func func() Response

func (f Func) Poll() Response { return f() }

// Always returns Start on every poll.
func Always() Condition { return Func(func() Response { return Start }) }
