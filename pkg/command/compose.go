package command

import "time"

// AlongWith runs c and other in parallel until both finish.
func AlongWith(c, other Command) *Parallel {
	return newParallel(false, compact(c, []Command{other}))
}

// AlongWithMany runs c and all others in parallel until every one finishes.
func AlongWithMany(c Command, others ...Command) *Parallel {
	return newParallel(false, compact(c, others))
}

// RaceWith runs c and other in parallel until either finishes.
func RaceWith(c, other Command) *Parallel {
	return newParallel(true, compact(c, []Command{other}))
}

// RaceWithMany runs c and all others in parallel until any finishes.
func RaceWithMany(c Command, others ...Command) *Parallel {
	return newParallel(true, compact(c, others))
}

// Before runs c, then other.
func Before(c, other Command) *Sequential {
	return newSequential(compact(c, []Command{other}))
}

// After runs other, then c.
func After(c, other Command) *Sequential {
	return newSequential(compact(other, []Command{c}))
}

// AndThenMany runs c followed by each of others in order.
func AndThenMany(c Command, others ...Command) *Sequential {
	return newSequential(compact(c, others))
}

// WithName gives c a diagnostic name.
func WithName(c Command, name string) *Named {
	return &Named{name: name, command: Custom(c)}
}

// WaitFor returns a command that finishes after d.
func WaitFor(d time.Duration) *Wait {
	if d < 0 {
		d = 0
	}
	return &Wait{duration: d}
}
