package condition

// Edge is the stateful detector behind OnTrue, OnFalse, WhileTrue and
// WhileFalse.
type Edge struct {
	source func() bool
	hold   bool
	last   bool
}

// OnTrue starts once per false->true transition of source.
func OnTrue(source func() bool) *Edge {
	return &Edge{source: source}
}

// OnFalse starts once per true->false transition of source.
func OnFalse(source func() bool) *Edge {
	return &Edge{source: negate(source)}
}

// WhileTrue starts on false->true, keeps the command alive while source
// holds, and stops it on true->false.
func WhileTrue(source func() bool) *Edge {
	return &Edge{source: source, hold: true}
}

// WhileFalse is WhileTrue over the negated source.
func WhileFalse(source func() bool) *Edge {
	return &Edge{source: negate(source), hold: true}
}

func (e *Edge) Poll() Response {
	state := false
	if e.source != nil {
		state = e.source()
	}
	last := e.last
	e.last = state

	switch {
	case state && !last:
		return Start
	case state && e.hold:
		return Continue
	case !state && last && e.hold:
		return Stop
	default:
		return NoChange
	}
}

// Last returns the state observed by the previous poll.
func (e *Edge) Last() bool { return e.last }

func negate(source func() bool) func() bool {
	if source == nil {
		return func() bool { return true }
	}
	return func() bool { return !source() }
}
