package command

// Sequential runs its children one after another. A child is initialized the
// tick its predecessor finishes and advanced from the following tick on.
type Sequential struct {
	commands     []Command
	current      int
	requirements []SUID
	resolved     bool
}

func newSequential(cmds []Command) *Sequential {
	return &Sequential{commands: cmds}
}

func (s *Sequential) Init() {
	s.current = 0
	if len(s.commands) > 0 {
		s.commands[0].Init()
	}
}

func (s *Sequential) Periodic() {
	if s.current >= len(s.commands) {
		return
	}
	c := s.commands[s.current]
	c.Periodic()
	if !c.IsFinished() {
		return
	}
	c.End(false)
	s.current++
	if s.current < len(s.commands) {
		s.commands[s.current].Init()
	}
}

// End only reaches the active child; finished children were already ended
// and later children were never started.
func (s *Sequential) End(interrupted bool) {
	if !interrupted || s.current >= len(s.commands) {
		return
	}
	s.commands[s.current].End(true)
}

func (s *Sequential) IsFinished() bool { return s.current >= len(s.commands) }

func (s *Sequential) Requirements() []SUID {
	if !s.resolved {
		s.requirements = Union(s.commands...)
		s.resolved = true
	}
	return s.requirements
}

func (s *Sequential) Name() string { return joinNames(s.commands, "->") }

// Current returns the index of the active child.
func (s *Sequential) Current() int { return s.current }
