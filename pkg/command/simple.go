package command

// Simple delegates each lifecycle call to an optional closure. Missing
// closures are no-ops, and a missing finish predicate means "never finishes".
type Simple struct {
	init         func()
	periodic     func()
	end          func(interrupted bool)
	isFinished   func() bool
	requirements []SUID
}

func (s *Simple) Init() {
	if s.init != nil {
		s.init()
	}
}

func (s *Simple) Periodic() {
	if s.periodic != nil {
		s.periodic()
	}
}

func (s *Simple) End(interrupted bool) {
	if s.end != nil {
		s.end(interrupted)
	}
}

func (s *Simple) IsFinished() bool {
	if s.isFinished == nil {
		return false
	}
	return s.isFinished()
}

func (s *Simple) Requirements() []SUID { return s.requirements }

func (s *Simple) Name() string { return DefaultName }

// Builder assembles a Simple command.
//
//	cmd := command.NewBuilder().
//		OnInit(arm.Open).
//		OnPeriodic(arm.Hold).
//		Until(arm.AtTarget).
//		Requires(armID).
//		Build()
type Builder struct {
	init         func()
	periodic     func()
	end          func(interrupted bool)
	isFinished   func() bool
	requirements []SUID
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) OnInit(fn func()) *Builder {
	b.init = fn
	return b
}

func (b *Builder) OnPeriodic(fn func()) *Builder {
	b.periodic = fn
	return b
}

func (b *Builder) OnEnd(fn func(interrupted bool)) *Builder {
	b.end = fn
	return b
}

// Until sets the finish predicate polled after every Periodic.
func (b *Builder) Until(fn func() bool) *Builder {
	b.isFinished = fn
	return b
}

// Requires replaces the requirement list.
func (b *Builder) Requires(reqs ...SUID) *Builder {
	b.requirements = reqs
	return b
}

func (b *Builder) Build() *Simple {
	return &Simple{
		init:         b.init,
		periodic:     b.periodic,
		end:          b.end,
		isFinished:   b.isFinished,
		requirements: normalize(b.requirements),
	}
}

// Shorthand constructors for the common closure combinations.

func StartOnly(init func(), reqs ...SUID) *Simple {
	return NewBuilder().OnInit(init).Requires(reqs...).Build()
}

func RunOnly(periodic func(), reqs ...SUID) *Simple {
	return NewBuilder().OnPeriodic(periodic).Requires(reqs...).Build()
}

func EndOnly(end func(interrupted bool), reqs ...SUID) *Simple {
	return NewBuilder().OnEnd(end).Requires(reqs...).Build()
}

func RunStart(init, periodic func(), reqs ...SUID) *Simple {
	return NewBuilder().OnInit(init).OnPeriodic(periodic).Requires(reqs...).Build()
}

func RunEnd(periodic func(), end func(interrupted bool), reqs ...SUID) *Simple {
	return NewBuilder().OnPeriodic(periodic).OnEnd(end).Requires(reqs...).Build()
}

func StartEnd(init func(), end func(interrupted bool), reqs ...SUID) *Simple {
	return NewBuilder().OnInit(init).OnEnd(end).Requires(reqs...).Build()
}

func RunStartEnd(init, periodic func(), end func(interrupted bool), reqs ...SUID) *Simple {
	return NewBuilder().OnInit(init).OnPeriodic(periodic).OnEnd(end).Requires(reqs...).Build()
}

func RunUntil(isFinished func() bool, periodic func(), reqs ...SUID) *Simple {
	return NewBuilder().Until(isFinished).OnPeriodic(periodic).Requires(reqs...).Build()
}

func RunEndUntil(isFinished func() bool, periodic func(), end func(interrupted bool), reqs ...SUID) *Simple {
	return NewBuilder().Until(isFinished).OnPeriodic(periodic).OnEnd(end).Requires(reqs...).Build()
}

func StartRunUntil(init func(), isFinished func() bool, reqs ...SUID) *Simple {
	return NewBuilder().OnInit(init).Until(isFinished).Requires(reqs...).Build()
}

// All sets every closure at once.
func All(init, periodic func(), end func(interrupted bool), isFinished func() bool, reqs ...SUID) *Simple {
	return NewBuilder().
		OnInit(init).
		OnPeriodic(periodic).
		OnEnd(end).
		Until(isFinished).
		Requires(reqs...).
		Build()
}
