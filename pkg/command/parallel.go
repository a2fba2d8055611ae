package command

// Parallel runs its children side by side within each tick.
//
// In the default mode it finishes once every child has finished. In race
// mode it finishes as soon as any child has finished; the remaining children
// are interrupted when the parent is ended.
type Parallel struct {
	commands     []Command
	finished     []bool
	requirements []SUID
	resolved     bool
	race         bool
}

func newParallel(race bool, cmds []Command) *Parallel {
	return &Parallel{
		commands: cmds,
		finished: make([]bool, len(cmds)),
		race:     race,
	}
}

func (p *Parallel) Init() {
	for i, c := range p.commands {
		p.finished[i] = false
		c.Init()
	}
}

func (p *Parallel) Periodic() {
	for i, c := range p.commands {
		if p.finished[i] {
			continue
		}
		c.Periodic()
		if c.IsFinished() {
			c.End(false)
			p.finished[i] = true
		}
	}
}

// End interrupts every child that has not finished on its own. This covers
// both an interrupted parent and the losers of a race.
func (p *Parallel) End(interrupted bool) {
	for i, c := range p.commands {
		if p.finished[i] {
			continue
		}
		c.End(true)
		p.finished[i] = true
	}
}

func (p *Parallel) IsFinished() bool {
	if p.race {
		for _, f := range p.finished {
			if f {
				return true
			}
		}
		return false
	}
	for _, f := range p.finished {
		if !f {
			return false
		}
	}
	return true
}

// Requirements is the union of the children's requirements, computed on first
// use so proxied children are not built while the group is being composed.
func (p *Parallel) Requirements() []SUID {
	if !p.resolved {
		p.requirements = Union(p.commands...)
		p.resolved = true
	}
	return p.requirements
}

func (p *Parallel) Name() string { return joinNames(p.commands, ",") }

// Race reports whether the group finishes on the first child.
func (p *Parallel) Race() bool { return p.race }
