package command

// Named overrides the name of the wrapped command and delegates everything
// else.
type Named struct {
	name    string
	command Command
}

func (n *Named) Init()                { n.command.Init() }
func (n *Named) Periodic()            { n.command.Periodic() }
func (n *Named) End(interrupted bool) { n.command.End(interrupted) }
func (n *Named) IsFinished() bool     { return n.command.IsFinished() }
func (n *Named) Requirements() []SUID { return n.command.Requirements() }
func (n *Named) Name() string         { return n.name }

// Unwrap returns the wrapped command.
func (n *Named) Unwrap() Command { return n.command }

// Proxy defers building its command until the command is first needed. The
// scheduler asks for requirements when the proxy is scheduled, so in practice
// construction happens at schedule time rather than at declaration time. That
// holds inside Parallel and Sequential groups too, since they resolve their
// requirements lazily.
type Proxy struct {
	factory func() Command
	command Command
}

// NewProxy wraps factory. A factory returning nil yields Empty().
func NewProxy(factory func() Command) *Proxy {
	return &Proxy{factory: factory}
}

func (p *Proxy) get() Command {
	if p.command == nil {
		var c Command
		if p.factory != nil {
			c = p.factory()
		}
		p.command = Custom(c)
	}
	return p.command
}

func (p *Proxy) Init()                { p.get().Init() }
func (p *Proxy) Periodic()            { p.get().Periodic() }
func (p *Proxy) End(interrupted bool) { p.get().End(interrupted) }
func (p *Proxy) IsFinished() bool     { return p.get().IsFinished() }
func (p *Proxy) Requirements() []SUID { return p.get().Requirements() }
func (p *Proxy) Name() string         { return p.get().Name() }

// Built reports whether the factory has run.
func (p *Proxy) Built() bool { return p.command != nil }
