package command

import (
	"slices"
	"strings"
)

// SUID identifies a registered subsystem.
//
// SUIDs are small and stable for the lifetime of the subsystem. A command
// lists the SUIDs it needs exclusive ownership of via Requirements.
type SUID uint8

// DefaultName is reported by commands that were never given a name.
const DefaultName = "unnamed command"

// Command is the contract every schedulable unit of behavior satisfies.
//
// The scheduler calls Init exactly once per ownership period, Periodic once
// per tick after that, polls IsFinished after each Periodic, and calls End
// exactly once: with interrupted=false when the command finished on its own,
// with interrupted=true when it was cancelled.
//
// Requirements must not change for the lifetime of the command. An empty set
// makes the command "orphaned": it runs every tick regardless of subsystem
// ownership.
type Command interface {
	Init()
	Periodic()
	End(interrupted bool)
	IsFinished() bool
	Requirements() []SUID
	Name() string
}

// Base provides no-op lifecycle methods. Embed it in custom commands and
// override only what you need.
type Base struct{}

func (Base) Init()                {}
func (Base) Periodic()            {}
func (Base) End(interrupted bool) {}
func (Base) IsFinished() bool     { return false }
func (Base) Requirements() []SUID { return nil }
func (Base) Name() string         { return DefaultName }

// Custom adapts a user-defined implementation. A nil command becomes Empty().
func Custom(c Command) Command {
	if c == nil {
		return Empty()
	}
	return c
}

// Empty returns a command that does nothing, requires nothing and never
// finishes. It is the default command for subsystems registered without one.
func Empty() *Simple {
	return NewBuilder().Build()
}

// Union returns the sorted, de-duplicated union of the commands' requirements.
func Union(cmds ...Command) []SUID {
	var out []SUID
	for _, c := range cmds {
		if c == nil {
			continue
		}
		out = append(out, c.Requirements()...)
	}
	return normalize(out)
}

func normalize(reqs []SUID) []SUID {
	if len(reqs) == 0 {
		return nil
	}
	out := slices.Clone(reqs)
	slices.Sort(out)
	return slices.Compact(out)
}

func joinNames(cmds []Command, sep string) string {
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name())
	}
	return strings.Join(names, sep)
}

func compact(first Command, rest []Command) []Command {
	out := make([]Command, 0, len(rest)+1)
	if first != nil {
		out = append(out, first)
	}
	for _, c := range rest {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}
