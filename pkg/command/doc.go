// Package command defines the lifecycle contract for robot commands and the
// algebra for composing them.
//
// A command is a short-lived unit of behavior that runs against the
// subsystems it requires. The scheduler drives every command through the
// same lifecycle:
//
//	Init -> Periodic (every tick) -> IsFinished? -> End(interrupted)
//
// Leaf commands are built with Builder (or the shorthand constructors such as
// RunUntil). Compound commands are built with the combinators in this package
// (AlongWith, RaceWith, Before, After, AndThenMany, WithName, WaitFor, Proxy).
// Any type that implements Command is accepted too; embed Base to inherit
// no-op defaults.
package command
