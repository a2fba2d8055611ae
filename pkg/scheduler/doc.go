// Package scheduler is the command manager: it owns the subsystem registry,
// arbitrates exclusive ownership of subsystems between commands, and advances
// every owning command once per Run.
//
// A Run (one tick of the control loop) executes, strictly in order:
//
//  1. the subsystem pass: every subsystem's periodic callback runs, and every
//     subsystem without an owner falls back to its default command;
//  2. the conditional pass: every registered ConditionalScheduler is polled
//     and may schedule or interrupt commands;
//  3. the command pass: every owning slot (plus orphaned and displaced ones)
//     is initialized once, advanced, and ended when it finishes or was
//     interrupted;
//  4. reclamation: finished transient slots are freed for reuse and their
//     subsystems released.
//
// All manager state sits behind one mutex held for the duration of each
// operation. Schedule, Cancel and CancelAll may also be called from command
// bodies and subsystem callbacks while a tick is running; those calls are
// queued and applied before the tick returns.
package scheduler
