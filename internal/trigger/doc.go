// Package trigger schedules named commands from background cron and
// interval timers. Each firing builds a fresh command from the Registry
// and hands it to the scheduler from the cron goroutine, racing the control
// loop's tick; the scheduler defers it when a tick is in progress.
package trigger
