// Package journal keeps an append-only record of command lifecycle events
// for post-run analysis. The scheduler never reads it back.
package journal
