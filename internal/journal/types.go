package journal

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config selects a backend.
//
// Driver values:
//   - "file": JSON lines appended to Path
//   - "sqlite": SQLite database at Path (WAL mode)
//
// An empty Driver or "none" disables the journal.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// Entry is one recorded lifecycle event. Keep it schema-stable: both
// backends persist every field.
type Entry struct {
	Session   string    `json:"session"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"`
	Tick      uint64    `json:"tick"`
	CommandID uint64    `json:"command_id,omitempty"`
	Command   string    `json:"command,omitempty"`
	Slot      string    `json:"slot,omitempty"`
	SUIDs     []int     `json:"suids,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit of the newest entries, oldest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
