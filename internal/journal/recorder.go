package journal

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"robocmd/internal/eventbus"
	logx "robocmd/pkg/logx"
)

const appendTimeout = 250 * time.Millisecond

// Recorder copies command.* and loop.* bus events into a Store.
type Recorder struct {
	store   Store
	session string
	log     logx.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder tags every entry with session; an empty session gets a fresh
// random UUID.
func NewRecorder(store Store, session string, log logx.Logger) *Recorder {
	if session == "" {
		session = uuid.NewString()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, session: session, log: log.With(logx.String("comp", "journal"))}
}

func (r *Recorder) Session() string { return r.session }

// Counts reports appended and failed entries.
func (r *Recorder) Counts() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}

// Run subscribes to bus and records until ctx is done. Events still
// buffered at cancellation are flushed before returning.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-ch:
					r.Record(wctx, e)
				default:
					return nil
				}
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.Record(wctx, e)
		}
	}
}

// Record appends one bus event. Events outside the command and loop topics
// are ignored.
func (r *Recorder) Record(ctx context.Context, e eventbus.Event) {
	entry, ok := r.entryFor(e)
	if !ok {
		return
	}
	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := r.store.Append(actx, entry); err != nil {
		// Debug only: a WARN here would feed log.alert back into the bus.
		if r.failed.Add(1) == 1 {
			r.log.Debug("journal append failed", logx.Err(err))
		}
		return
	}
	r.written.Add(1)
}

func (r *Recorder) entryFor(e eventbus.Event) (Entry, bool) {
	if !strings.HasPrefix(e.Type, "command.") && !strings.HasPrefix(e.Type, "loop.") {
		return Entry{}, false
	}
	entry := Entry{Session: r.session, At: e.Time, Kind: e.Type}
	switch d := e.Data.(type) {
	case eventbus.CommandEvent:
		entry.Tick = d.Tick
		entry.CommandID = uint64(d.ID)
		entry.Command = d.Name
		entry.Slot = d.Slot
		entry.Detail = d.Detail
		for _, s := range d.Requirements {
			entry.SUIDs = append(entry.SUIDs, int(s))
		}
	case nil:
	default:
		entry.Detail = fmt.Sprintf("%+v", d)
	}
	return entry, true
}
