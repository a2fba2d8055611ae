package eventbus

import (
	"context"

	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

// CommandEvent is the payload of every command.* topic.
type CommandEvent struct {
	Tick         uint64
	ID           scheduler.ID
	Slot         string
	Name         string
	Requirements []scheduler.SUID
	Detail       string
}

// AlertEvent is the payload of log.alert.
type AlertEvent struct {
	Level   string
	Message string
}

var topics = map[scheduler.EventKind]string{
	scheduler.EventScheduled:   TopicCommandScheduled,
	scheduler.EventInitialized: TopicCommandInitialized,
	scheduler.EventFinished:    TopicCommandFinished,
	scheduler.EventInterrupted: TopicCommandInterrupted,
	scheduler.EventDisplaced:   TopicCommandDisplaced,
	scheduler.EventPanic:       TopicCommandPanic,
	scheduler.EventCancelAll:   TopicCancelAll,
}

// TopicFor maps a scheduler event kind to its bus topic.
func TopicFor(kind scheduler.EventKind) (string, bool) {
	t, ok := topics[kind]
	return t, ok
}

// Observer returns a scheduler observer that republishes lifecycle events.
// Publishing is non-blocking, so it is safe to call with the manager lock held.
func Observer(b Bus) scheduler.Observer {
	return scheduler.ObserverFunc(func(e scheduler.Event) {
		topic, ok := TopicFor(e.Kind)
		if !ok {
			return
		}
		data := CommandEvent{
			Tick:         e.Tick,
			ID:           e.ID,
			Name:         e.Name,
			Requirements: e.Requirements,
			Detail:       e.Detail,
		}
		if e.Kind != scheduler.EventCancelAll {
			data.Slot = e.Slot.String()
		}
		b.Publish(Event{Type: topic, Time: e.Time, Data: data})
	})
}

// AlertSink publishes WARN+ log lines as log.alert events.
func AlertSink(b Bus) logx.AlertSink {
	return logx.AlertFunc(func(_ context.Context, level logx.Level, msg string) {
		b.Publish(Event{Type: TopicLogAlert, Data: AlertEvent{Level: level.String(), Message: msg}})
	})
}
