package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "x"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "x" || e.Time.IsZero() {
				t.Fatalf("event = %+v, want type x with time", e)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	st := b.Stats()
	if st.Published != 2 || st.Dropped != 1 || st.Subscribers != 1 {
		t.Fatalf("Stats = %+v, want published 2 dropped 1 subscribers 1", st)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
	if n := b.Stats().Subscribers; n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
}

func TestObserverRepublishesLifecycle(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(32)
	defer unsub()

	m := scheduler.New(scheduler.WithObserver(Observer(b)))
	if err := m.RegisterSubsystem(1, nil, nil); err != nil {
		t.Fatalf("RegisterSubsystem error = %v", err)
	}
	m.Schedule(oneShot{})
	m.Run()

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Type)
	}
	want := []string{TopicCommandScheduled, TopicCommandInitialized, TopicCommandFinished}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("topics mismatch (-want +got):\n%s", diff)
	}
}

func TestAlertSinkPublishes(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	AlertSink(b).Alert(context.Background(), logx.LevelWarn, "[WARN] loop overrun")

	e := <-ch
	want := AlertEvent{Level: "warn", Message: "[WARN] loop overrun"}
	if diff := cmp.Diff(want, e.Data); diff != "" {
		t.Fatalf("alert mismatch (-want +got):\n%s", diff)
	}
}

// oneShot requires subsystem 1 and finishes after its first tick.
type oneShot struct{}

func (oneShot) Init()                          {}
func (oneShot) Periodic()                      {}
func (oneShot) End(bool)                       {}
func (oneShot) IsFinished() bool               { return true }
func (oneShot) Requirements() []scheduler.SUID { return []scheduler.SUID{1} }
func (oneShot) Name() string                   { return "one-shot" }
