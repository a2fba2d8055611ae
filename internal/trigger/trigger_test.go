package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"robocmd/pkg/command"
	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Parsed
		wantErr bool
	}{
		{in: "*/5 * * * * *", want: Parsed{Kind: KindCron, Cron: "*/5 * * * * *"}},
		{in: "0 * * * *", want: Parsed{Kind: KindCron, Cron: "0 * * * *"}},
		{in: "@every 2s", want: Parsed{Kind: KindCron, Cron: "@every 2s"}},
		{in: "cron:@hourly", want: Parsed{Kind: KindCron, Cron: "@hourly"}},
		{in: "2s", want: Parsed{Kind: KindInterval, Every: 2 * time.Second}},
		{in: "every:250ms", want: Parsed{Kind: KindInterval, Every: 250 * time.Millisecond}},
		{in: "interval:01:30", want: Parsed{Kind: KindInterval, Every: 90 * time.Minute}},
		{in: "00:05", want: Parsed{Kind: KindInterval, Every: 5 * time.Minute}},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "00:75", wantErr: true},
		{in: "cron:", wantErr: true},
		{in: "* * bogus * *", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSchedule(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParseSchedule(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestIntervalScheduleKeepsSubSecondPrecision(t *testing.T) {
	t.Parallel()
	p, err := ParseSchedule("100ms")
	if err != nil {
		t.Fatalf("ParseSchedule error = %v", err)
	}
	s, err := p.Schedule()
	if err != nil {
		t.Fatalf("Schedule error = %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := s.Next(now).Sub(now); got != 100*time.Millisecond {
		t.Fatalf("Next delta = %v, want 100ms", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register("Blink", func() command.Command { return command.Empty() }); err != nil {
		t.Fatalf("Register error = %v", err)
	}
	if err := r.Register("blink", func() command.Command { return command.Empty() }); err == nil {
		t.Fatal("duplicate Register error = nil")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Fatal("Register(nil factory) error = nil")
	}
	if _, err := r.Build(" BLINK "); err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if _, err := r.Build("missing"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Build(missing) error = %v, want %v", err, ErrUnknownCommand)
	}
	if diff := cmp.Diff([]string{"blink"}, r.Names()); diff != "" {
		t.Fatalf("Names mismatch (-want +got):\n%s", diff)
	}
}

type recordingScheduler struct {
	mu    sync.Mutex
	names []string
	next  scheduler.ID
}

func (r *recordingScheduler) Schedule(cmd command.Command) scheduler.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.names = append(r.names, cmd.Name())
	return r.next
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func newTestService(t *testing.T) (*Service, *recordingScheduler) {
	t.Helper()
	reg := NewRegistry()
	for _, name := range []string{"blink", "home"} {
		name := name
		if err := reg.Register(name, func() command.Command {
			return command.WithName(command.Empty(), name)
		}); err != nil {
			t.Fatalf("Register error = %v", err)
		}
	}
	rs := &recordingScheduler{}
	return New(reg, rs, logx.Nop()), rs
}

func stop(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestServiceFiresIntervalTrigger(t *testing.T) {
	s, rs := newTestService(t)
	if err := s.Apply([]Spec{{Name: "blinker", Schedule: "every:10ms", Command: "blink"}}); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	s.Start()
	defer stop(t, s)

	deadline := time.Now().Add(5 * time.Second)
	for rs.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("trigger never fired twice")
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := s.Status()
	if len(st) != 1 || st[0].Fired < 2 || st[0].LastID == 0 || st[0].Next.IsZero() {
		t.Fatalf("Status = %+v", st)
	}
	rs.mu.Lock()
	name := rs.names[0]
	rs.mu.Unlock()
	if name != "blink" {
		t.Fatalf("scheduled %q, want blink", name)
	}
}

func TestApplyReplacesAndReportsInvalid(t *testing.T) {
	s, _ := newTestService(t)
	s.Start()
	defer stop(t, s)

	if err := s.Apply([]Spec{
		{Name: "a", Schedule: "1h", Command: "blink"},
		{Name: "b", Schedule: "1h", Command: "home"},
	}); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	err := s.Apply([]Spec{
		{Name: "b", Schedule: "1h", Command: "home"},
		{Name: "c", Schedule: "whenever", Command: "home"},
		{Name: "d", Schedule: "1h", Command: "dance"},
		{Name: "e", Schedule: "1h", Command: "blink", Disabled: true},
	})
	if err == nil || !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Apply error = %v, want unknown command", err)
	}
	var names []string
	for _, st := range s.Status() {
		names = append(names, st.Name)
	}
	// d installs (its command may be registered later) but fails at fire time.
	if diff := cmp.Diff([]string{"b", "d"}, names); diff != "" {
		t.Fatalf("installed mismatch (-want +got):\n%s", diff)
	}
}

func TestStopKeepsSpecsForRestart(t *testing.T) {
	s, _ := newTestService(t)
	if err := s.Apply([]Spec{{Name: "a", Schedule: "1h", Command: "blink"}}); err != nil {
		t.Fatalf("Apply error = %v", err)
	}
	s.Start()
	stop(t, s)
	if got := len(s.Status()); got != 0 {
		t.Fatalf("Status after Stop = %d entries, want 0", got)
	}
	s.Start()
	defer stop(t, s)
	if got := len(s.Status()); got != 1 {
		t.Fatalf("Status after restart = %d entries, want 1", got)
	}
}
