package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"robocmd/pkg/command"
	logx "robocmd/pkg/logx"
	"robocmd/pkg/scheduler"
)

// Scheduler is the part of scheduler.Manager a trigger needs.
type Scheduler interface {
	Schedule(cmd command.Command) scheduler.ID
}

// Spec binds a schedule to a registry command.
type Spec struct {
	Name     string
	Schedule string
	Command  string
	Disabled bool
}

// Status reports one installed trigger.
type Status struct {
	Name     string
	Schedule string
	Command  string
	Next     time.Time
	Fired    uint64
	LastID   scheduler.ID
	LastErr  string
}

type entry struct {
	spec   Spec
	parsed Parsed
	id     cron.EntryID
	fired  uint64
	lastID scheduler.ID
	err    string
}

// Service owns a cron runner whose jobs schedule commands.
type Service struct {
	reg   *Registry
	sched Scheduler
	log   logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	chain   cron.Chain
	entries map[string]*entry
	pending []Spec
}

func New(reg *Registry, sched Scheduler, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		reg:     reg,
		sched:   sched,
		log:     log.With(logx.String("comp", "trigger")),
		entries: map[string]*entry{},
	}
}

// Validate checks every enabled spec without installing anything.
func (s *Service) Validate(specs []Spec) error {
	var errs []error
	for _, sp := range specs {
		if sp.Disabled {
			continue
		}
		if _, err := ParseSchedule(sp.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", sp.Name, err))
		}
		if !s.reg.Has(sp.Command) {
			errs = append(errs, fmt.Errorf("trigger %q: %w: %q", sp.Name, ErrUnknownCommand, sp.Command))
		}
	}
	return errors.Join(errs...)
}

// Start begins firing. Specs applied before Start are installed now.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cl := cronLogger{log: s.log}
	// Schedule bypasses the runner's own chain, so jobs are wrapped by hand.
	s.chain = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
	)
	s.installLocked(s.pending)
	s.pending = nil
	s.c.Start()
	s.log.Info("triggers started", logx.Int("count", len(s.entries)))
}

// Stop halts firing and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	specs := make([]Spec, 0, len(s.entries))
	for _, e := range s.entries {
		specs = append(specs, e.spec)
	}
	s.entries = map[string]*entry{}
	s.pending = specs
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("triggers stopped")
}

// Apply replaces the installed triggers. Unchanged triggers keep their
// counters and timers; invalid ones are skipped and reported.
func (s *Service) Apply(specs []Spec) error {
	err := s.Validate(specs)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		s.pending = specs
		return err
	}
	s.installLocked(specs)
	return err
}

func (s *Service) installLocked(specs []Spec) {
	want := map[string]Spec{}
	for _, sp := range specs {
		if sp.Disabled {
			continue
		}
		want[normalize(sp.Name)] = sp
	}
	for key, e := range s.entries {
		if sp, ok := want[key]; ok && sp == e.spec {
			delete(want, key)
			continue
		}
		s.c.Remove(e.id)
		delete(s.entries, key)
	}

	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sp := want[key]
		parsed, err := ParseSchedule(sp.Schedule)
		if err != nil {
			s.log.Warn("trigger skipped", logx.String("name", sp.Name), logx.Err(err))
			continue
		}
		sched, err := parsed.Schedule()
		if err != nil {
			s.log.Warn("trigger skipped", logx.String("name", sp.Name), logx.Err(err))
			continue
		}
		e := &entry{spec: sp, parsed: parsed}
		e.id = s.c.Schedule(sched, s.chain.Then(cron.FuncJob(func() { s.fire(e) })))
		s.entries[key] = e
		s.log.Debug("trigger installed",
			logx.String("name", sp.Name),
			logx.String("schedule", parsed.String()),
			logx.String("command", sp.Command))
	}
}

func (s *Service) fire(e *entry) {
	cmd, err := s.reg.Build(e.spec.Command)
	if err != nil {
		s.mu.Lock()
		e.err = err.Error()
		s.mu.Unlock()
		s.log.Warn("trigger command unavailable", logx.String("name", e.spec.Name), logx.Err(err))
		return
	}
	id := s.sched.Schedule(cmd)

	s.mu.Lock()
	e.fired++
	e.lastID = id
	e.err = ""
	s.mu.Unlock()
	s.log.Debug("trigger fired",
		logx.String("name", e.spec.Name),
		logx.String("command", cmd.Name()),
		logx.Uint64("id", uint64(id)))
}

// Status lists installed triggers by name.
func (s *Service) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			Name:     e.spec.Name,
			Schedule: e.parsed.String(),
			Command:  e.spec.Command,
			Fired:    e.fired,
			LastID:   e.lastID,
			LastErr:  e.err,
		}
		if s.c != nil {
			st.Next = s.c.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's logging through logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := strings.TrimSpace(fmt.Sprint(kv[i]))
		out = append(out, logx.Any(key, kv[i+1]))
	}
	return out
}
