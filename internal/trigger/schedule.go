package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Parsed is a normalized schedule string.
type Parsed struct {
	Kind  Kind
	Cron  string
	Every time.Duration
}

var (
	reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

	// Seconds are optional so both "*/5 * * * *" and "*/5 * * * * *" work.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule accepts:
//   - cron expressions, with optional seconds: "*/5 * * * * *", "@hourly", "@every 2s"
//   - Go durations: "250ms", "2s"
//   - HH:MM intervals: "00:30"
//
// The "cron:" prefix forces cron parsing; "every:" and "interval:" force an
// interval. Cron expressions are validated here.
func ParseSchedule(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	p, err := parseInterval(s)
	if err != nil {
		return Parsed{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * * *', a duration like '2s' or HH:MM)", raw)
	}
	return p, nil
}

func parseCron(expr string) (Parsed, error) {
	if expr == "" {
		return Parsed{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Parsed{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Parsed{Kind: KindCron, Cron: expr}, nil
}

func parseInterval(v string) (Parsed, error) {
	if v == "" {
		return Parsed{}, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Parsed{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Parsed{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d <= 0 {
		return Parsed{}, fmt.Errorf("interval must be > 0")
	}
	return Parsed{Kind: KindInterval, Every: d}, nil
}

// Schedule returns the cron schedule for p.
func (p Parsed) Schedule() (cron.Schedule, error) {
	if p.Kind == KindInterval {
		return interval(p.Every), nil
	}
	return cronParser.Parse(p.Cron)
}

func (p Parsed) String() string {
	if p.Kind == KindInterval {
		return "every " + p.Every.String()
	}
	return p.Cron
}

// interval fires every d. cron.ConstantDelaySchedule rounds to whole
// seconds, which is too coarse for robot triggers.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time { return t.Add(time.Duration(i)) }
