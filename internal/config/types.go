package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultLoopPeriod        = 20 * time.Millisecond
	DefaultOverrunWarnPerSec = 1
)

type Config struct {
	Loop    LoopConfig    `json:"loop"`
	Logging LoggingConfig `json:"logging"`

	// Journal is optional; nil disables it. Changes need a restart.
	Journal *JournalConfig `json:"journal,omitempty"`

	// Debug serves /status and pprof over HTTP when enabled.
	Debug DebugConfig `json:"debug"`

	// Triggers schedule named commands in the background on a cron or
	// interval schedule.
	Triggers []TriggerConfig `json:"triggers,omitempty"`
}

// LoopConfig controls the fixed-period control loop.
//
// Period is a Go duration string (default "20ms"). Watchdog enables
// systemd WATCHDOG=1 pings when the service runs under systemd with
// WatchdogSec set.
type LoopConfig struct {
	Period            string `json:"period,omitempty"`
	OverrunWarnPerSec int    `json:"overrun_warn_per_sec,omitempty"`
	Watchdog          bool   `json:"watchdog,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts republishes WARN+ lines on the event bus as log.alert.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DebugConfig controls the debug HTTP server. Addr defaults to
// 127.0.0.1:6060; binding elsewhere requires Token or AllowInsecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// JournalConfig selects the command journal backend.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./var/journal.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TriggerConfig binds a schedule to a registered command factory.
//
// Schedule accepts cron expressions with seconds ("*/5 * * * * *"),
// descriptors ("@every 2s"), bare durations ("2s") and the explicit
// "cron:" / "every:" prefixes.
type TriggerConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
	Disabled bool   `json:"disabled,omitempty"`
}

// LoopPeriod returns the effective loop period.
func (c *Config) LoopPeriod() time.Duration {
	if c == nil {
		return DefaultLoopPeriod
	}
	d, err := ParseDurationOrDefault("loop.period", c.Loop.Period, DefaultLoopPeriod)
	if err != nil {
		return DefaultLoopPeriod
	}
	return d
}

// OverrunWarnPerSec returns the effective overrun warning rate.
func (c *Config) OverrunWarnPerSec() int {
	if c == nil || c.Loop.OverrunWarnPerSec <= 0 {
		return DefaultOverrunWarnPerSec
	}
	return c.Loop.OverrunWarnPerSec
}

var journalDrivers = map[string]bool{"": true, "none": true, "file": true, "jsonl": true, "sqlite": true, "sqlite3": true}

// Validate checks static constraints. Trigger schedules are checked by the
// trigger package through the manager's validator hook.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := ParseDurationField("loop.period", c.Loop.Period); err != nil {
		errs = append(errs, err)
	}
	if c.Loop.OverrunWarnPerSec < 0 {
		errs = append(errs, errors.New("loop.overrun_warn_per_sec must be >= 0"))
	}
	if c.Logging.Alerts.RatePerSec < 0 {
		errs = append(errs, errors.New("logging.alerts.rate_per_sec must be >= 0"))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}
	if j := c.Journal; j != nil {
		driver := strings.ToLower(strings.TrimSpace(j.Driver))
		if !journalDrivers[driver] {
			errs = append(errs, fmt.Errorf("journal.driver: unknown driver %q", j.Driver))
		}
		if driver != "" && driver != "none" && strings.TrimSpace(j.Path) == "" {
			errs = append(errs, errors.New("journal.path is required"))
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	seen := map[string]bool{}
	for i, t := range c.Triggers {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("triggers[%d].name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("triggers[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("triggers[%d].schedule is required", i))
		}
		if strings.TrimSpace(t.Command) == "" {
			errs = append(errs, fmt.Errorf("triggers[%d].command is required", i))
		}
	}
	return errors.Join(errs...)
}
