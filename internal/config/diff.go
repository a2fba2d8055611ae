package config

import (
	"reflect"
	"sort"
	"strings"

	logx "robocmd/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe to log at INFO.
	Attrs []logx.Field
	// RestartRequired is set when a section that is only read at startup
	// changed (journal).
	RestartRequired bool
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares oldCfg and newCfg. Nil configs compare as empty.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.LoopPeriod() != newCfg.LoopPeriod() ||
		oldCfg.OverrunWarnPerSec() != newCfg.OverrunWarnPerSec() ||
		oldCfg.Loop.Watchdog != newCfg.Loop.Watchdog {
		ch.Sections = append(ch.Sections, "loop")
		ch.Attrs = append(ch.Attrs,
			logx.Duration("loop.period", newCfg.LoopPeriod()),
			logx.Int("loop.overrun_warn_per_sec", newCfg.OverrunWarnPerSec()),
			logx.Bool("loop.watchdog", newCfg.Loop.Watchdog),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		ch.Sections = append(ch.Sections, "debug")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	oj, nj := journalOrEmpty(oldCfg.Journal), journalOrEmpty(newCfg.Journal)
	if oj != nj {
		ch.Sections = append(ch.Sections, "journal")
		ch.RestartRequired = true
		ch.Attrs = append(ch.Attrs,
			logx.String("journal.driver", strings.TrimSpace(nj.Driver)),
			logx.Bool("journal.path_set", strings.TrimSpace(nj.Path) != ""),
		)
	}

	if !reflect.DeepEqual(triggerMap(oldCfg.Triggers), triggerMap(newCfg.Triggers)) {
		ch.Sections = append(ch.Sections, "triggers")
		ch.Attrs = append(ch.Attrs, logx.Int("triggers.count", len(newCfg.Triggers)))
	}

	sort.Strings(ch.Sections)
	return ch
}

func journalOrEmpty(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}

// triggerMap keys triggers by name so reordering is not a change.
func triggerMap(ts []TriggerConfig) map[string]TriggerConfig {
	out := make(map[string]TriggerConfig, len(ts))
	for _, t := range ts {
		out[strings.TrimSpace(t.Name)] = t
	}
	return out
}
