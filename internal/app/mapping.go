package app

import (
	"errors"
	"strings"
	"time"

	"robocmd/internal/config"
	"robocmd/internal/journal"
	"robocmd/internal/loop"
	"robocmd/internal/observability/debug"
	"robocmd/internal/trigger"
	logx "robocmd/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapLoop(cfg *config.Config) loop.Config {
	return loop.Config{
		Period:            cfg.LoopPeriod(),
		OverrunWarnPerSec: cfg.OverrunWarnPerSec(),
		Watchdog:          cfg.Loop.Watchdog,
	}
}

// mapJournal returns journal.ErrDisabled when no backend is configured.
func mapJournal(cfg *config.Config) (journal.Config, error) {
	jc := cfg.Journal
	if jc == nil {
		return journal.Config{}, journal.ErrDisabled
	}
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == "none" {
		return journal.Config{}, journal.ErrDisabled
	}
	busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, time.Second)
	if err != nil {
		return journal.Config{}, err
	}
	return journal.Config{Driver: driver, Path: strings.TrimSpace(jc.Path), BusyTimeout: busy}, nil
}

func mapDebug(cfg *config.Config) debug.Config {
	return debug.Config{
		Enabled:       cfg.Debug.Enabled,
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
}

func mapTriggers(cfg *config.Config) []trigger.Spec {
	out := make([]trigger.Spec, 0, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		out = append(out, trigger.Spec{
			Name:     strings.TrimSpace(t.Name),
			Schedule: t.Schedule,
			Command:  t.Command,
			Disabled: t.Disabled,
		})
	}
	return out
}

func isDisabled(err error) bool { return errors.Is(err, journal.ErrDisabled) }
