package scheduler

import (
	"sync"

	"robocmd/pkg/command"
)

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide manager, creating it on first use.
func Default() *Manager {
	defaultOnce.Do(func() { defaultMgr = New() })
	return defaultMgr
}

func RegisterSubsystem(suid SUID, periodic func(), def command.Command) error {
	return Default().RegisterSubsystem(suid, periodic, def)
}

func Schedule(cmd command.Command) ID { return Default().Schedule(cmd) }

func Run() { Default().Run() }

func CancelAll() { Default().CancelAll() }

func AddCondScheduler(cs *ConditionalScheduler) { Default().AddCondScheduler(cs) }

func ClearCondSchedulers() { Default().ClearCondSchedulers() }
