package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"robocmd/internal/config"
	"robocmd/internal/trigger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and print the trigger plan",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loop period: %s\n", cfg.LoopPeriod())
	for _, t := range cfg.Triggers {
		p, err := trigger.ParseSchedule(t.Schedule)
		if err != nil {
			return fmt.Errorf("trigger %q: %w", t.Name, err)
		}
		state := "enabled"
		if t.Disabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "trigger %-16s %-24s -> %s (%s)\n", t.Name, p.String(), t.Command, state)
	}
	fmt.Fprintln(out, "config ok")
	return nil
}
