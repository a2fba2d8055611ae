package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"robocmd/internal/journal"
	logx "robocmd/pkg/logx"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print recent command lifecycle entries",
	RunE:  runJournal,
}

func init() {
	journalCmd.Flags().String("driver", "sqlite", "journal driver (file, sqlite)")
	journalCmd.Flags().String("path", "./var/journal.db", "journal path")
	journalCmd.Flags().Int("limit", 50, "number of entries")
	journalCmd.Flags().Bool("json", false, "print raw JSON lines")
}

func runJournal(cmd *cobra.Command, _ []string) error {
	driver, _ := cmd.Flags().GetString("driver")
	path, _ := cmd.Flags().GetString("path")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	st, err := journal.Open(journal.Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	entries, err := st.Recent(ctx, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s tick=%-6d %-22s #%-4d %-20s %-8s %v %s\n",
			e.At.Format(time.TimeOnly), e.Tick, e.Kind, e.CommandID, e.Command, e.Slot, e.SUIDs, e.Detail)
	}
	return nil
}
