package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omegaclaw/pkg/eventlog"
	"omegaclaw/pkg/events"
	"omegaclaw/pkg/utils"
)

// eventsCmd replays the JSONL event log, oldest first.
func eventsCmd() *cobra.Command {
	var (
		jobID string
		kind  string
		last  int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show notifications recorded in the event log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			files, err := eventlog.ListLogFiles(cfg.EventLog.Dir)
			if err != nil {
				return err
			}
			sort.Strings(files)

			var matched []events.Event
			for _, f := range files {
				evs, err := eventlog.ReadEvents(f)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				for _, ev := range evs {
					if jobID != "" && !strings.EqualFold(ev.JobID, jobID) {
						continue
					}
					if kind != "" && !strings.HasPrefix(string(ev.Kind), kind) {
						continue
					}
					matched = append(matched, ev)
				}
			}
			if last > 0 && len(matched) > last {
				matched = matched[len(matched)-last:]
			}

			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), matched)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Time", "Kind", "Job", "Message"})
			for _, ev := range matched {
				tw.AppendRow(table.Row{
					ev.Time.Local().Format("01-02 15:04:05"),
					ev.Kind,
					ev.JobID,
					utils.Truncate(utils.OneLine(ev.Message), 70),
				})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "only events of this job")
	cmd.Flags().StringVar(&kind, "kind", "", "only events whose kind starts with this (e.g. job.blocked, report)")
	cmd.Flags().IntVar(&last, "last", 50, "show at most the last N events (0 for all)")
	return cmd
}
