package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/mailbox"
	"omegaclaw/pkg/onboard"
	"omegaclaw/pkg/persistence"
	"omegaclaw/pkg/utils"
)

func submitCmd() *cobra.Command {
	var spec mailbox.NewJob
	var file string
	cmd := &cobra.Command{
		Use:   "submit [details...]",
		Short: "Write a PENDING job into the inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Details = strings.Join(args, " ")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				spec.Details = string(data)
			}
			if strings.TrimSpace(spec.Details) == "" {
				return fmt.Errorf("job details required (arguments or --file)")
			}
			spec.Name = onboard.SanitizeName(spec.Name)
			if spec.Name == "" {
				spec.Name = onboard.SanitizeName(utils.Truncate(utils.OneLine(spec.Details), 40))
			}
			spec.Mode = onboard.NormalizeMode(spec.Mode)

			return withMailbox(func(_ *config.Config, mb *mailbox.Mailbox) error {
				job, err := mb.CreateJob(spec)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "📥 %s queued: %s\n", job.ID, spec.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec.Name, "name", "", "job name (default: start of the details)")
	cmd.Flags().StringVar(&spec.Kit, "kit", "custom", "kit")
	cmd.Flags().StringVar(&spec.Mode, "mode", "3", "autonomy mode: 1 full discovery, 2 quick start, 3 just build")
	cmd.Flags().StringVar(&spec.Audience, "audience", "", "audience and purpose")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read details from a file")
	return cmd
}

func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer JOB-ID text...",
		Short: "Answer a job's open blocker through the mailbox",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.ToUpper(args[0])
			text := strings.Join(args[1:], " ")
			return withMailbox(func(_ *config.Config, mb *mailbox.Mailbox) error {
				if !mb.HasOpenBlocker(jobID) {
					return fmt.Errorf("%s has no open blocker", jobID)
				}
				if err := mb.WriteAnswer(jobID, text); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ Answer written for %s\n", jobID)
				return nil
			})
		},
	}
}

func jobsCmd() *cobra.Command {
	var filter persistence.JobFilter
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Status = strings.ToUpper(filter.Status)
			return withStore(func(store *persistence.Store) error {
				jobs, err := store.ListJobs(filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), jobs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Kit", "Mode", "Status", "Updated"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, utils.Truncate(j.Name, 40), j.Kit, j.Mode, j.Status, j.UpdatedAt.Format("2006-01-02 15:04")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Status, "status", "", "status filter (pending, building, complete, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum rows")
	return cmd
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger JOB-ID",
		Short: "Show which reports of a job reached the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := strings.ToUpper(args[0])
			return withStore(func(store *persistence.Store) error {
				rows, err := store.DeliveredReports(jobID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), rows)
				}
				if len(rows) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No reports delivered for %s\n", jobID)
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Report", "Cycle", "Delivered"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ReportID, r.Cycle, r.DeliveredAt.Format("2006-01-02 15:04:05")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	var (
		user  int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the chat command log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(store *persistence.Store) error {
				entries, err := store.RecentCommands(user, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Time", "User", "Intent", "Message", "Response"})
				for _, e := range entries {
					tw.AppendRow(table.Row{
						e.CreatedAt.Format("01-02 15:04"),
						e.UserID,
						e.Intent,
						utils.Truncate(utils.OneLine(e.Message), 40),
						utils.Truncate(utils.OneLine(e.Response), 50),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "only this Telegram user id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}
