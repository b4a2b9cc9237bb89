package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/usemanusai/openclaw/pkg/openclaw/config"
	"github.com/usemanusai/openclaw/pkg/openclaw/cron"
	"github.com/usemanusai/openclaw/pkg/openclaw/history"
)

// newScheduleCmd creates the `schedule` command group for managing cron jobs
// and inspecting the run history.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled agent jobs",
	}
	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRmCmd(),
		newScheduleToggleCmd("enable", true),
		newScheduleToggleCmd("disable", false),
		newScheduleRunNowCmd(),
		newScheduleRunsCmd(),
	)
	return cmd
}

func openCronStore(cmd *cobra.Command) (*cron.Store, *config.Config, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store := cron.NewStore(cfg.Store.CronFile, logger)
	if err := store.EnsureLoaded(); err != nil {
		return nil, nil, fmt.Errorf("load cron store: %w", err)
	}
	return store, cfg, nil
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openCronStore(cmd)
			if err != nil {
				return err
			}
			jobs, err := store.Jobs()
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
					j.ID, j.Name, j.Schedule.Summary(), j.Enabled,
					formatMs(j.State.NextRunAtMs), j.State.LastStatus)
			}
			return w.Flush()
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	var (
		name, description  string
		at, every, expr    string
		tz                 string
		message, eventText string
		channel, to        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Example: `  openclaw schedule add --every 30m --message "check CI status"
  openclaw schedule add --cron "0 9 * * 1-5" --tz America/Sao_Paulo --message "standup summary"
  openclaw schedule add --at 2026-09-01T08:00:00Z --event "quarterly report due"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, err := buildSchedule(at, every, expr, tz)
			if err != nil {
				return err
			}
			payload, err := buildPayload(message, eventText, channel, to)
			if err != nil {
				return err
			}

			store, _, err := openCronStore(cmd)
			if err != nil {
				return err
			}
			job, err := store.Add(name, description, sched, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (%s), next run %s.\n",
				job.ID, job.Name, formatMs(job.State.NextRunAtMs))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "job name (inferred when empty)")
	cmd.Flags().StringVar(&description, "description", "", "job description")
	cmd.Flags().StringVar(&at, "at", "", "one-shot time (RFC 3339)")
	cmd.Flags().StringVar(&every, "every", "", "fixed interval, e.g. 30m, 12h, 1d")
	cmd.Flags().StringVar(&expr, "cron", "", "5-field cron expression")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone for --cron")
	cmd.Flags().StringVar(&message, "message", "", "agent prompt to run")
	cmd.Flags().StringVar(&eventText, "event", "", "system event text instead of a prompt")
	cmd.Flags().StringVar(&channel, "channel", "", "deliver replies to this channel")
	cmd.Flags().StringVar(&to, "to", "", "delivery target on the channel")
	return cmd
}

func newScheduleRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openCronStore(cmd)
			if err != nil {
				return err
			}
			removed, err := store.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s.\n", args[0])
			return nil
		},
	}
}

func newScheduleToggleCmd(use string, enabled bool) *cobra.Command {
	short := "Enable a scheduled job"
	if !enabled {
		short = "Disable a scheduled job"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openCronStore(cmd)
			if err != nil {
				return err
			}
			found, err := store.Toggle(args[0], enabled)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s %sd.\n", args[0], use)
			return nil
		},
	}
}

func newScheduleRunNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Mark a job due so the next scheduler pass runs it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openCronStore(cmd)
			if err != nil {
				return err
			}
			found, err := store.RunNow(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no job with id %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for the next scheduler pass.\n", args[0])
			return nil
		},
	}
}

func newScheduleRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hist, err := history.Open(cfg.Store.HistoryFile, logger)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer hist.Close()

			records, err := hist.Recent(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSESSION\tSOURCE\tDURATION\tRESULT")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Format(time.RFC3339), r.SessionKey, r.Source,
					r.Duration.Round(time.Millisecond), runResultLabel(r))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

// buildSchedule validates that exactly one schedule flag was given.
func buildSchedule(at, every, expr, tz string) (cron.Schedule, error) {
	given := 0
	for _, v := range []string{at, every, expr} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of --at, --every or --cron is required")
	}

	switch {
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("parse --at: %w", err)
		}
		return cron.Schedule{Kind: cron.KindAt, AtMs: t.UnixMilli()}, nil

	case every != "":
		n, unit, err := parseInterval(every)
		if err != nil {
			return cron.Schedule{}, err
		}
		return cron.Schedule{Kind: cron.KindEvery, Every: n, Unit: unit}, nil

	default:
		return cron.Schedule{Kind: cron.KindCron, Expr: expr, TZ: tz}, nil
	}
}

func buildPayload(message, eventText, channel, to string) (cron.Payload, error) {
	if (message == "") == (eventText == "") {
		return cron.Payload{}, fmt.Errorf("exactly one of --message or --event is required")
	}
	p := cron.Payload{}
	if message != "" {
		p.Kind = cron.PayloadAgentTurn
		p.Message = message
	} else {
		p.Kind = cron.PayloadSystemEvent
		p.Text = eventText
	}
	if channel != "" {
		p.Deliver = true
		p.Channel = channel
		p.To = to
	}
	return p, nil
}

// parseInterval splits "30m" into (30, "m"). Units: ms, s, m, h, d.
func parseInterval(s string) (int64, string, error) {
	i := len(s)
	for i > 0 && !('0' <= s[i-1] && s[i-1] <= '9') {
		i--
	}
	unit := s[i:]
	if unit == "" {
		unit = "ms"
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil || n <= 0 {
		return 0, "", fmt.Errorf("invalid interval %q", s)
	}
	switch unit {
	case "ms", "s", "m", "h", "d":
		return n, unit, nil
	}
	return 0, "", fmt.Errorf("invalid interval unit %q", unit)
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(time.RFC3339)
}

func runResultLabel(r history.Record) string {
	switch {
	case r.Killed:
		return "timeout"
	case r.ExitCode == nil:
		return "killed"
	case *r.ExitCode != 0:
		return fmt.Sprintf("exit %d", *r.ExitCode)
	}
	return "ok"
}
