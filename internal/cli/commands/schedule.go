package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/report"
	"github.com/dmarceye/internal/schedule"
	"github.com/spf13/cobra"
)

func NewScheduleCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Short:   "Recurring report schedule commands",
		Aliases: []string{"schedules"},
	}

	cmd.AddCommand(newScheduleAddCommand(open))
	cmd.AddCommand(newScheduleListCommand(open))
	cmd.AddCommand(newScheduleToggleCommand(open, "enable", true))
	cmd.AddCommand(newScheduleToggleCommand(open, "disable", false))

	return cmd
}

func newScheduleAddCommand(open StoreOpener) *cobra.Command {
	var (
		template   string
		title      string
		frequency  string
		domain     string
		recipients []string
		params     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := &models.ReportSchedule{
				Name:         args[0],
				Template:     template,
				Title:        title,
				Frequency:    frequency,
				Recipients:   recipients,
				DomainFilter: domain,
				Parameters:   params,
				Enabled:      true,
			}
			if err := schedule.NewValidator().Struct(rs); err != nil {
				return fmt.Errorf("invalid schedule: %v", err)
			}

			st, err := openStore(open)
			if err != nil {
				return err
			}
			if err := st.CreateSchedule(cmd.Context(), rs, now()); err != nil {
				return fmt.Errorf("failed to create schedule: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d created, first run %s\n", rs.ID, formatTime(rs.NextRunAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&template, "template", report.TemplateDomainSummary,
		"Report template ("+strings.Join(report.Templates, "/")+")")
	cmd.Flags().StringVar(&title, "title", "", "Report title")
	cmd.Flags().StringVarP(&frequency, "frequency", "f", "weekly", "daily, weekly, monthly or a cron expression")
	cmd.Flags().StringVar(&domain, "domain", "", "Only report on this domain")
	cmd.Flags().StringSliceVarP(&recipients, "recipients", "r", nil, "Email recipients")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Template parameters (days=N, limit=N)")
	cmd.MarkFlagRequired("recipients")

	return cmd
}

func newScheduleListCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List report schedules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(open)
			if err != nil {
				return err
			}
			schedules, err := st.ListSchedules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list schedules: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTEMPLATE\tFREQUENCY\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, rs := range schedules {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
					rs.ID,
					rs.Name,
					rs.Template,
					rs.Frequency,
					rs.Enabled,
					formatTime(rs.NextRunAt),
					rs.LastStatus,
				)
			}
			return w.Flush()
		},
	}
}

func newScheduleToggleCommand(open StoreOpener, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [schedule_id]",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a report schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(open)
			if err != nil {
				return err
			}
			if err := st.SetScheduleEnabled(cmd.Context(), id, enabled); err != nil {
				return fmt.Errorf("failed to %s schedule: %v", verb, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d %sd\n", id, verb)
			return nil
		},
	}
}
