package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmarceye/internal/alert"
	"github.com/dmarceye/internal/models"
	"github.com/spf13/cobra"
)

func NewRuleCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rule",
		Short:   "Alert rule commands",
		Aliases: []string{"rules"},
	}

	cmd.AddCommand(newRuleAddCommand(open))
	cmd.AddCommand(newRuleListCommand(open))
	cmd.AddCommand(newRuleDefaultsCommand(open))
	cmd.AddCommand(newRuleToggleCommand(open, "enable", true))
	cmd.AddCommand(newRuleToggleCommand(open, "disable", false))
	cmd.AddCommand(newRuleImportCommand(open))
	cmd.AddCommand(newRuleExportCommand(open))

	return cmd
}

func ruleManager(open StoreOpener) (*alert.RuleManager, error) {
	st, err := openStore(open)
	if err != nil {
		return nil, err
	}
	return alert.NewRuleManager(st), nil
}

func newRuleAddCommand(open StoreOpener) *cobra.Command {
	var (
		rule       models.AlertRule
		metric     string
		operator   string
		level      string
		recipients []string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Create an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}

			rule.Name = args[0]
			rule.Metric = models.Metric(metric)
			rule.Operator = models.Operator(operator)
			rule.Level = models.AlertLevel(strings.ToUpper(level))
			rule.Recipients = recipients
			rule.IsEnabled = true
			if err := rm.CreateRule(cmd.Context(), &rule); err != nil {
				return fmt.Errorf("failed to create rule: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d created\n", rule.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&rule.Description, "description", "", "Rule description")
	cmd.Flags().StringVar(&rule.Domain, "domain", "", "Only evaluate this domain (default: every domain)")
	cmd.Flags().StringVarP(&metric, "metric", "m", string(models.MetricDMARCFailureRate), "Metric to watch")
	cmd.Flags().StringVarP(&operator, "operator", "o", string(models.OperatorGT), "Comparison operator (>, <, >=, <=, ==)")
	cmd.Flags().Float64VarP(&rule.Threshold, "threshold", "t", 0, "Threshold value")
	cmd.Flags().IntVar(&rule.Window, "window", 86400, "Evaluation window in seconds")
	cmd.Flags().IntVar(&rule.MinMessages, "min-messages", 0, "Skip domains with fewer messages in the window")
	cmd.Flags().IntVar(&rule.CooldownPeriod, "cooldown", 3600, "Minimum seconds between alerts per domain")
	cmd.Flags().StringVarP(&level, "level", "l", string(models.AlertLevelWarning), "Alert level (info/warning/critical)")
	cmd.Flags().StringSliceVarP(&recipients, "recipients", "r", nil, "Email recipients (default: configured receivers)")
	cmd.MarkFlagRequired("threshold")

	return cmd
}

func newRuleListCommand(open StoreOpener) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List alert rules",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}

			var filter *bool
			if enabledOnly {
				filter = &enabledOnly
			}
			rules, err := rm.ListRules(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list rules: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tCONDITION\tLEVEL\tENABLED\tTRIGGERS\tLAST TRIGGERED")
			for _, r := range rules {
				domain := r.Domain
				if domain == "" {
					domain = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s %s %.2f\t%s\t%t\t%d\t%s\n",
					r.ID,
					r.Name,
					domain,
					r.Metric, r.Operator, r.Threshold,
					r.Level,
					r.IsEnabled,
					r.TriggerCount,
					formatTime(r.LastTriggered),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled rules")
	return cmd
}

func newRuleDefaultsCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Install the default rules when no rule exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}
			n, err := rm.CreateDefaultRules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to create default rules: %v", err)
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Rules already exist, nothing created")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d default rules created\n", n)
			return nil
		},
	}
}

func newRuleToggleCommand(open StoreOpener, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " [rule_id]",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an alert rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}

			if enabled {
				err = rm.EnableRule(cmd.Context(), id)
			} else {
				err = rm.DisableRule(cmd.Context(), id)
			}
			if err != nil {
				return fmt.Errorf("failed to %s rule: %v", verb, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rule %d %sd\n", id, verb)
			return nil
		},
	}
}

func newRuleImportCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import rules from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}
			n, err := rm.ImportRulesFromFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to import rules: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d rules imported\n", n)
			return nil
		},
	}
}

func newRuleExportCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export all rules to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := ruleManager(open)
			if err != nil {
				return err
			}
			if err := rm.ExportRulesToFile(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to export rules: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Rules exported to %s\n", args[0])
			return nil
		},
	}
}
