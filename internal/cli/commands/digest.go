package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/schedule"
	"github.com/spf13/cobra"
)

func NewDigestCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "digest",
		Short:   "Digest subscription commands",
		Aliases: []string{"digests"},
	}

	cmd.AddCommand(newDigestAddCommand(open))
	cmd.AddCommand(newDigestListCommand(open))
	cmd.AddCommand(newDigestDisableCommand(open))

	return cmd
}

func newDigestAddCommand(open StoreOpener) *cobra.Command {
	var (
		cadence    string
		domain     string
		recipients []string
	)

	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Subscribe recipients to a summary digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &models.DigestSubscription{
				Name:         args[0],
				Cadence:      cadence,
				Recipients:   recipients,
				DomainFilter: domain,
				Enabled:      true,
			}
			if err := schedule.NewValidator().Struct(d); err != nil {
				return fmt.Errorf("invalid digest: %v", err)
			}

			st, err := openStore(open)
			if err != nil {
				return err
			}
			if err := st.CreateDigest(cmd.Context(), d, now()); err != nil {
				return fmt.Errorf("failed to create digest: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Digest %d created, first run %s\n", d.ID, formatTime(d.NextRunAt))
			return nil
		},
	}

	cmd.Flags().StringVarP(&cadence, "cadence", "c", "daily", "daily, weekly, monthly or a cron expression")
	cmd.Flags().StringVar(&domain, "domain", "", "Only summarise this domain")
	cmd.Flags().StringSliceVarP(&recipients, "recipients", "r", nil, "Email recipients")
	cmd.MarkFlagRequired("recipients")

	return cmd
}

func newDigestListCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List digest subscriptions",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(open)
			if err != nil {
				return err
			}
			digests, err := st.ListDigests(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list digests: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCADENCE\tRECIPIENTS\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, d := range digests {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\t%s\n",
					d.ID,
					d.Name,
					d.Cadence,
					strings.Join(d.Recipients, ","),
					d.Enabled,
					formatTime(d.NextRunAt),
					d.LastStatus,
				)
			}
			return w.Flush()
		},
	}
}

func newDigestDisableCommand(open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "disable [digest_id]",
		Short: "Stop sending a digest",
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
			if err := st.SetDigestEnabled(cmd.Context(), id, false); err != nil {
				return fmt.Errorf("failed to disable digest: %v", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Digest %d disabled\n", id)
			return nil
		},
	}
}
