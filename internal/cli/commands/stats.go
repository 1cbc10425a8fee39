package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmarceye/internal/store"
	"github.com/spf13/cobra"
)

func NewStatsCommand(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Report store statistics",
		Aliases: []string{"stat"},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(open)
			if err != nil {
				return err
			}
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get stats: %v", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TYPE\tREPORTS\tOLDEST\tNEWEST")
			for _, row := range []struct {
				name string
				ts   store.TypeStats
			}{
				{"aggregate", stats.Aggregate},
				{"forensic", stats.Forensic},
				{"tls", stats.TLS},
			} {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", row.name, row.ts.Count, formatDay(row.ts.Oldest), formatDay(row.ts.Newest))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nIncidents: %d\nReport generations: %d\nSchedules: %d\nDigests: %d\n",
				stats.Incidents, stats.Generations, stats.Schedules, stats.Digests)
			return nil
		},
	}

	return cmd
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}
