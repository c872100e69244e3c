package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/settings-crawler/internal/observability"
	"github.com/xkilldash9x/settings-crawler/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var startURL string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the local history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			h, err := store.OpenHistory(cfg.History.Dir)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close() }()

			observability.GetLogger().Debug("Reading history.")
			return listHistory(ctx, h, startURL, limit, cmd.OutOrStdout())
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	historyCmd.Flags().StringVar(&startURL, "url", "", "Only show runs against this start URL")
	return historyCmd
}

// listHistory prints runs as an aligned table, newest first.
func listHistory(ctx context.Context, h *store.History, startURL string, limit int, out io.Writer) error {
	entries, err := h.Recent(ctx, startURL, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tRUN ID\tSTART URL\tSUCCESS\tCLICKS\tCONTROLS\tPATH / REASON")
	for _, e := range entries {
		detail := strings.Join(e.Path, " > ")
		if !e.Success {
			detail = e.Reason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%s\n",
			e.FinishedAt.Local().Format("2006-01-02 15:04"),
			e.RunID, e.StartURL, e.Success, e.ClickCount, e.Controls, detail)
	}
	return tw.Flush()
}
