package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend health, the index stamp and catalog counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
		st := e.Status(ctx)
		stats, err := e.Stats(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			data, err := json.MarshalIndent(struct {
				Status pagedex.Status `json:"status"`
				Stats  pagedex.Stats  `json:"stats"`
			}{st, stats}, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		fmt.Fprintf(cmd.OutOrStdout(), "status:     %s\n", st.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "vector:     %s (%s)\n", st.VectorBackend, connected(st.VectorConnected))
		fmt.Fprintf(cmd.OutOrStdout(), "keyword:    %s (%s)\n", st.KeywordBackend, connected(st.KeywordConnected))
		fmt.Fprintf(cmd.OutOrStdout(), "embedding:  %s\n", connected(st.EmbeddingConnected))
		fmt.Fprintf(cmd.OutOrStdout(), "stamp:      %s, %d dims\n", st.Stamp.Model, st.Stamp.Dimensions)
		if st.StampError != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "            %s\n", st.StampError)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pages:      %d\n", stats.TotalPages)
		fmt.Fprintf(cmd.OutOrStdout(), "documents:  %d\n", stats.TotalDocuments)
		printCounts(cmd, "by status", stats.DocumentsByStatus)
		printCounts(cmd, "by division", stats.DocumentsByDivision)
		return nil
	})
}

func connected(ok bool) string {
	if ok {
		return "connected"
	}
	return "unreachable"
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "    %-10s %d\n", k, counts[k])
	}
}
