package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

var (
	searchLimit    int
	searchMode     string
	searchDivision string
	searchFileType string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed pages",
	Long: `Run a hybrid, semantic or keyword query against the index with
unrestricted access. Results are pages, best first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", string(pagedex.ModeHybrid), "hybrid, semantic or keyword")
	searchCmd.Flags().StringVarP(&searchDivision, "division", "d", pagedex.AllDivisions, "division code or all")
	searchCmd.Flags().StringVarP(&searchFileType, "type", "t", "", "file extension filter, e.g. pdf")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	return withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
		resp, err := e.Search(ctx, pagedex.SearchRequest{
			Query:    query,
			Mode:     pagedex.SearchMode(searchMode),
			Division: searchDivision,
			FileType: searchFileType,
			Limit:    searchLimit,
		})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if searchJSON {
			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal results: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printResults(cmd, &resp)
		return nil
	})
}

func printResults(cmd *cobra.Command, resp *pagedex.SearchResponse) {
	if resp.Degraded {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: degraded results (%s)\n\n", resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
		return
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s p.%d/%d  %s  (%.3f)\n", i+1, r.FileName, r.PageNumber, r.TotalPages, r.Division, r.Score)
		fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", r.FilePath)
		if r.Snippet != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", strings.ReplaceAll(r.Snippet, "\n", " "))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d results in %s\n", len(resp.Results), resp.Took.Round(time.Microsecond))
}
