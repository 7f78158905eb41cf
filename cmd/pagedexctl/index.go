package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

var resetYes bool

var initIndexCmd = &cobra.Command{
	Use:   "init-index",
	Short: "Create the index backends and stamp them with the embedding model",
	Long: `Create the vector and keyword indexes when missing and record the configured
embedding model and dimension. Running it on an initialized index is a no-op.
It fails when the index was built with another model; use reset-index then.`,
	Args: cobra.NoArgs,
	RunE: runInitIndex,
}

var resetIndexCmd = &cobra.Command{
	Use:   "reset-index",
	Short: "Drop the index and re-stamp it with the configured embedding model",
	Long: `Drop every page from the vector and keyword indexes, forget the document
catalog and stamp the empty index with the configured embedding model.
Run reindex afterwards to rebuild it.`,
	Args: cobra.NoArgs,
	RunE: runResetIndex,
}

func init() {
	resetIndexCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm dropping the index")
	rootCmd.AddCommand(initIndexCmd)
	rootCmd.AddCommand(resetIndexCmd)
}

func runInitIndex(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
		st, err := e.InitIndex(ctx)
		if errors.Is(err, pagedex.ErrConfigurationMismatch) {
			return fmt.Errorf("%w\nthe index holds %s (%d dims); run pagedexctl reset-index --yes",
				err, st.Model, st.Dimensions)
		}
		if err != nil {
			return err
		}
		printStamp(cmd, st)
		return nil
	})
}

func runResetIndex(cmd *cobra.Command, _ []string) error {
	if !resetYes {
		return errors.New("reset-index drops every indexed page; pass --yes to confirm")
	}
	return withEngine(cmd.Context(), func(ctx context.Context, e engine) error {
		st, err := e.ResetIndex(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Index reset.")
		printStamp(cmd, st)
		return nil
	})
}

func printStamp(cmd *cobra.Command, st pagedex.IndexStamp) {
	fmt.Fprintf(cmd.OutOrStdout(), "model:      %s\n", st.Model)
	fmt.Fprintf(cmd.OutOrStdout(), "dimensions: %d\n", st.Dimensions)
	fmt.Fprintf(cmd.OutOrStdout(), "version:    %d\n", st.Version)
	if !st.CreatedAt.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "created:    %s\n", st.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
}
