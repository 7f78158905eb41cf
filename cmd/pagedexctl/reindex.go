package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

var (
	reindexWorkers   int
	reindexDryRun    bool
	reindexForce     bool
	reindexRecursive bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex [dir]",
	Short: "Index every supported file under a directory",
	Long: `Index every supported file under dir, or under documents.root when dir is
omitted. Relative directories resolve under documents.root.

Unchanged files are skipped unless --force is given. A file that fails is
reported and the run continues; the command exits non-zero when any file
failed.

Examples:
  # Full rebuild after reset-index
  pagedexctl reindex --force --workers 8

  # Preview what one division would index
  pagedexctl reindex DSI --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().IntVarP(&reindexWorkers, "workers", "w", 0, "parallel files (default ingest.workers)")
	reindexCmd.Flags().BoolVar(&reindexDryRun, "dry-run", false, "list the files without indexing them")
	reindexCmd.Flags().BoolVarP(&reindexForce, "force", "f", false, "re-index unchanged files")
	reindexCmd.Flags().BoolVarP(&reindexRecursive, "recursive", "r", true, "descend into subdirectories")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	var dir string
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withEngine(ctx, func(ctx context.Context, e engine) error {
		start := time.Now()
		out := cmd.OutOrStdout()

		report, err := e.Reindex(ctx, pagedex.ReindexOptions{
			Dir:       dir,
			Recursive: reindexRecursive,
			Force:     reindexForce,
			Workers:   reindexWorkers,
			DryRun:    reindexDryRun,
			OnFile: func(fr pagedex.FileResult) {
				switch {
				case fr.Err != nil:
					fmt.Fprintf(out, "FAILED   %s: %v\n", fr.Path, fr.Err)
				case fr.Result.Skipped:
					fmt.Fprintf(out, "skipped  %s\n", fr.Path)
				default:
					fmt.Fprintf(out, "indexed  %s (%d pages, %s)\n", fr.Path, fr.Result.Pages, fr.Result.Division)
				}
			},
		})
		if err != nil {
			return err
		}

		if reindexDryRun {
			for _, f := range report.Files {
				fmt.Fprintln(out, f)
			}
			fmt.Fprintf(out, "\n%d files would be indexed\n", len(report.Files))
			return nil
		}

		fmt.Fprintf(out, "\n%d files: %d indexed, %d skipped, %d failed in %s\n",
			len(report.Files), report.Indexed, report.Skipped, len(report.Failed),
			time.Since(start).Round(time.Millisecond))
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d files failed", len(report.Failed))
		}
		return nil
	}, workerOption()...)
}

func workerOption() []pagedex.Option {
	if reindexWorkers > 0 {
		return []pagedex.Option{pagedex.WithWorkers(reindexWorkers)}
	}
	return nil
}
