// Package main implements pagedexctl, the offline administration CLI of a
// pagedex index.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	logpkg "github.com/kailas-cloud/pagedex/internal/logger"
	"github.com/kailas-cloud/pagedex/internal/version"
	pagedex "github.com/kailas-cloud/pagedex/pkg/sdk"
)

var (
	configFile    string
	envName       string
	documentsRoot string
	logLevel      string
)

// engine is the part of the embedded engine the commands use.
type engine interface {
	Reindex(ctx context.Context, opts pagedex.ReindexOptions) (pagedex.ReindexReport, error)
	InitIndex(ctx context.Context) (pagedex.IndexStamp, error)
	ResetIndex(ctx context.Context) (pagedex.IndexStamp, error)
	Search(ctx context.Context, req pagedex.SearchRequest) (pagedex.SearchResponse, error)
	Status(ctx context.Context) pagedex.Status
	Stats(ctx context.Context) (pagedex.Stats, error)
	Close() error
}

// openEngine is replaced in tests.
var openEngine = func(ctx context.Context, opts ...pagedex.Option) (engine, error) {
	return pagedex.New(ctx, opts...)
}

var rootCmd = &cobra.Command{
	Use:   "pagedexctl",
	Short: "Administration CLI for a pagedex index",
	Long: `pagedexctl opens the index described by a pagedex configuration file
directly, without the API server. Stop the server before running commands
that write to an embedded backend (chromem, sqlite).

The configuration is read from config/<ENV>.yaml unless --config is given.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "environment name (default $ENV or local)")
	rootCmd.PersistentFlags().StringVar(&documentsRoot, "root", "", "override documents.root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engineOptions turns the global flags into engine options.
func engineOptions(extra ...pagedex.Option) ([]pagedex.Option, error) {
	env := envName
	if env == "" {
		env = os.Getenv("ENV")
	}
	if env == "" {
		env = "local"
	}

	logger, err := logpkg.NewLogger(env, logLevel)
	if err != nil {
		return nil, err
	}

	opts := []pagedex.Option{pagedex.WithLogger(logger), pagedex.WithWatcher(false)}
	switch {
	case configFile != "":
		opts = append(opts, pagedex.WithConfigFile(configFile))
	default:
		opts = append(opts, pagedex.WithEnv(env))
	}
	if documentsRoot != "" {
		opts = append(opts, pagedex.WithDocumentsRoot(documentsRoot))
	}
	return append(opts, extra...), nil
}

// withEngine opens the engine, runs fn and closes it.
func withEngine(ctx context.Context, fn func(ctx context.Context, e engine) error, extra ...pagedex.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := engineOptions(extra...)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, opts...)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = e.Close() }()

	return fn(ctx, e)
}
