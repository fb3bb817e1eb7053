// Package main provides the refingest CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load .env file if present (for REFINGEST_PUBMED_API_KEY)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// newRootCmd builds the command tree. The application is assembled once the
// flags are parsed and torn down after the command runs.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "refingest",
		Short: "Bibliographic reference ingestion",
		Long: `refingest imports bibliographic references from PubMed and from RIS files.

Search terms are resolved to PMIDs through E-utilities esearch and the
records are fetched in batches through efetch. RIS exports from reference
managers are parsed locally. Every path produces the same reference shape.

The serve command exposes the same imports over HTTP.

Configuration is read from config.yaml and REFINGEST_* environment variables.
All commands write JSON to stdout.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&a.opts.offline, "offline", false, "return placeholder references instead of calling PubMed")
	flags.IntVar(&a.opts.workers, "workers", 0, "number of concurrent efetch requests")
	flags.BoolVar(&a.opts.allowPartial, "allow-partial", false, "keep references gathered before an interruption")
	flags.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	flags.BoolVar(&a.opts.compact, "compact", false, "write compact JSON")

	root.AddCommand(
		newSearchCmd(a),
		newFetchCmd(a),
		newImportSearchCmd(a),
		newImportRISCmd(a),
		newDiffCmd(a),
		newServeCmd(a),
	)
	return root
}
