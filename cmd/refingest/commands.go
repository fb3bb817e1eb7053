package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/ingestion"
	"github.com/helixir/reference-ingestion/internal/papersources/pubmed"
	httpserver "github.com/helixir/reference-ingestion/internal/server/http"
)

func newSearchCmd(a *app) *cobra.Command {
	var countOnly bool
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Resolve a PubMed search term to PMIDs",
		Long: `Resolve a PubMed search term to the full ordered list of matching PMIDs.

The output can be saved and compared with a later run using the diff command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := strings.Join(args, " ")
			if countOnly {
				count, err := a.searcher.Count(cmd.Context(), term)
				if err != nil {
					return err
				}
				return a.print(cmd, SearchResponse{Term: term, Count: count})
			}

			result, err := a.searcher.Search(cmd.Context(), term)
			if err != nil && len(result.IDs) == 0 {
				return err
			}
			a.metrics.RecordSearchResults(len(result.IDs))
			if perr := a.print(cmd, SearchResponse{
				Term:     term,
				Count:    len(result.IDs),
				IDs:      result.IDs,
				Requests: result.Requests,
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&countOnly, "count-only", false, "report only the number of matching records")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <pmid>... | -",
		Short: "Fetch PubMed records by PMID",
		Long: `Fetch PubMed records by PMID. With "-" the ids are read from stdin, either
whitespace separated or as the JSON written by the search command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int
			var err error
			if len(args) == 1 && args[0] == "-" {
				ids, err = readIDs(cmd.InOrStdin())
			} else {
				ids, err = parseIDs(args)
			}
			if err != nil {
				return err
			}
			imp, err := a.importer.ImportIDs(cmd.Context(), ids)
			return a.printImport(cmd, imp, err)
		},
	}
}

func newImportSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-search <term>",
		Short: "Search PubMed and fetch every matching record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imp, err := a.importer.ImportSearch(cmd.Context(), strings.Join(args, " "))
			return a.printImport(cmd, imp, err)
		},
	}
}

func newImportRISCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-ris <file|->",
		Short: "Parse an RIS export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return domain.NewValidationError("file", err.Error())
				}
				defer f.Close()
				r = f
			}
			imp, err := a.importer.ImportRIS(cmd.Context(), r)
			return a.printImport(cmd, imp, err)
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Compare two saved id lists",
		Long: `Compare two saved id lists and report the PMIDs added and removed.

Each file holds whitespace or comma separated ids, a JSON array of ids, or
the JSON written by the search command.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldIDs, err := readIDFile(args[0])
			if err != nil {
				return err
			}
			newIDs, err := readIDFile(args[1])
			if err != nil {
				return err
			}
			diff := pubmed.Diff(oldIDs, newIDs)
			return a.print(cmd, DiffResponse{
				Added:   diff.Added.Sorted(),
				Removed: diff.Removed.Sorted(),
			})
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP import API",
		Long: `Serve the HTTP import API until interrupted.

Routes:
  POST /api/v1/imports/search   {"term": "..."}
  POST /api/v1/imports/ids      {"ids": [1, 2, 3]}
  POST /api/v1/imports/ris      RIS file as the request body
  GET  /api/v1/searches/count   ?term=...
  POST /api/v1/searches/diff    {"old_ids": [...], "new_ids": [...]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			if cmd.Flags().Changed("addr") {
				cfg.Address = addr
			}
			srv := httpserver.NewServer(httpserver.Config{
				Address:         cfg.Address,
				ReadTimeout:     cfg.ReadTimeout,
				WriteTimeout:    cfg.WriteTimeout,
				IdleTimeout:     cfg.IdleTimeout,
				ShutdownTimeout: cfg.ShutdownTimeout,
				MaxUploadBytes:  cfg.MaxUploadBytes,
			}, a.importer, a.searcher, a.logger)
			return runServer(cmd.Context(), srv, cfg.ShutdownTimeout, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *httpserver.Server, shutdownTimeout time.Duration, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.logger.Info().
		Str("address", srv.Addr()).
		Bool("offline", a.cfg.PubMed.Offline).
		Msg("reference ingestion API is ready")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	return <-errCh
}

func (a *app) print(cmd *cobra.Command, v any) error {
	return outputJSON(cmd.OutOrStdout(), v, a.opts.compact)
}

// printImport writes the import even when it failed so that the outcome and
// any partial results reach the caller, then returns the import error.
func (a *app) printImport(cmd *cobra.Command, imp *ingestion.Import, err error) error {
	if imp != nil {
		if perr := a.print(cmd, ImportResponse{Import: imp, Message: imp.Summary()}); perr != nil {
			return perr
		}
	}
	return err
}

func readIDFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewValidationError("file", err.Error())
	}
	defer f.Close()

	ids, err := readIDs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// readIDs accepts the search command's JSON output, a JSON array, or
// separated ids.
func readIDs(r io.Reader) ([]int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}

	text := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(text, "{"):
		var resp SearchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, domain.NewValidationError("ids", "invalid JSON: "+err.Error())
		}
		return resp.IDs, nil
	case strings.HasPrefix(text, "["):
		var ids []int
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, domain.NewValidationError("ids", "invalid JSON: "+err.Error())
		}
		return ids, nil
	default:
		return parseIDs(strings.FieldsFunc(text, func(r rune) bool {
			return unicode.IsSpace(r) || r == ','
		}))
	}
}

func parseIDs(fields []string) ([]int, error) {
	ids := make([]int, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.Atoi(field)
		if err != nil {
			return nil, domain.NewValidationError("ids", fmt.Sprintf("invalid id %q", field))
		}
		ids = append(ids, id)
	}
	return ids, nil
}
