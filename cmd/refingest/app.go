package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/reference-ingestion/internal/config"
	"github.com/helixir/reference-ingestion/internal/ingestion"
	"github.com/helixir/reference-ingestion/internal/observability"
	"github.com/helixir/reference-ingestion/internal/papersources/pubmed"
	"github.com/helixir/reference-ingestion/internal/ris"
)

const metricsShutdownTimeout = 5 * time.Second

// options are the persistent flags. Flags override configuration only when
// set explicitly.
type options struct {
	offline      bool
	workers      int
	allowPartial bool
	metricsAddr  string
	compact      bool
}

// configError marks failures to load or apply configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// app holds the components shared by every command.
type app struct {
	opts options

	cfg      *config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	searcher *pubmed.SearchClient
	fetcher  *pubmed.FetchClient
	parser   *ris.Parser
	importer *ingestion.Importer

	metricsServer *http.Server
}

// init loads configuration, applies flag overrides and builds the clients.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return &configError{fmt.Errorf("load config: %w", err)}
	}
	a.applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return &configError{fmt.Errorf("invalid flags: %w", err)}
	}
	a.cfg = cfg

	a.logger = observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "cli").Str("command", cmd.Name()).Logger()

	pubmedCfg := pubmed.Config{
		BaseURL:      cfg.PubMed.BaseURL,
		Database:     cfg.PubMed.Database,
		APIKey:       cfg.PubMed.APIKey,
		Timeout:      cfg.PubMed.Timeout,
		RateLimit:    cfg.PubMed.RateLimit,
		BurstSize:    cfg.PubMed.BurstSize,
		PageSize:     cfg.PubMed.PageSize,
		BatchSize:    cfg.PubMed.BatchSize,
		MaxRetries:   cfg.PubMed.MaxRetries,
		RetryDelay:   cfg.PubMed.RetryDelay,
		Workers:      cfg.PubMed.Workers,
		Offline:      cfg.PubMed.Offline,
		AllowPartial: cfg.PubMed.AllowPartial,
		UserAgent:    cfg.PubMed.UserAgent,
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetricsWithRegistry(cfg.Metrics.Namespace, a.registry)
		pubmedCfg.Observer = a.metrics
		if err := a.serveMetrics(); err != nil {
			return &configError{err}
		}
	}

	tags, err := risTagMap(cfg.RIS)
	if err != nil {
		return &configError{err}
	}

	a.searcher = pubmed.NewSearchClient(pubmedCfg, a.logger)
	a.fetcher = pubmed.NewFetchClient(pubmedCfg, a.logger)
	a.parser = ris.NewParser(tags, a.logger)
	a.importer = ingestion.NewImporter(a.searcher, a.fetcher, a.parser, a.metrics, a.logger)
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("offline") {
		cfg.PubMed.Offline = a.opts.offline
	}
	if flags.Changed("workers") {
		cfg.PubMed.Workers = a.opts.workers
	}
	if flags.Changed("allow-partial") {
		cfg.PubMed.AllowPartial = a.opts.allowPartial
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = a.opts.metricsAddr
	}
}

// risTagMap assembles the RIS tag mapping: the standard tags, then the PubMed
// export tags when enabled, then configured extra tags, then the overlay file.
func risTagMap(cfg config.RISConfig) (ris.TagMap, error) {
	tags := ris.DefaultTagMap()
	if cfg.PubMedTags {
		tags = tags.With(ris.ExtraPubMedTags)
	}
	tags = tags.With(cfg.ExtraTags)

	if cfg.TagMapFile != "" {
		var err error
		if tags, err = ris.LoadTagMap(cfg.TagMapFile, tags); err != nil {
			return nil, err
		}
	}
	if err := tags.Validate(); err != nil {
		return nil, fmt.Errorf("ris tag map: %w", err)
	}
	return tags, nil
}

// serveMetrics exposes the registry while the command runs. The listener is
// opened synchronously so that a bad address fails the command.
func (a *app) serveMetrics() error {
	if a.cfg.Metrics.Address == "" {
		return nil
	}

	ln, err := net.Listen("tcp", a.cfg.Metrics.Address)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info().
			Str("address", ln.Addr().String()).
			Msg("metrics server starting")
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return nil
}

func (a *app) close() error {
	if a.metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	a.metricsServer = nil
	return nil
}
