// Package observability provides logging and metrics support for reference
// ingestion.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for source requests, imports and record issues
//   - Context helpers for propagating request and import identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stderr",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("term", term).Msg("search started")
//
// Add import context to logger:
//
//	logger = observability.WithImportContext(logger, importID, "search")
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("refingest")
//
// Metrics satisfy the request observer of the source clients, so passing
// them in the client configuration records every E-utilities call:
//
//	cfg.Observer = metrics
//
// # Standard Fields
//
// Common fields used across the module:
//
//   - request_id: Caller-supplied request identifier
//   - import_id: Import identifier
//   - import_kind: search, ids or ris
//   - source: Bibliographic source (PubMed, RIS)
//   - endpoint: Source endpoint (esearch, efetch)
//   - record_id: Record identifier, usually the PMID
//   - issue: Record-level issue kind
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
