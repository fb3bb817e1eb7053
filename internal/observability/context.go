package observability

import (
	"context"

	"github.com/rs/zerolog"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	importIDKey   contextKey = "import_id"
	importKindKey contextKey = "import_kind"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithImport adds the import ID and kind to the context.
func WithImport(ctx context.Context, importID, kind string) context.Context {
	ctx = context.WithValue(ctx, importIDKey, importID)
	ctx = context.WithValue(ctx, importKindKey, kind)
	return ctx
}

// ImportFromContext retrieves the import ID and kind from context.
// Returns empty strings if not present.
func ImportFromContext(ctx context.Context) (importID, kind string) {
	if v := ctx.Value(importIDKey); v != nil {
		if id, ok := v.(string); ok {
			importID = id
		}
	}
	if v := ctx.Value(importKindKey); v != nil {
		if k, ok := v.(string); ok {
			kind = k
		}
	}
	return importID, kind
}

// LoggerWithContext returns logger enriched with the request and import
// fields stored in ctx. Fields that are not set are left out.
func LoggerWithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logger = logger.With().Str("request_id", requestID).Logger()
	}
	if importID, kind := ImportFromContext(ctx); importID != "" || kind != "" {
		logger = WithImportContext(logger, importID, kind)
	}
	return logger
}
