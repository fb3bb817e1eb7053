package httpserver

import (
	"github.com/helixir/reference-ingestion/internal/ingestion"
)

// Response types for JSON serialization.

type importResponse struct {
	*ingestion.Import
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

type countResponse struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

type diffResponse struct {
	Added   []int `json:"added"`
	Removed []int `json:"removed"`
}
