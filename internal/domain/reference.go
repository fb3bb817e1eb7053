// Package domain defines the canonical reference model shared by every
// ingestion path, together with the error taxonomy used to report failures.
package domain

import (
	"strconv"
	"strings"

	"github.com/helixir/reference-ingestion/internal/authorname"
)

// RawFormat identifies the encoding of a retained source fragment.
type RawFormat string

// Raw payload formats.
const (
	RawFormatXML RawFormat = "xml"
	RawFormatRIS RawFormat = "ris"
)

// RawPayload is the original source fragment a Reference was built from.
// It is kept for audit and debugging and never interpreted further.
type RawPayload struct {
	Format RawFormat `json:"format"`
	Data   []byte    `json:"data"`
}

// String returns the payload as text.
func (p RawPayload) String() string {
	return string(p.Data)
}

// Reference is the canonical bibliographic record produced by both the
// literature database path and the RIS upload path.
//
// A Reference is a value: construct it with NewReference and do not mutate
// it afterwards. Title, Abstract and Citation are empty strings when the
// source did not provide them; ExternalID, Year and DOI are nil when absent.
type Reference struct {
	ExternalID      *int       `json:"external_id"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract"`
	Citation        string     `json:"citation"`
	Year            *int       `json:"year"`
	DOI             *string    `json:"doi"`
	Authors         []string   `json:"authors"`
	AuthorsShort    string     `json:"authors_short"`
	AccessionNumber string     `json:"accession_number,omitempty"`
	Raw             RawPayload `json:"raw"`
}

// NewReference finalizes r: it detaches slices from the caller, derives
// AuthorsShort from Authors and lower-cases the DOI.
func NewReference(r Reference) Reference {
	authors := make([]string, len(r.Authors))
	copy(authors, r.Authors)
	r.Authors = authors
	r.AuthorsShort = authorname.ShortCitation(authors)

	if r.DOI != nil {
		doi := strings.ToLower(strings.TrimSpace(*r.DOI))
		if doi == "" {
			r.DOI = nil
		} else {
			r.DOI = &doi
		}
	}

	if r.ExternalID != nil {
		id := *r.ExternalID
		r.ExternalID = &id
	}
	if r.Year != nil {
		year := *r.Year
		r.Year = &year
	}

	if r.Raw.Data != nil {
		data := make([]byte, len(r.Raw.Data))
		copy(data, r.Raw.Data)
		r.Raw.Data = data
	}

	return r
}

// HasExternalID returns true if the source database identifier is known.
func (r Reference) HasExternalID() bool {
	return r.ExternalID != nil
}

// RecordID returns a label suitable for logs: the external id when known,
// otherwise the fallback.
func (r Reference) RecordID(fallback string) string {
	if r.ExternalID != nil {
		return strconv.Itoa(*r.ExternalID)
	}
	return fallback
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to v, or nil when v is blank.
func StringPtr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
