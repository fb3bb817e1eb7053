// Package ris parses RIS bibliographic exports into canonical references.
package ris

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/authorname"
	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
)

// Candidate fields, in priority order.
var (
	titleFields    = []string{FieldTranslatedTitle, FieldTitle, FieldPrimaryTitle, FieldSecondaryTitle, FieldTertiaryTitle, FieldShortTitle}
	abstractFields = []string{FieldAbstract, FieldAbstract2, FieldNotesAbstract}
	authorFields   = []string{FieldAuthors, FieldFirstAuthors, FieldSecondaryAuthors, FieldTertiaryAuthors, FieldSubsidiaryAuthors}
)

// Parser converts RIS text into references. It holds no mutable state and is
// safe for concurrent use.
type Parser struct {
	tags   TagMap
	logger zerolog.Logger
}

// NewParser creates a parser using tags. A nil tag map means the standard
// mapping plus ExtraPubMedTags.
func NewParser(tags TagMap, logger zerolog.Logger) *Parser {
	if tags == nil {
		tags = DefaultTagMap().With(ExtraPubMedTags)
	}
	return &Parser{tags: tags, logger: logger}
}

// Tags returns the tag map the parser uses.
func (p *Parser) Tags() TagMap {
	return p.tags.With(nil)
}

// Parse reads every record from r. A framing problem anywhere in the input is
// a structural error and no references are returned. Once the input is well
// framed every record yields exactly one reference; field problems are
// reported as issues.
func (p *Parser) Parse(r io.Reader) (*domain.Batch, error) {
	records, err := NewScanner(r, p.tags).All()
	if err != nil {
		return nil, err
	}

	batch := &domain.Batch{References: make([]domain.Reference, 0, len(records))}
	for i, rec := range records {
		ref, issues := p.ParseRecord(rec, i+1)
		batch.References = append(batch.References, ref)
		batch.Issues = append(batch.Issues, issues...)
	}

	p.logger.Debug().
		Int("records", len(records)).
		Int("issues", len(batch.Issues)).
		Msg("parsed RIS input")
	return batch, nil
}

// ParseString parses RIS text held in a string.
func (p *Parser) ParseString(s string) (*domain.Batch, error) {
	return p.Parse(strings.NewReader(s))
}

// ParseRecord builds the reference for rec, the n-th record of its file.
func (p *Parser) ParseRecord(rec *Record, n int) (domain.Reference, []domain.Issue) {
	pmid := pubMedID(rec)
	year, rawYear := publicationYear(rec)

	sink := &issueSink{recordID: recordID(rec, pmid, n)}
	ref := domain.Reference{
		ExternalID:      pmid,
		Title:           rec.First(titleFields...),
		Abstract:        rec.First(abstractFields...),
		Year:            year,
		DOI:             domain.StringPtr(trimDOI(rec.First(FieldDOI))),
		Authors:         recordAuthors(rec),
		AccessionNumber: accessionNumber(rec),
		Raw:             domain.RawPayload{Format: domain.RawFormatRIS, Data: []byte(rec.Raw())},
	}

	if ref.Title == "" {
		sink.add(domain.IssueDegradedField, "record has no title")
	}
	switch {
	case rawYear == "":
		sink.add(domain.IssueDegradedField, "record has no year")
	case year == nil:
		sink.add(domain.IssueDegradedField, fmt.Sprintf("year %q has no four-digit year", rawYear))
	}

	refType := ParseReferenceType(rec.Type)
	yearText := ""
	if year != nil {
		yearText = strconv.Itoa(*year)
	}
	cite, ok := citation(refType, rec, yearText)
	if !ok {
		sink.add(domain.IssueUnrecognizedType, fmt.Sprintf("unrecognized reference type %q", rec.Type))
	}
	ref.Citation = cite

	for _, issue := range sink.issues {
		p.report(issue)
	}
	observability.WithRecordContext(p.logger, sink.recordID).Debug().
		Stringer("type", refType).
		Int("line", rec.Line).
		Msg("parsed record")

	return domain.NewReference(ref), sink.issues
}

func (p *Parser) report(issue domain.Issue) {
	observability.WithRecordContext(p.logger, issue.RecordID).Warn().
		Str("source", sourceName).
		Str("issue", string(issue.Kind)).
		Msg(issue.Message)
}

// recordAuthors merges the author fields in declared order, normalized. A
// name listed under two fields appears twice.
func recordAuthors(rec *Record) []string {
	var out []string
	for _, field := range authorFields {
		for _, raw := range rec.Values(field) {
			if name := authorname.Normalize(raw); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// recordID labels a record in issues: its ID tag, else its PMID, else its
// position in the file.
func recordID(rec *Record, pmid *int, n int) string {
	if id := rec.First(FieldID); id != "" {
		return id
	}
	if pmid != nil {
		return strconv.Itoa(*pmid)
	}
	return "#" + strconv.Itoa(n)
}

type issueSink struct {
	recordID string
	issues   []domain.Issue
}

func (s *issueSink) add(kind domain.IssueKind, message string) {
	s.issues = append(s.issues, domain.Issue{RecordID: s.recordID, Kind: kind, Message: message})
}
