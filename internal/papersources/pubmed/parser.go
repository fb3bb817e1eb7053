package pubmed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/reference-ingestion/internal/authorname"
	"github.com/helixir/reference-ingestion/internal/domain"
	"github.com/helixir/reference-ingestion/internal/observability"
)

const (
	// ArticleSetTag is the root element of every efetch response.
	ArticleSetTag = "PubmedArticleSet"

	// ArticleTag and BookArticleTag are the record kinds the parser understands.
	ArticleTag     = "PubmedArticle"
	BookArticleTag = "PubmedBookArticle"

	// AbstractSectionSeparator joins the labeled sections of a structured abstract.
	AbstractSectionSeparator = "<br>"
)

// ErrUnknownRecordKind is returned by ParseRecord for elements that are not
// article or book records.
var ErrUnknownRecordKind = errors.New("unknown record kind")

var (
	yearPattern = regexp.MustCompile(`\d{4}`)
	pmidPattern = regexp.MustCompile(`<PMID[^>]*>\s*(\d+)\s*</PMID>`)
)

// RecordKind identifies the shape of a parsed record.
type RecordKind int

const (
	KindArticle RecordKind = iota + 1
	KindBook
	KindBookChapter
)

// String returns the log name of the kind.
func (k RecordKind) String() string {
	switch k {
	case KindArticle:
		return "article"
	case KindBook:
		return "book"
	case KindBookChapter:
		return "book_chapter"
	default:
		return "unknown"
	}
}

// record is the decoded form of one efetch child element.
type record interface {
	kind() RecordKind
	pmid() string
}

type articleRecord struct {
	PubmedArticle
}

func (r *articleRecord) kind() RecordKind { return KindArticle }
func (r *articleRecord) pmid() string     { return strings.TrimSpace(r.MedlineCitation.PMID.Value) }

type bookRecord struct {
	PubmedBookArticle
}

func (r *bookRecord) kind() RecordKind {
	if r.chapterTitle() != "" {
		return KindBookChapter
	}
	return KindBook
}

func (r *bookRecord) pmid() string { return strings.TrimSpace(r.BookDocument.PMID.Value) }

func (r *bookRecord) chapterTitle() string {
	if r.BookDocument.ArticleTitle == nil {
		return ""
	}
	return r.BookDocument.ArticleTitle.Text()
}

// RecordParser converts efetch XML into references. It holds no mutable
// state and is safe for concurrent use.
type RecordParser struct {
	logger zerolog.Logger
}

// NewRecordParser creates a parser that reports record-level issues to logger.
func NewRecordParser(logger zerolog.Logger) *RecordParser {
	return &RecordParser{logger: logger.With().Str("source", sourceName).Logger()}
}

// ParseDocument parses a complete efetch response. The root element must be
// PubmedArticleSet; anything else is a structural error and no references
// are returned. Each child element is parsed on its own so a broken record
// only degrades itself.
func (p *RecordParser) ParseDocument(data []byte) (*domain.Batch, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	root, err := firstElement(dec)
	if err != nil {
		return nil, domain.NewStructuralError(sourceName, "<"+ArticleSetTag+">", "", err)
	}
	if root.Name.Local != ArticleSetTag {
		return nil, domain.NewStructuralError(sourceName, "<"+ArticleSetTag+">", "<"+root.Name.Local+">", nil)
	}

	batch := &domain.Batch{References: []domain.Reference{}}
	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return nil, domain.NewStructuralError(sourceName, "</"+ArticleSetTag+">", "truncated document", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := dec.Skip(); err != nil {
				return nil, domain.NewStructuralError(sourceName, "well-formed <"+t.Name.Local+">", "malformed element", err)
			}
			raw := data[start:dec.InputOffset()]

			ref, issues, err := p.ParseRecord(t.Name.Local, raw)
			if errors.Is(err, ErrUnknownRecordKind) {
				issue := domain.Issue{
					Kind:    domain.IssueUnknownRecordKind,
					Message: fmt.Sprintf("skipped <%s> element", t.Name.Local),
				}
				p.report(issue)
				batch.Issues = append(batch.Issues, issue)
				continue
			}
			batch.References = append(batch.References, ref)
			batch.Issues = append(batch.Issues, issues...)
		case xml.EndElement:
			return batch, nil
		}
	}
}

// ParseRecord parses a single record element named name. It returns
// ErrUnknownRecordKind for tags other than PubmedArticle and
// PubmedBookArticle. Any other problem degrades the reference and is reported
// as an issue; the returned error is nil in that case.
func (p *RecordParser) ParseRecord(name string, data []byte) (domain.Reference, []domain.Issue, error) {
	var rec record
	switch name {
	case ArticleTag:
		rec = &articleRecord{}
	case BookArticleTag:
		rec = &bookRecord{}
	default:
		return domain.Reference{}, nil, fmt.Errorf("%w: <%s>", ErrUnknownRecordKind, name)
	}

	if err := xml.Unmarshal(data, rec); err != nil {
		ref, issue := unparsable(data, err)
		p.report(issue)
		return ref, []domain.Issue{issue}, nil
	}

	sink := &issueSink{recordID: rec.pmid()}
	var ref domain.Reference
	switch r := rec.(type) {
	case *articleRecord:
		ref = articleReference(r, sink)
	case *bookRecord:
		ref = bookReference(r, sink)
	}
	ref.Raw = domain.RawPayload{Format: domain.RawFormatXML, Data: data}

	for _, issue := range sink.issues {
		p.report(issue)
	}
	observability.WithRecordContext(p.logger, sink.recordID).Debug().
		Stringer("kind", rec.kind()).
		Msg("parsed record")

	return domain.NewReference(ref), sink.issues, nil
}

func (p *RecordParser) report(issue domain.Issue) {
	observability.WithRecordContext(p.logger, issue.RecordID).Warn().
		Str("issue", string(issue.Kind)).
		Msg(issue.Message)
}

// unparsable builds the degraded reference for a record whose body could not
// be decoded. The raw bytes are kept and the PMID is recovered when possible.
func unparsable(data []byte, err error) (domain.Reference, domain.Issue) {
	ref := domain.Reference{Raw: domain.RawPayload{Format: domain.RawFormatXML, Data: data}}
	recordID := ""
	if m := pmidPattern.FindSubmatch(data); m != nil {
		recordID = string(m[1])
		if id, convErr := strconv.Atoi(recordID); convErr == nil {
			ref.ExternalID = domain.IntPtr(id)
		}
	}
	issue := domain.Issue{
		RecordID: recordID,
		Kind:     domain.IssueUnparsableRecord,
		Message:  "record body could not be decoded: " + err.Error(),
	}
	return domain.NewReference(ref), issue
}

// firstElement advances dec to the root element, skipping the prolog.
func firstElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.StartElement{}, errors.New("document has no root element")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

type issueSink struct {
	recordID string
	issues   []domain.Issue
}

func (s *issueSink) degraded(format string, args ...any) {
	s.issues = append(s.issues, domain.Issue{
		RecordID: s.recordID,
		Kind:     domain.IssueDegradedField,
		Message:  fmt.Sprintf(format, args...),
	})
}

func articleReference(r *articleRecord, sink *issueSink) domain.Reference {
	article := r.MedlineCitation.Article
	issue := article.Journal.JournalIssue

	ref := domain.Reference{
		ExternalID: externalID(r.pmid(), sink),
		Title:      article.ArticleTitle.Text(),
		Abstract:   abstractText(article.Abstract),
		Year:       articleYear(issue.PubDate),
		DOI:        doi(r.PubmedData.ArticleIdList, article.ELocationID),
	}
	ref.Authors = authors(sink, article.AuthorList)
	ref.Citation = fmt.Sprintf("%s %s; %s (%s):%s",
		strings.TrimSpace(article.Journal.ISOAbbreviation),
		yearString(ref.Year),
		strings.TrimSpace(issue.Volume),
		strings.TrimSpace(issue.Issue),
		pages(article.Pagination),
	)

	if ref.Title == "" {
		sink.degraded("article has no title")
	}
	if ref.Year == nil {
		sink.degraded("article has no publication year")
	}
	return ref
}

func bookReference(r *bookRecord, sink *issueSink) domain.Reference {
	doc := r.BookDocument
	book := doc.Book

	ref := domain.Reference{
		ExternalID: externalID(r.pmid(), sink),
		Abstract:   abstractText(doc.Abstract),
		Year:       parseYear(book.PubDate.Year),
		DOI:        doi(doc.ArticleIdList, nil),
	}
	if ref.DOI == nil {
		ref.DOI = doi(r.PubmedBookData.ArticleIdList, nil)
	}

	lists := make([]AuthorList, 0, len(book.AuthorList)+len(doc.AuthorList))
	lists = append(lists, book.AuthorList...)
	lists = append(lists, doc.AuthorList...)
	ref.Authors = dedupe(authors(sink, lists))

	bookTitle := book.BookTitle.Text()
	qualifier := ""
	switch r.kind() {
	case KindBookChapter:
		ref.Title = r.chapterTitle()
		qualifier = bookTitle
	case KindBook:
		ref.Title = bookTitle
	}

	if book.CollectionTitle != nil && book.CollectionTitle.Text() != "" {
		ref.Citation = book.CollectionTitle.Text()
	} else {
		ref.Citation = strings.TrimSpace(fmt.Sprintf("%s (%s). %s: %s.",
			qualifier,
			yearString(ref.Year),
			strings.TrimSpace(book.Publisher.PublisherLocation),
			strings.TrimSpace(book.Publisher.PublisherName),
		))
	}

	if ref.Title == "" {
		sink.degraded("%s has no title", r.kind())
	}
	if ref.Year == nil {
		sink.degraded("%s has no publication year", r.kind())
	}
	return ref
}

func externalID(pmid string, sink *issueSink) *int {
	if pmid == "" {
		sink.degraded("record has no PMID")
		return nil
	}
	id, err := strconv.Atoi(pmid)
	if err != nil {
		sink.degraded("PMID %q is not numeric", pmid)
		return nil
	}
	return domain.IntPtr(id)
}

// abstractText renders an abstract. A single section is returned as its
// text; several sections are rendered as "LABEL: text" and joined with
// AbstractSectionSeparator.
func abstractText(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}
	if len(abstract.AbstractTexts) == 1 {
		return flatten(abstract.AbstractTexts[0].Inner)
	}

	parts := make([]string, 0, len(abstract.AbstractTexts))
	for _, section := range abstract.AbstractTexts {
		text := flatten(section.Inner)
		if text == "" {
			continue
		}
		if label := strings.TrimSpace(section.Label); label != "" {
			text = label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, AbstractSectionSeparator)
}

// articleYear prefers PubDate/Year and falls back to the first four digit
// run of MedlineDate, e.g. "1998 Dec-1999 Jan".
func articleYear(date PubDate) *int {
	if year := parseYear(date.Year); year != nil {
		return year
	}
	if m := yearPattern.FindString(date.MedlineDate); m != "" {
		return parseYear(m)
	}
	return nil
}

func parseYear(s string) *int {
	year, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return domain.IntPtr(year)
}

func yearString(year *int) string {
	if year == nil {
		return ""
	}
	return strconv.Itoa(*year)
}

// doi returns the first DOI in ids, falling back to a DOI ELocationID.
func doi(ids ArticleIdList, locations []ELocationID) *string {
	for _, aid := range ids.ArticleIds {
		if strings.EqualFold(aid.IdType, "doi") {
			if v := domain.StringPtr(aid.Value); v != nil {
				return v
			}
		}
	}
	for _, eloc := range locations {
		if strings.EqualFold(eloc.EIdType, "doi") && eloc.Valid != "N" {
			if v := domain.StringPtr(eloc.Value); v != nil {
				return v
			}
		}
	}
	return nil
}

// authors extracts "LastName Initials" for personal authors and the verbatim
// name for collective authors. Entries with neither are skipped.
func authors(sink *issueSink, lists []AuthorList) []string {
	var out []string
	for _, list := range lists {
		for i, a := range list.Authors {
			if a.ValidYN == "N" {
				continue
			}
			last := strings.TrimSpace(a.LastName)
			switch {
			case last != "":
				name := last
				if initials := strings.TrimSpace(a.Initials); initials != "" {
					name += " " + initials
				}
				out = append(out, authorname.Normalize(name))
			case a.CollectiveName.Text() != "":
				out = append(out, a.CollectiveName.Text())
			default:
				sink.degraded("author %d has neither a last name nor a collective name", i+1)
			}
		}
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// pages formats the page information.
func pages(pagination *Pagination) string {
	if pagination == nil {
		return ""
	}

	if pagination.MedlinePgn != "" {
		return strings.TrimSpace(pagination.MedlinePgn)
	}

	if pagination.StartPage != "" {
		if pagination.EndPage != "" && pagination.EndPage != pagination.StartPage {
			return pagination.StartPage + "-" + pagination.EndPage
		}
		return pagination.StartPage
	}

	return ""
}
