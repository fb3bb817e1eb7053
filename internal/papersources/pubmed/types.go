// Package pubmed provides clients for the NCBI PubMed E-utilities API.
//
// SearchClient resolves a query term to the full list of matching PMIDs via
// esearch.fcgi, and FetchClient retrieves the records for a list of PMIDs via
// efetch.fcgi and turns every returned record into a domain.Reference with
// RecordParser.
//
// The E-utilities API documentation is available at:
// https://www.ncbi.nlm.nih.gov/books/NBK25499/
package pubmed

import (
	"encoding/xml"
	"html"
	"io"
	"strings"

	strip "github.com/grokify/html-strip-tags-go"
)

// ESearchResult represents the response from the esearch.fcgi endpoint.
// With rettype=count only Count is populated.
type ESearchResult struct {
	XMLName   xml.Name   `xml:"eSearchResult"`
	Count     string     `xml:"Count"`
	RetMax    string     `xml:"RetMax"`
	RetStart  string     `xml:"RetStart"`
	IDList    IDList     `xml:"IdList"`
	ErrorList *ErrorList `xml:"ErrorList,omitempty"`
	Error     string     `xml:"ERROR,omitempty"`
}

// IDList contains the list of PMIDs returned by a search.
type IDList struct {
	IDs []string `xml:"Id"`
}

// ErrorList contains errors from the E-utilities API.
type ErrorList struct {
	PhraseNotFound []string `xml:"PhraseNotFound,omitempty"`
	FieldNotFound  []string `xml:"FieldNotFound,omitempty"`
}

// Markup holds element content that may carry inline formatting such as
// <i>, <sup> or <b>.
type Markup struct {
	Inner string `xml:",innerxml"`
}

// Text returns the content with inline tags removed, CDATA sections
// unwrapped, entities decoded and whitespace collapsed.
func (m Markup) Text() string {
	return flatten(m.Inner)
}

func flatten(s string) string {
	if s == "" {
		return ""
	}
	text, err := charData(s)
	if err != nil {
		// Not well-formed; fall back to tag stripping.
		text = html.UnescapeString(strip.StripTags(s))
	}
	return strings.Join(strings.Fields(text), " ")
}

// charData concatenates the character data of an inner-XML fragment.
func charData(fragment string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader("<markup>" + fragment + "</markup>"))
	dec.Entity = xml.HTMLEntity

	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if text, ok := tok.(xml.CharData); ok {
			b.Write(text)
		}
	}
}

// PubmedArticle represents a single journal article record.
type PubmedArticle struct {
	XMLName         xml.Name        `xml:"PubmedArticle"`
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
	PubmedData      PubmedData      `xml:"PubmedData"`
}

// MedlineCitation contains the core bibliographic information.
type MedlineCitation struct {
	PMID    PMID    `xml:"PMID"`
	Article Article `xml:"Article"`
}

// PMID represents the PubMed identifier with optional version.
type PMID struct {
	Version int    `xml:"Version,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Article contains the article metadata.
type Article struct {
	Journal      Journal       `xml:"Journal"`
	ArticleTitle Markup        `xml:"ArticleTitle"`
	Pagination   *Pagination   `xml:"Pagination,omitempty"`
	ELocationID  []ELocationID `xml:"ELocationID,omitempty"`
	Abstract     *Abstract     `xml:"Abstract,omitempty"`
	AuthorList   []AuthorList  `xml:"AuthorList,omitempty"`
}

// Journal contains journal information.
type Journal struct {
	JournalIssue    JournalIssue `xml:"JournalIssue"`
	Title           string       `xml:"Title,omitempty"`
	ISOAbbreviation string       `xml:"ISOAbbreviation,omitempty"`
}

// JournalIssue contains the volume, issue, and publication date.
type JournalIssue struct {
	Volume  string  `xml:"Volume,omitempty"`
	Issue   string  `xml:"Issue,omitempty"`
	PubDate PubDate `xml:"PubDate"`
}

// PubDate represents the publication date which may have various formats.
type PubDate struct {
	Year        string `xml:"Year,omitempty"`
	Month       string `xml:"Month,omitempty"`
	Season      string `xml:"Season,omitempty"`
	MedlineDate string `xml:"MedlineDate,omitempty"`
}

// Pagination contains page information.
type Pagination struct {
	StartPage  string `xml:"StartPage,omitempty"`
	EndPage    string `xml:"EndPage,omitempty"`
	MedlinePgn string `xml:"MedlinePgn,omitempty"`
}

// ELocationID represents an electronic location identifier (DOI or PII).
type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	Valid   string `xml:"ValidYN,attr,omitempty"`
	Value   string `xml:",chardata"`
}

// Abstract contains the abstract, which may have multiple labeled sections.
type Abstract struct {
	AbstractTexts []AbstractText `xml:"AbstractText"`
}

// AbstractText represents a section of the abstract.
type AbstractText struct {
	Label       string `xml:"Label,attr,omitempty"`
	NlmCategory string `xml:"NlmCategory,attr,omitempty"`
	Inner       string `xml:",innerxml"`
}

// AuthorList contains the list of authors. Books carry separate lists for
// authors and editors, distinguished by Type.
type AuthorList struct {
	Type    string   `xml:"Type,attr,omitempty"`
	Authors []Author `xml:"Author"`
}

// Author represents a single personal or collective author.
type Author struct {
	ValidYN        string `xml:"ValidYN,attr,omitempty"`
	LastName       string `xml:"LastName,omitempty"`
	ForeName       string `xml:"ForeName,omitempty"`
	Initials       string `xml:"Initials,omitempty"`
	CollectiveName Markup `xml:"CollectiveName"`
}

// PubmedData contains additional PubMed-specific data.
type PubmedData struct {
	ArticleIdList ArticleIdList `xml:"ArticleIdList"`
}

// ArticleIdList contains various identifiers for the record.
type ArticleIdList struct {
	ArticleIds []ArticleId `xml:"ArticleId"`
}

// ArticleId represents a record identifier (pubmed, doi, pmc, bookaccession).
type ArticleId struct {
	IdType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

// PubmedBookArticle represents a book or a chapter of a book (for example
// an NCBI Bookshelf entry).
type PubmedBookArticle struct {
	XMLName        xml.Name       `xml:"PubmedBookArticle"`
	BookDocument   BookDocument   `xml:"BookDocument"`
	PubmedBookData PubmedBookData `xml:"PubmedBookData"`
}

// BookDocument holds the document-level data of a book record. ArticleTitle
// is present only when the record is a chapter.
type BookDocument struct {
	PMID          PMID          `xml:"PMID"`
	ArticleIdList ArticleIdList `xml:"ArticleIdList"`
	Book          Book          `xml:"Book"`
	ArticleTitle  *Markup       `xml:"ArticleTitle,omitempty"`
	AuthorList    []AuthorList  `xml:"AuthorList,omitempty"`
	Abstract      *Abstract     `xml:"Abstract,omitempty"`
}

// Book holds the book-level bibliographic data.
type Book struct {
	Publisher       Publisher    `xml:"Publisher"`
	BookTitle       Markup       `xml:"BookTitle"`
	PubDate         PubDate      `xml:"PubDate"`
	AuthorList      []AuthorList `xml:"AuthorList,omitempty"`
	CollectionTitle *Markup      `xml:"CollectionTitle,omitempty"`
}

// Publisher names the publisher and its location.
type Publisher struct {
	PublisherName     string `xml:"PublisherName"`
	PublisherLocation string `xml:"PublisherLocation"`
}

// PubmedBookData contains additional PubMed data for book records.
type PubmedBookData struct {
	ArticleIdList ArticleIdList `xml:"ArticleIdList"`
}
