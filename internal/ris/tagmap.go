package ris

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field names produced by the default tag map.
const (
	FieldType              = "type_of_reference"
	FieldID                = "id"
	FieldTitle             = "title"
	FieldPrimaryTitle      = "primary_title"
	FieldSecondaryTitle    = "secondary_title"
	FieldTertiaryTitle     = "tertiary_title"
	FieldTranslatedTitle   = "translated_title"
	FieldShortTitle        = "short_title"
	FieldAlternateTitle1   = "alternate_title1"
	FieldAlternateTitle2   = "alternate_title2"
	FieldAlternateTitle3   = "alternate_title3"
	FieldJournalName       = "journal_name"
	FieldAuthors           = "authors"
	FieldFirstAuthors      = "first_authors"
	FieldSecondaryAuthors  = "secondary_authors"
	FieldTertiaryAuthors   = "tertiary_authors"
	FieldSubsidiaryAuthors = "subsidiary_authors"
	FieldTranslatedAuthors = "translated_authors"
	FieldAbstract          = "abstract"
	FieldNotesAbstract     = "notes_abstract"
	FieldYear              = "year"
	FieldPublicationYear   = "publication_year"
	FieldDate              = "date"
	FieldVolume            = "volume"
	FieldNumber            = "number"
	FieldNote              = "note"
	FieldStartPage         = "start_page"
	FieldEndPage           = "end_page"
	FieldISSN              = "issn"
	FieldDOI               = "doi"
	FieldAccessionNumber   = "accession_number"
	FieldDatabaseName      = "name_of_database"
	FieldKeywords          = "keywords"
	FieldURLs              = "urls"
	FieldNotes             = "notes"
	FieldEndOfReference    = "end_of_reference"

	// Fields added by ExtraPubMedTags.
	FieldAccessionType = "accession_type"
	FieldPubMedID      = "pubmed_id"
	FieldAbstract2     = "abstract2"
	FieldSerialVolume  = "serial_volume"
)

// Tags with fixed framing meaning.
const (
	TagType = "TY"
	TagEnd  = "ER"
)

var tagPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]$`)

// TagMap maps two-character RIS tags to field names.
type TagMap map[string]string

// DefaultTagMap returns the standard RIS tag mapping. The returned map is a
// fresh copy and may be modified.
func DefaultTagMap() TagMap {
	return TagMap{
		"TY": FieldType,
		"A1": FieldFirstAuthors,
		"A2": FieldSecondaryAuthors,
		"A3": FieldTertiaryAuthors,
		"A4": FieldSubsidiaryAuthors,
		"AB": FieldAbstract,
		"AD": "author_address",
		"AN": FieldAccessionNumber,
		"AU": FieldAuthors,
		"C1": "custom1",
		"C2": "custom2",
		"C3": "custom3",
		"C4": "custom4",
		"C5": "custom5",
		"C6": "custom6",
		"C7": "custom7",
		"C8": "custom8",
		"CA": "caption",
		"CN": "call_number",
		"CY": "place_published",
		"DA": FieldDate,
		"DB": FieldDatabaseName,
		"DO": FieldDOI,
		"DP": "database_provider",
		"EP": FieldEndPage,
		"ET": "edition",
		"ID": FieldID,
		"IS": FieldNumber,
		"J2": FieldAlternateTitle1,
		"JA": FieldAlternateTitle2,
		"JF": FieldAlternateTitle3,
		"JO": FieldJournalName,
		"KW": FieldKeywords,
		"L1": "file_attachments1",
		"L2": "file_attachments2",
		"L4": "figure",
		"LA": "language",
		"LB": "label",
		"M1": FieldNote,
		"M3": "type_of_work",
		"N1": FieldNotes,
		"N2": FieldNotesAbstract,
		"NV": "number_of_volumes",
		"OP": "original_publication",
		"PB": "publisher",
		"PY": FieldYear,
		"RI": "reviewed_item",
		"RN": "research_notes",
		"RP": "reprint_edition",
		"SE": "section",
		"SN": FieldISSN,
		"SP": FieldStartPage,
		"ST": FieldShortTitle,
		"T1": FieldPrimaryTitle,
		"T2": FieldSecondaryTitle,
		"T3": FieldTertiaryTitle,
		"TA": FieldTranslatedAuthors,
		"TI": FieldTitle,
		"TT": FieldTranslatedTitle,
		"UR": FieldURLs,
		"VL": FieldVolume,
		"Y1": FieldPublicationYear,
		"Y2": "access_date",
		"ER": FieldEndOfReference,
	}
}

// ExtraPubMedTags are the non-standard tags found in PubMed-derived exports.
// N2 carries a second abstract there rather than notes.
var ExtraPubMedTags = map[string]string{
	"AT": FieldAccessionType,
	"PM": FieldPubMedID,
	"N2": FieldAbstract2,
	"SV": FieldSerialVolume,
}

// listFields hold one entry per tag line. Other fields join repeated tag
// lines into a single value.
var listFields = map[string]bool{
	FieldAuthors:           true,
	FieldFirstAuthors:      true,
	FieldSecondaryAuthors:  true,
	FieldTertiaryAuthors:   true,
	FieldSubsidiaryAuthors: true,
	FieldTranslatedAuthors: true,
	FieldKeywords:          true,
	FieldURLs:              true,
	FieldNotes:             true,
	"file_attachments1":    true,
	"file_attachments2":    true,
	"figure":               true,
}

// IsListField reports whether field keeps repeated tag lines as separate values.
func IsListField(field string) bool {
	return listFields[field]
}

// With returns a copy of m augmented with extra. Entries in extra override
// entries in m.
func (m TagMap) With(extra map[string]string) TagMap {
	out := make(TagMap, len(m)+len(extra))
	maps.Copy(out, m)
	maps.Copy(out, extra)
	return out
}

// Field returns the field name for tag and whether the tag is mapped.
func (m TagMap) Field(tag string) (string, bool) {
	f, ok := m[tag]
	return f, ok
}

// Validate checks that every key is a two-character RIS tag and every value
// is a non-empty field name, and that the framing tags keep their meaning.
func (m TagMap) Validate() error {
	for tag, field := range m {
		if !tagPattern.MatchString(tag) {
			return fmt.Errorf("invalid RIS tag %q", tag)
		}
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("tag %s maps to an empty field name", tag)
		}
	}
	if m[TagType] != FieldType {
		return fmt.Errorf("tag %s must map to %q", TagType, FieldType)
	}
	return nil
}

// tagMapFile is the YAML layout read by LoadTagMap.
type tagMapFile struct {
	// Replace discards the default mapping before applying Tags.
	Replace bool              `yaml:"replace"`
	Tags    map[string]string `yaml:"tags"`
}

// LoadTagMap reads a YAML tag overlay and applies it on top of base:
//
//	tags:
//	  AT: accession_type
//	  PM: pubmed_id
//
// With "replace: true" the file's tags are used on their own, plus TY and ER.
func LoadTagMap(path string, base TagMap) (TagMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tag map: %w", err)
	}

	var file tagMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing tag map: %w", err)
	}

	tags := base
	if file.Replace || tags == nil {
		tags = TagMap{TagType: FieldType, TagEnd: FieldEndOfReference}
	}
	merged := tags.With(file.Tags)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("tag map %s: %w", path, err)
	}
	return merged, nil
}
