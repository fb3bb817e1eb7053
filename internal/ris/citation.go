package ris

import (
	"strings"
)

// NoCitation is the citation given to records whose type has no citation
// format.
const NoCitation = "[No citation]"

// ReferenceType is the citation family a TY value belongs to.
type ReferenceType int

// Reference types.
const (
	TypeUnrecognized ReferenceType = iota
	TypeJournal
	TypeBook
	TypeChapter
	TypeSeries
	TypeConference
)

var referenceTypes = map[string]ReferenceType{
	"JOUR":   TypeJournal,
	"JFULL":  TypeJournal,
	"EJOUR":  TypeJournal,
	"MGZN":   TypeJournal,
	"BOOK":   TypeBook,
	"EBOOK":  TypeBook,
	"EDBOOK": TypeBook,
	"CHAP":   TypeChapter,
	"ECHAP":  TypeChapter,
	"SER":    TypeSeries,
	"CONF":   TypeConference,
	"CPAPER": TypeConference,
}

// ParseReferenceType maps a TY value to its reference type. Matching ignores
// case and surrounding space; unknown values map to TypeUnrecognized.
func ParseReferenceType(ty string) ReferenceType {
	return referenceTypes[strings.ToUpper(strings.TrimSpace(ty))]
}

// String returns the lower-case name of the type.
func (t ReferenceType) String() string {
	switch t {
	case TypeJournal:
		return "journal"
	case TypeBook:
		return "book"
	case TypeChapter:
		return "chapter"
	case TypeSeries:
		return "series"
	case TypeConference:
		return "conference"
	default:
		return "unrecognized"
	}
}

// citation builds the citation string for rec. ok is false when the type has
// no citation format, in which case the citation is NoCitation.
func citation(t ReferenceType, rec *Record, year string) (string, bool) {
	switch t {
	case TypeJournal:
		return journalCitation(rec, year), true
	case TypeBook, TypeChapter:
		return bookCitation(rec, year), true
	case TypeSeries:
		return rec.First(FieldAlternateTitle1), true
	case TypeConference:
		return rec.First(FieldShortTitle), true
	default:
		return NoCitation, false
	}
}

// journalCitation formats "<journal> <year>; <volume> (<issue>):<start page>".
// A clause whose field is absent is left out with its punctuation.
func journalCitation(rec *Record, year string) string {
	var b strings.Builder
	b.WriteString(join(rec.First(FieldSecondaryTitle, FieldJournalName), year))
	if volume := rec.First(FieldVolume); volume != "" {
		b.WriteString("; ")
		b.WriteString(volume)
	}
	if issue := rec.First(FieldNote, FieldNumber); issue != "" {
		b.WriteString(" (")
		b.WriteString(issue)
		b.WriteString(")")
	}
	if page := rec.First(FieldStartPage); page != "" {
		b.WriteString(":")
		b.WriteString(page)
	}
	return strings.TrimSpace(b.String())
}

// bookCitation formats "<book title>. <year>. Pages <start page>. <issn>".
func bookCitation(rec *Record, year string) string {
	var clauses []string
	if title := rec.First(FieldSecondaryTitle); title != "" {
		clauses = append(clauses, strings.TrimSuffix(title, "."))
	}
	if year != "" {
		clauses = append(clauses, year)
	}
	if page := rec.First(FieldStartPage); page != "" {
		clauses = append(clauses, "Pages "+page)
	}
	if issn := rec.First(FieldISSN); issn != "" {
		clauses = append(clauses, issn)
	}
	return strings.Join(clauses, ". ")
}
