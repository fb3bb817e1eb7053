package ris

import (
	"regexp"
	"strconv"
	"strings"
)

// nlmDatabase is the DB value PubMed exports carry; their AN field is the PMID.
const nlmDatabase = "NLM"

var (
	digitsPattern = regexp.MustCompile(`\d+`)
	yearPattern   = regexp.MustCompile(`\d{4}`)

	// eidPattern finds a Scopus-style "eid=...&" query fragment inside an
	// accession number URL.
	eidPattern = regexp.MustCompile(`eid=([-.\w]+)&`)

	doiPrefixes = []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"}
)

// pubMedID resolves the PMID of rec. The order is fixed:
//  1. the pubmed_id field when it is an integer,
//  2. the first run of digits in the pubmed_id field,
//  3. the accession number when the record comes from the NLM database and
//     the accession number is an integer,
//  4. none.
func pubMedID(rec *Record) *int {
	if raw := rec.First(FieldPubMedID); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			return &id
		}
		if digits := digitsPattern.FindString(raw); digits != "" {
			if id, err := strconv.Atoi(digits); err == nil {
				return &id
			}
		}
	}

	if strings.EqualFold(rec.First(FieldDatabaseName), nlmDatabase) {
		if id, err := strconv.Atoi(rec.First(FieldAccessionNumber)); err == nil {
			return &id
		}
	}
	return nil
}

// accessionNumber returns the AN value, reduced to the embedded eid when the
// value is a catalog URL carrying one.
func accessionNumber(rec *Record) string {
	raw := rec.First(FieldAccessionNumber)
	if m := eidPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// publicationYear returns the first four-digit run among the year fields and
// the raw value it was read from.
func publicationYear(rec *Record) (*int, string) {
	raw := rec.First(FieldYear, FieldPublicationYear, FieldDate)
	m := yearPattern.FindString(raw)
	if m == "" {
		return nil, raw
	}
	year, _ := strconv.Atoi(m)
	return &year, raw
}

func trimDOI(raw string) string {
	doi := strings.TrimSpace(raw)
	for _, prefix := range doiPrefixes {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			return strings.TrimSpace(doi[len(prefix):])
		}
	}
	return doi
}
