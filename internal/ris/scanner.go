package ris

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/helixir/reference-ingestion/internal/domain"
)

const (
	sourceName = "RIS"

	// maxLineBytes bounds a single line; abstracts can be long.
	maxLineBytes = 4 << 20
)

// linePattern matches "TG  - value". Some exporters drop the space after the
// dash on empty values ("ER  -").
var linePattern = regexp.MustCompile(`^([A-Z][A-Z0-9])  -(?: (.*))?$`)

// Scanner splits RIS text into records. It tolerates a UTF-8 byte order mark,
// CRLF line endings, blank lines and continuation lines, and rejects
// anything that breaks record framing.
type Scanner struct {
	lines  *bufio.Scanner
	tags   TagMap
	lineNo int
	count  int
	done   bool
}

// NewScanner returns a scanner reading from r and mapping tags with tags.
func NewScanner(r io.Reader, tags TagMap) *Scanner {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if tags == nil {
		tags = DefaultTagMap()
	}
	return &Scanner{lines: lines, tags: tags}
}

// Next returns the next record. It returns io.EOF after the last record.
// Any framing problem is returned as a *domain.StructuralError; the scanner
// must not be used after an error.
func (s *Scanner) Next() (*Record, error) {
	if s.done {
		return nil, io.EOF
	}

	var rec *Record
	for s.lines.Scan() {
		s.lineNo++
		line := strings.TrimRight(s.lines.Text(), "\r")
		if s.lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}

		m := linePattern.FindStringSubmatch(line)
		if rec == nil {
			switch {
			case strings.TrimSpace(line) == "":
				continue
			case m == nil && s.count == 0:
				return nil, s.fail("TY tag", "content before the first record", nil)
			case m == nil:
				return nil, s.fail("TY tag", "text between records", nil)
			case m[1] != TagType:
				return nil, s.fail("TY tag", m[1]+" tag outside a record", nil)
			}
			rec = newRecord(s.lineNo)
			rec.raw.WriteString(line)
			rec.add(s.tags, m[1], m[2])
			continue
		}

		rec.raw.WriteByte('\n')
		rec.raw.WriteString(line)

		switch {
		case m == nil && strings.TrimSpace(line) == "":
			continue
		case m == nil:
			rec.continueValue(strings.TrimSpace(line))
		case m[1] == TagEnd:
			s.count++
			rec.finish()
			return rec, nil
		case m[1] == TagType:
			return nil, s.fail("ER tag", fmt.Sprintf("new record before the record at line %d ended", rec.Line), nil)
		default:
			rec.add(s.tags, m[1], m[2])
		}
	}

	if err := s.lines.Err(); err != nil {
		return nil, s.fail("readable text", "read error", err)
	}
	s.done = true

	switch {
	case rec != nil:
		return nil, s.fail("ER tag", fmt.Sprintf("end of input inside the record at line %d", rec.Line), nil)
	case s.count == 0 && s.lineNo == 0:
		return nil, domain.NewStructuralError(sourceName, "at least one record", "empty input", domain.ErrEmptyInput)
	case s.count == 0:
		return nil, domain.NewStructuralError(sourceName, "at least one record", "blank input", domain.ErrEmptyInput)
	}
	return nil, io.EOF
}

// All reads every remaining record. On error no records are returned.
func (s *Scanner) All() ([]*Record, error) {
	var records []*Record
	for {
		rec, err := s.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func (s *Scanner) fail(expected, got string, cause error) error {
	s.done = true
	return domain.NewStructuralError(sourceName, expected, fmt.Sprintf("%s (line %d)", got, s.lineNo), cause)
}
