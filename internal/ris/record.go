package ris

import "strings"

// Record is one RIS record as read from the file.
type Record struct {
	// Type is the value of the TY tag.
	Type string

	// Fields holds the values of mapped tags, keyed by field name, in file
	// order.
	Fields map[string][]string

	// Unmapped holds the values of tags absent from the tag map, keyed by tag.
	Unmapped map[string][]string

	// Line is the line number of the TY tag.
	Line int

	raw     strings.Builder
	text    string
	lastKey string
	lastMap map[string][]string
}

func newRecord(line int) *Record {
	return &Record{
		Fields:   map[string][]string{},
		Unmapped: map[string][]string{},
		Line:     line,
	}
}

// Raw returns the record's lines verbatim, from TY through ER.
func (r *Record) Raw() string {
	return r.text
}

// Values returns every value of field.
func (r *Record) Values(field string) []string {
	return r.Fields[field]
}

// Value returns the first value of field, or "" when absent.
func (r *Record) Value(field string) string {
	if v := r.Fields[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// First returns the first non-empty value among fields, in the order given.
func (r *Record) First(fields ...string) string {
	for _, f := range fields {
		for _, v := range r.Fields[f] {
			if v != "" {
				return v
			}
		}
	}
	return ""
}

func (r *Record) add(tags TagMap, tag, value string) {
	value = strings.TrimSpace(value)
	field, mapped := tags.Field(tag)
	target := r.Fields
	key := field
	if !mapped {
		target = r.Unmapped
		key = tag
	}
	if tag == TagType {
		r.Type = value
	}

	values := target[key]
	if len(values) > 0 && mapped && !IsListField(field) {
		values[0] = join(values[0], value)
	} else {
		target[key] = append(values, value)
	}
	r.lastKey, r.lastMap = key, target
}

// continueValue appends a wrapped line to the most recent value.
func (r *Record) continueValue(text string) {
	values := r.lastMap[r.lastKey]
	if len(values) == 0 {
		return
	}
	values[len(values)-1] = join(values[len(values)-1], text)
}

func (r *Record) finish() {
	r.text = r.raw.String()
	r.raw.Reset()
	r.lastMap = nil
}

func join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
