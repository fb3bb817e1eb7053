package domain

import "fmt"

// IssueKind classifies a record-level problem that was absorbed during parsing.
type IssueKind string

// Issue kinds. None of these abort a batch.
const (
	// IssueDegradedField means a field could not be extracted and fell back
	// to its empty default.
	IssueDegradedField IssueKind = "degraded_field"

	// IssueUnknownRecordKind means a top-level record had an unsupported tag
	// and was left out of the batch.
	IssueUnknownRecordKind IssueKind = "unknown_record_kind"

	// IssueUnrecognizedType means a record declared a reference type that has
	// no citation builder; its citation is a placeholder.
	IssueUnrecognizedType IssueKind = "unrecognized_type"

	// IssueUnparsableRecord means a record body could not be decoded at all;
	// only its raw payload and identifier were kept.
	IssueUnparsableRecord IssueKind = "unparsable_record"
)

// Issue describes one record-level degradation.
type Issue struct {
	RecordID string    `json:"record_id"`
	Kind     IssueKind `json:"kind"`
	Message  string    `json:"message"`
}

// String returns a formatted representation of the issue.
func (i Issue) String() string {
	if i.RecordID == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", i.Kind, i.RecordID, i.Message)
}

// Batch is the result of parsing one payload: the references in source order
// and any issues absorbed while building them. Requests counts the upstream
// requests made to obtain it and is zero for local payloads.
type Batch struct {
	References []Reference `json:"references"`
	Issues     []Issue     `json:"issues,omitempty"`
	Requests   int         `json:"requests,omitempty"`
}

// Append adds the references, issues and requests of other to b, preserving
// order.
func (b *Batch) Append(other *Batch) {
	if other == nil {
		return
	}
	b.References = append(b.References, other.References...)
	b.Issues = append(b.Issues, other.Issues...)
	b.Requests += other.Requests
}

// Degraded returns true if any record-level issue was recorded.
func (b *Batch) Degraded() bool {
	return len(b.Issues) > 0
}

// IssueRecordIDs returns the distinct record ids that carry issues, in the
// order they were first reported. Issues without an id are ignored.
func (b *Batch) IssueRecordIDs() []string {
	seen := make(map[string]struct{}, len(b.Issues))
	ids := make([]string, 0, len(b.Issues))
	for _, issue := range b.Issues {
		if issue.RecordID == "" {
			continue
		}
		if _, ok := seen[issue.RecordID]; ok {
			continue
		}
		seen[issue.RecordID] = struct{}{}
		ids = append(ids, issue.RecordID)
	}
	return ids
}
