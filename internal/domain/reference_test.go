package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReference(t *testing.T) {
	t.Run("derives authors short and lower-cases DOI", func(t *testing.T) {
		ref := NewReference(Reference{
			Title:   "A study",
			Authors: []string{"Smith KJ", "Doe J"},
			DOI:     StringPtr(" 10.1000/ABC.Def "),
		})

		assert.Equal(t, "Smith KJ and Doe J", ref.AuthorsShort)
		require.NotNil(t, ref.DOI)
		assert.Equal(t, "10.1000/abc.def", *ref.DOI)
	})

	t.Run("nil authors become empty slice", func(t *testing.T) {
		ref := NewReference(Reference{})
		assert.NotNil(t, ref.Authors)
		assert.Empty(t, ref.Authors)
		assert.Equal(t, "", ref.AuthorsShort)
		assert.Nil(t, ref.ExternalID)
		assert.Nil(t, ref.Year)
		assert.Nil(t, ref.DOI)
	})

	t.Run("blank DOI becomes nil", func(t *testing.T) {
		blank := "   "
		ref := NewReference(Reference{DOI: &blank})
		assert.Nil(t, ref.DOI)
	})

	t.Run("detaches caller slices", func(t *testing.T) {
		authors := []string{"Smith KJ"}
		raw := []byte("<PubmedArticle/>")
		ref := NewReference(Reference{Authors: authors, Raw: RawPayload{Format: RawFormatXML, Data: raw}})

		authors[0] = "changed"
		raw[0] = 'X'

		assert.Equal(t, "Smith KJ", ref.Authors[0])
		assert.Equal(t, "<PubmedArticle/>", ref.Raw.String())
	})

	t.Run("ignores a caller supplied authors short", func(t *testing.T) {
		ref := NewReference(Reference{Authors: []string{"A", "B", "C", "D"}, AuthorsShort: "bogus"})
		assert.Equal(t, "A et al.", ref.AuthorsShort)
	})
}

func TestReference_RecordID(t *testing.T) {
	ref := NewReference(Reference{ExternalID: IntPtr(12345)})
	assert.True(t, ref.HasExternalID())
	assert.Equal(t, "12345", ref.RecordID("row-1"))

	anon := NewReference(Reference{})
	assert.False(t, anon.HasExternalID())
	assert.Equal(t, "row-1", anon.RecordID("row-1"))
}

func TestReference_JSON(t *testing.T) {
	ref := NewReference(Reference{
		ExternalID: IntPtr(1),
		Title:      "T",
		Authors:    []string{"Smith KJ"},
	})

	data, err := json.Marshal(ref)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(1), decoded["external_id"])
	assert.Equal(t, "", decoded["abstract"])
	assert.Nil(t, decoded["year"])
	assert.Equal(t, "Smith KJ", decoded["authors_short"])
	_, hasAccession := decoded["accession_number"]
	assert.False(t, hasAccession)
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	assert.Nil(t, StringPtr("  "))
	require.NotNil(t, StringPtr("x"))
	assert.Equal(t, "x", *StringPtr("x"))
}

func TestBatch(t *testing.T) {
	b := &Batch{}
	assert.False(t, b.Degraded())

	b.Append(&Batch{
		References: []Reference{NewReference(Reference{Title: "one"})},
		Issues:     []Issue{{RecordID: "1", Kind: IssueDegradedField, Message: "no title"}},
		Requests:   1,
	})
	b.Append(&Batch{
		References: []Reference{NewReference(Reference{Title: "two"})},
		Issues: []Issue{
			{RecordID: "1", Kind: IssueUnrecognizedType, Message: "type XYZ"},
			{Kind: IssueUnknownRecordKind, Message: "tag Foo"},
			{RecordID: "2", Kind: IssueDegradedField, Message: "no year"},
		},
		Requests: 2,
	})
	b.Append(nil)

	require.Len(t, b.References, 2)
	assert.Equal(t, "one", b.References[0].Title)
	assert.Equal(t, "two", b.References[1].Title)
	assert.True(t, b.Degraded())
	assert.Equal(t, []string{"1", "2"}, b.IssueRecordIDs())
	assert.Equal(t, 3, b.Requests)
}

func TestIssue_String(t *testing.T) {
	assert.Equal(t, "degraded_field [42]: missing year",
		Issue{RecordID: "42", Kind: IssueDegradedField, Message: "missing year"}.String())
	assert.Equal(t, "unknown_record_kind: tag Foo",
		Issue{Kind: IssueUnknownRecordKind, Message: "tag Foo"}.String())
}

func TestErrors(t *testing.T) {
	t.Run("external API error is a transport failure", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := fmt.Errorf("esearch: %w", NewExternalAPIError("PubMed", "esearch", 0, "connection reset", cause))

		assert.True(t, IsTransport(err))
		assert.False(t, IsStructural(err))
		assert.ErrorIs(t, err, cause)

		var apiErr *ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "esearch", apiErr.Endpoint)
		assert.Contains(t, apiErr.Error(), "request failed")
	})

	t.Run("external API error with status", func(t *testing.T) {
		err := NewExternalAPIError("PubMed", "efetch", 503, "unavailable", nil)
		assert.True(t, IsTransport(err))
		assert.Equal(t, "PubMed API error (status 503): unavailable", err.Error())
	})

	t.Run("structural error", func(t *testing.T) {
		err := fmt.Errorf("efetch: %w", NewStructuralError("PubMed", "<PubmedArticleSet>", "<html>", nil))
		assert.True(t, IsStructural(err))
		assert.False(t, IsTransport(err))
		assert.Contains(t, err.Error(), "expected <PubmedArticleSet>, got <html>")
	})

	t.Run("structural error with cause", func(t *testing.T) {
		err := NewStructuralError("RIS", "record terminator", "", ErrEmptyInput)
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.ErrorIs(t, err, ErrStructural)
	})

	t.Run("validation error", func(t *testing.T) {
		err := NewValidationError("term", "must not be empty")
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, "validation error: term: must not be empty", err.Error())
	})
}
