package ris

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTagMap(t *testing.T) {
	tags := DefaultTagMap()
	require.NoError(t, tags.Validate())

	field, ok := tags.Field("TI")
	assert.True(t, ok)
	assert.Equal(t, FieldTitle, field)

	_, ok = tags.Field("PM")
	assert.False(t, ok)

	tags["TI"] = "changed"
	assert.Equal(t, FieldTitle, DefaultTagMap()["TI"], "each call returns a fresh map")
}

func TestTagMap_With(t *testing.T) {
	base := DefaultTagMap()
	extended := base.With(ExtraPubMedTags)

	assert.Equal(t, FieldPubMedID, extended["PM"])
	assert.Equal(t, FieldAbstract2, extended["N2"], "extra tags override the base mapping")
	assert.Equal(t, FieldNotesAbstract, base["N2"], "base is not modified")
	require.NoError(t, extended.Validate())
}

func TestTagMap_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tags    TagMap
		wantErr string
	}{
		{name: "lower-case tag", tags: DefaultTagMap().With(map[string]string{"pm": "pubmed_id"}), wantErr: `invalid RIS tag "pm"`},
		{name: "three characters", tags: DefaultTagMap().With(map[string]string{"PMI": "pubmed_id"}), wantErr: "invalid RIS tag"},
		{name: "empty field", tags: DefaultTagMap().With(map[string]string{"PM": " "}), wantErr: "empty field name"},
		{name: "TY remapped", tags: DefaultTagMap().With(map[string]string{"TY": "kind"}), wantErr: "must map to"},
		{name: "TY missing", tags: TagMap{"TI": FieldTitle}, wantErr: "must map to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tags.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsListField(t *testing.T) {
	assert.True(t, IsListField(FieldAuthors))
	assert.True(t, IsListField(FieldKeywords))
	assert.False(t, IsListField(FieldTitle))
	assert.False(t, IsListField(FieldAbstract))
}

func writeTagFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tags.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTagMap(t *testing.T) {
	t.Run("overlay", func(t *testing.T) {
		path := writeTagFile(t, "tags:\n  PM: pubmed_id\n  X1: vendor_field\n")

		tags, err := LoadTagMap(path, DefaultTagMap())
		require.NoError(t, err)
		assert.Equal(t, FieldPubMedID, tags["PM"])
		assert.Equal(t, "vendor_field", tags["X1"])
		assert.Equal(t, FieldTitle, tags["TI"])
	})

	t.Run("replace", func(t *testing.T) {
		path := writeTagFile(t, "replace: true\ntags:\n  TI: title\n")

		tags, err := LoadTagMap(path, DefaultTagMap())
		require.NoError(t, err)
		assert.Len(t, tags, 3)
		assert.Equal(t, FieldType, tags[TagType])
		assert.Equal(t, FieldEndOfReference, tags[TagEnd])
	})

	t.Run("invalid tag", func(t *testing.T) {
		path := writeTagFile(t, "tags:\n  pubmed: pubmed_id\n")

		_, err := LoadTagMap(path, DefaultTagMap())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid RIS tag")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeTagFile(t, "tags: [PM\n")

		_, err := LoadTagMap(path, DefaultTagMap())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing tag map")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTagMap(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading tag map")
	})
}
