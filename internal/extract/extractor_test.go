package extract

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

type stubParser struct {
	doc crawler.ParsedDocument
	err error
}

func (s stubParser) Parse([]byte) (crawler.ParsedDocument, error) {
	return s.doc, s.err
}

func TestExtractCopiesParsedDocument(t *testing.T) {
	t.Parallel()

	e := New(stubParser{doc: crawler.ParsedDocument{
		Text:      "IN THE SUPREME COURT OF MAURITIUS",
		PageCount: 12,
		Info:      map[string]string{"Producer": "LibreOffice"},
		Version:   "1.7",
		Encrypted: true,
	}}, 0, nil)

	got := e.Extract([]byte("%PDF"))
	require.False(t, got.Degraded)
	require.Equal(t, "IN THE SUPREME COURT OF MAURITIUS", got.Text)
	require.Equal(t, 12, got.PageCount)
	require.Equal(t, crawler.ArtifactMetadata{
		ProducerInfo:  map[string]string{"Producer": "LibreOffice"},
		FormatVersion: "1.7",
		IsEncrypted:   true,
	}, got.Metadata)
}

func TestExtractTruncatesToCharLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"ascii", strings.Repeat("a", 50), 10, strings.Repeat("a", 10)},
		{"multibyte", strings.Repeat("é", 20), 7, strings.Repeat("é", 7)},
		{"shorter than limit", "short", 10, "short"},
		{"exactly limit", "0123456789", 10, "0123456789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := New(stubParser{doc: crawler.ParsedDocument{Text: tt.text}}, tt.limit, nil).Extract(nil)
			require.Equal(t, tt.want, got.Text)
			require.LessOrEqual(t, utf8.RuneCountInString(got.Text), tt.limit)
		})
	}
}

func TestExtractDefaultLimit(t *testing.T) {
	t.Parallel()

	got := New(stubParser{doc: crawler.ParsedDocument{Text: strings.Repeat("x", DefaultCharLimit+500)}}, 0, nil).Extract(nil)
	require.Equal(t, DefaultCharLimit, utf8.RuneCountInString(got.Text))
}

func TestExtractDegradesOnParseFailure(t *testing.T) {
	t.Parallel()

	got := New(stubParser{
		doc: crawler.ParsedDocument{PageCount: 9, Info: map[string]string{"Title": "x"}},
		err: errors.New("xref table not found"),
	}, 0, nil).Extract([]byte("garbage"))

	require.True(t, got.Degraded)
	require.Zero(t, got.PageCount)
	require.Equal(t, crawler.ArtifactMetadata{}, got.Metadata)
	require.Equal(t, DegradedPrefix+"xref table not found", got.Text)
}

func TestExtractNegativePageCountClamped(t *testing.T) {
	t.Parallel()

	got := New(stubParser{doc: crawler.ParsedDocument{PageCount: -1}}, 0, nil).Extract(nil)
	require.Zero(t, got.PageCount)
}
