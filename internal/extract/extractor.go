// Package extract turns downloaded judgment artifacts into bounded text and
// metadata.
package extract

import (
	"fmt"
	"unicode/utf8"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"go.uber.org/zap"
)

// DefaultCharLimit bounds extracted text when no limit is configured.
const DefaultCharLimit = 10000

// DegradedPrefix starts the content of artifacts that could not be parsed.
const DegradedPrefix = "Error extracting PDF content: "

// Extractor parses artifacts and truncates their text.
type Extractor struct {
	parser    crawler.DocumentParser
	charLimit int
	logger    *zap.Logger
}

// New creates an extractor. A charLimit of zero or less selects DefaultCharLimit.
func New(parser crawler.DocumentParser, charLimit int, logger *zap.Logger) *Extractor {
	if charLimit <= 0 {
		charLimit = DefaultCharLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{parser: parser, charLimit: charLimit, logger: logger}
}

// Extract never fails. When the parser rejects data the artifact comes back
// degraded: no pages, empty metadata and a diagnostic in place of text.
func (e *Extractor) Extract(data []byte) crawler.ExtractedArtifact {
	doc, err := e.parser.Parse(data)
	if err != nil {
		e.logger.Warn("artifact extraction degraded", zap.Int("bytes", len(data)), zap.Error(err))
		return crawler.ExtractedArtifact{
			Text:     truncate(fmt.Sprintf("%s%v", DegradedPrefix, err), e.charLimit),
			Degraded: true,
		}
	}
	pageCount := doc.PageCount
	if pageCount < 0 {
		pageCount = 0
	}
	return crawler.ExtractedArtifact{
		Text:      truncate(doc.Text, e.charLimit),
		PageCount: pageCount,
		Metadata: crawler.ArtifactMetadata{
			ProducerInfo:  doc.Info,
			FormatVersion: doc.Version,
			IsEncrypted:   doc.Encrypted,
		},
	}
}

// truncate keeps the first limit characters of s.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
