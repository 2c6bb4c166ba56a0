package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var errEmptyArtifact = errors.New("empty artifact")

var disableConfigDir sync.Once

// PDFParser reads page count and document info with pdfcpu and plain text
// with ledongthuc/pdf.
type PDFParser struct{}

// NewPDFParser returns a PDFParser. pdfcpu is kept from writing its
// configuration directory under the user's home.
func NewPDFParser() *PDFParser {
	disableConfigDir.Do(func() { model.ConfigPath = "disable" })
	return &PDFParser{}
}

var _ crawler.DocumentParser = (*PDFParser)(nil)

// Parse implements crawler.DocumentParser.
func (p *PDFParser) Parse(data []byte) (crawler.ParsedDocument, error) {
	if len(data) == 0 {
		return crawler.ParsedDocument{}, errEmptyArtifact
	}

	ctx, err := readContext(data)
	if err != nil {
		return crawler.ParsedDocument{}, err
	}

	text, err := plainText(data)
	if err != nil {
		return crawler.ParsedDocument{}, err
	}

	xref := ctx.XRefTable
	doc := crawler.ParsedDocument{
		Text:      text,
		PageCount: xref.PageCount,
		Info:      info(xref),
		Encrypted: xref.Encrypt != nil,
	}
	if xref.HeaderVersion != nil {
		doc.Version = xref.HeaderVersion.String()
	}
	return doc, nil
}

// info reads the document info dictionary. Configuration also carries
// CreationDate, so fields are taken from the xref table explicitly.
func info(xref *model.XRefTable) map[string]string {
	out := make(map[string]string)
	for k, v := range map[string]string{
		"Title":        xref.Title,
		"Author":       xref.Author,
		"Subject":      xref.Subject,
		"Creator":      xref.Creator,
		"Producer":     xref.Producer,
		"CreationDate": xref.CreationDate,
		"ModDate":      xref.ModDate,
	} {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Both decoders can panic on malformed input; readContext and plainText
// recover and report it as a parse error.
func readContext(data []byte) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err = api.ReadAndValidate(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return ctx, nil
}

func plainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extract pdf text: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf text: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
