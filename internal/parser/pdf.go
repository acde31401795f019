package parser

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// parsePDF extracts per-page text. Only text operators inside BT/ET
// blocks are read; graphics and image content never reach the
// extractor, which keeps large scanned PDFs cheap.
func (p *Parser) parsePDF(data []byte) (*Result, error) {
	pages, err := extractPDFPages(data, p.logger)
	if err != nil {
		return nil, err
	}
	return &Result{FileType: "pdf", Pages: pages}, nil
}

func extractPDFPages(data []byte, logger *slog.Logger) ([]Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, flowerr.InvalidInput("unreadable pdf", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, flowerr.InvalidInput("pdf has no pages", nil)
	}

	pages := make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			extracted, err := safePlainText(page)
			if err != nil {
				// A broken page should not sink the document; it
				// becomes an empty segment instead.
				logger.Warn("pdf page text extraction failed",
					slog.Int("page", i),
					slog.String("error", err.Error()))
			} else {
				text = extracted
			}
		}
		pages = append(pages, Page{PageIndex: i - 1, Text: normalizeWhitespace(text)})
	}
	return pages, nil
}

// safePlainText recovers from panics inside the pdf library, which can
// occur on malformed xref tables.
func safePlainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf extraction panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
