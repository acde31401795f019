// Package parser extracts text (and page images where available) from
// uploaded files and publishes the result under the document's
// format-parser prefix. PDF and plain formats parse in-process; legacy
// office formats go through an external office-suite conversion.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/router"
)

// Page is one extracted page of a paginated source.
type Page struct {
	PageIndex int    `json:"page_index"`
	Text      string `json:"text"`
	ImageURI  string `json:"image_uri,omitempty"`
}

// Chunk is one extracted chunk of a non-paginated source.
type Chunk struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Result is the format-parser output, serialized to
// format-parser/result.json under the document prefix.
type Result struct {
	FileType string  `json:"file_type"`
	Pages    []Page  `json:"pages,omitempty"`
	Chunks   []Chunk `json:"chunks,omitempty"`
}

// SegmentCount returns the number of segments this result produces.
func (r *Result) SegmentCount() int {
	if len(r.Pages) > 0 {
		return len(r.Pages)
	}
	return len(r.Chunks)
}

// Parser turns uploaded files into Results.
type Parser struct {
	store  objstore.Store
	office Converter
	logger *slog.Logger
}

// New creates a Parser. office may be nil when legacy office formats
// are not needed (they will fail with a subprocess error).
func New(store objstore.Store, office Converter, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{store: store, office: office, logger: logger}
}

// Parse reads the file and dispatches per format.
func (p *Parser) Parse(ctx context.Context, fileURI, fileType string) (*Result, error) {
	uri, err := objstore.ParseURI(fileURI)
	if err != nil {
		return nil, err
	}
	data, err := p.store.GetBytes(ctx, uri)
	if err != nil {
		return nil, err
	}

	switch fileType {
	case router.MimePDF:
		return p.parsePDF(data)
	case router.MimePPTX:
		return p.parsePPTX(ctx, uri, data)
	case router.MimePPT, router.MimeDOCX, router.MimeDOC:
		return p.parseViaOffice(ctx, uri, data, fileType)
	case router.MimeXLSX, router.MimeXLS:
		return p.parseWorkbook(data, fileType)
	case router.MimeCSV:
		return p.parseCSV(data)
	case router.MimeTXT, router.MimeMD:
		return p.parseText(data, fileType)
	}
	return nil, flowerr.UnsupportedFormat(fileType)
}

// Run parses the file and writes result.json under the document prefix.
func (p *Parser) Run(ctx context.Context, fileURI, fileType string) (*Result, error) {
	result, err := p.Parse(ctx, fileURI, fileType)
	if err != nil {
		return nil, err
	}

	uri, err := objstore.ParseURI(fileURI)
	if err != nil {
		return nil, err
	}
	out := resultURI(uri)
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal parser result: %w", err)
	}
	if err := p.store.PutBytes(ctx, out, data, "application/json"); err != nil {
		return nil, err
	}

	p.logger.Info("format parser finished",
		slog.String("file_uri", fileURI),
		slog.Int("pages", len(result.Pages)),
		slog.Int("chunks", len(result.Chunks)))
	return result, nil
}

// LoadResult reads a previously written result.json for the file.
func LoadResult(ctx context.Context, store objstore.Store, fileURI string) (*Result, error) {
	uri, err := objstore.ParseURI(fileURI)
	if err != nil {
		return nil, err
	}
	data, err := store.GetBytes(ctx, resultURI(uri))
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode parser result: %w", err)
	}
	return &result, nil
}

// resultURI locates result.json next to the uploaded file.
func resultURI(fileURI objstore.URI) objstore.URI {
	return fileURI.Dir().Join("format-parser", "result.json")
}

// slideURI locates a rendered page image under the document prefix.
func slideURI(fileURI objstore.URI, pageIndex int) objstore.URI {
	return fileURI.Dir().Join("format-parser", "slides", fmt.Sprintf("slide_%04d.png", pageIndex))
}
