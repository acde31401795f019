package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/router"
)

// Converter turns office documents into PDF bytes and renders PDF pages
// to PNG. The production implementation shells out to an office suite
// and a PDF renderer; tests substitute a fake.
type Converter interface {
	// ToPDF converts src (with the given filename extension) to PDF.
	ToPDF(ctx context.Context, src []byte, ext string) ([]byte, error)

	// RenderPages rasterizes every PDF page to PNG at the given DPI,
	// in page order.
	RenderPages(ctx context.Context, pdfData []byte, dpi int) ([][]byte, error)
}

// renderDPI is the raster resolution for page images.
const renderDPI = 150

// SubprocessConverter implements Converter with soffice and pdftoppm.
// Every invocation runs in its own temp directory which is removed on
// all exit paths.
type SubprocessConverter struct {
	SofficePath  string
	PdftoppmPath string
	Timeout      time.Duration
}

// NewSubprocessConverter returns a converter with standard binary names
// resolved from PATH.
func NewSubprocessConverter() *SubprocessConverter {
	return &SubprocessConverter{
		SofficePath:  "soffice",
		PdftoppmPath: "pdftoppm",
		Timeout:      5 * time.Minute,
	}
}

// ToPDF converts an office document to PDF via soffice --headless.
func (c *SubprocessConverter) ToPDF(ctx context.Context, src []byte, ext string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "docuflow-office-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(input, src, 0o600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.SofficePath,
		"--headless", "--norestore", "--convert-to", "pdf", "--outdir", dir, input)
	cmd.Stderr = &stderr
	// soffice writes profile state to HOME; isolate it per invocation.
	cmd.Env = append(os.Environ(), "HOME="+dir)

	if err := cmd.Run(); err != nil {
		return nil, flowerr.Subprocess("office conversion failed", stderr.String(), err)
	}

	out := filepath.Join(dir, "input.pdf")
	pdfData, err := os.ReadFile(out)
	if err != nil {
		return nil, flowerr.Subprocess("office conversion produced no pdf", stderr.String(), err)
	}
	return pdfData, nil
}

// RenderPages rasterizes PDF pages with pdftoppm.
func (c *SubprocessConverter) RenderPages(ctx context.Context, pdfData []byte, dpi int) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docuflow-render-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.PdftoppmPath,
		"-png", "-r", fmt.Sprint(dpi), input, filepath.Join(dir, "page"))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, flowerr.Subprocess("pdf rendering failed", stderr.String(), err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list rendered pages: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "page") && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(names)

	images := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read rendered page %s: %w", name, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func (c *SubprocessConverter) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 5 * time.Minute
}

// Verify interface implementation at compile time.
var _ Converter = (*SubprocessConverter)(nil)

// parseViaOffice handles DOCX, DOC, and PPT: convert to PDF, extract
// per-page text from the converted PDF, render and upload a PNG per
// page.
func (p *Parser) parseViaOffice(ctx context.Context, uri objstore.URI, data []byte, fileType string) (*Result, error) {
	if p.office == nil {
		return nil, flowerr.Subprocess("office converter not configured", "", nil)
	}

	pdfData, err := p.office.ToPDF(ctx, data, extFor(fileType))
	if err != nil {
		return nil, err
	}

	pages, err := extractPDFPages(pdfData, p.logger)
	if err != nil {
		return nil, err
	}

	if err := p.attachPageImages(ctx, uri, pdfData, pages); err != nil {
		return nil, err
	}
	return &Result{FileType: typeName(fileType), Pages: pages}, nil
}

// attachPageImages renders the converted PDF and uploads one PNG per
// page, filling ImageURI in place.
func (p *Parser) attachPageImages(ctx context.Context, uri objstore.URI, pdfData []byte, pages []Page) error {
	images, err := p.office.RenderPages(ctx, pdfData, renderDPI)
	if err != nil {
		return err
	}
	for i := range pages {
		if i >= len(images) {
			break
		}
		imgURI := slideURI(uri, i)
		if err := p.store.PutBytes(ctx, imgURI, images[i], "image/png"); err != nil {
			return err
		}
		pages[i].ImageURI = imgURI.String()
	}
	return nil
}

func extFor(fileType string) string {
	switch fileType {
	case router.MimeDOCX:
		return ".docx"
	case router.MimeDOC:
		return ".doc"
	case router.MimePPTX:
		return ".pptx"
	case router.MimePPT:
		return ".ppt"
	}
	return ".bin"
}

func typeName(fileType string) string {
	switch fileType {
	case router.MimeDOCX, router.MimeDOC:
		return "word"
	case router.MimePPTX, router.MimePPT:
		return "presentation"
	}
	return "document"
}
