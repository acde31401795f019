package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
)

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
var notesNameRe = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)

// parsePPTX extracts per-slide text directly from the package XML and
// attaches rendered page images from the PDF conversion path.
func (p *Parser) parsePPTX(ctx context.Context, uri objstore.URI, data []byte) (*Result, error) {
	texts, err := extractSlideTexts(data)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, len(texts))
	for i, text := range texts {
		pages[i] = Page{PageIndex: i, Text: text}
	}

	if p.office != nil {
		pdfData, err := p.office.ToPDF(ctx, data, ".pptx")
		if err != nil {
			return nil, err
		}
		if err := p.attachPageImages(ctx, uri, pdfData, pages); err != nil {
			return nil, err
		}
	}
	return &Result{FileType: "presentation", Pages: pages}, nil
}

// extractSlideTexts returns one text blob per slide in deck order:
// shape paragraphs, tables with rows joined by " | ", then speaker
// notes prefixed "[Notes] ".
func extractSlideTexts(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, flowerr.InvalidInput("unreadable pptx package", err)
	}

	slides := map[int]*zip.File{}
	notes := map[int]*zip.File{}
	for _, f := range zr.File {
		if m := slideNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides[n] = f
		}
		if m := notesNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			notes[n] = f
		}
	}
	if len(slides) == 0 {
		return nil, flowerr.InvalidInput("pptx package has no slides", nil)
	}

	numbers := make([]int, 0, len(slides))
	for n := range slides {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	texts := make([]string, 0, len(numbers))
	for _, n := range numbers {
		var parts []string

		slideText, err := slideXMLText(slides[n])
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", n, err)
		}
		if slideText != "" {
			parts = append(parts, slideText)
		}

		if nf, ok := notes[n]; ok {
			noteText, err := slideXMLText(nf)
			if err != nil {
				return nil, fmt.Errorf("notes for slide %d: %w", n, err)
			}
			if noteText != "" {
				parts = append(parts, "[Notes] "+noteText)
			}
		}
		texts = append(texts, strings.Join(parts, "\n"))
	}
	return texts, nil
}

// slideXMLText walks one slide's DrawingML. Plain paragraphs become
// lines; table rows become cells joined with " | ".
func slideXMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)

	var (
		lines     []string
		paragraph strings.Builder
		cell      strings.Builder
		row       []string
		inTable   bool
		inCell    bool
	)

	flushParagraph := func() {
		text := strings.TrimSpace(paragraph.String())
		paragraph.Reset()
		if text == "" {
			return
		}
		if inCell {
			if cell.Len() > 0 {
				cell.WriteString(" ")
			}
			cell.WriteString(text)
			return
		}
		lines = append(lines, text)
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", flowerr.InvalidInput("malformed slide xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				inTable = true
			case "tc":
				if inTable {
					inCell = true
					cell.Reset()
				}
			case "t":
				var text string
				if err := decoder.DecodeElement(&text, &t); err != nil {
					return "", flowerr.InvalidInput("malformed slide text run", err)
				}
				paragraph.WriteString(text)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				flushParagraph()
			case "tc":
				if inCell {
					row = append(row, strings.TrimSpace(cell.String()))
					inCell = false
				}
			case "tr":
				if inTable {
					lines = append(lines, strings.Join(row, " | "))
					row = nil
				}
			case "tbl":
				inTable = false
			}
		}
	}
	flushParagraph()

	return strings.Join(lines, "\n"), nil
}
