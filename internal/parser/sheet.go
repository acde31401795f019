package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/router"
)

// parseWorkbook reads an Excel workbook and emits one chunk per sheet
// as a markdown table under a "## Sheet: {name}" heading.
func (p *Parser) parseWorkbook(data []byte, fileType string) (*Result, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, flowerr.InvalidInput("unreadable workbook", err)
	}
	defer wb.Close()

	var chunks []Chunk
	for _, name := range wb.GetSheetList() {
		rows, err := wb.GetRows(name)
		if err != nil {
			return nil, flowerr.InvalidInput(fmt.Sprintf("read sheet %q", name), err)
		}
		text := sheetMarkdown(name, rows)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: text})
	}
	return &Result{FileType: typeNameForSheet(fileType), Chunks: chunks}, nil
}

// parseCSV treats the file as a single sheet named Sheet1.
func (p *Parser) parseCSV(data []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, flowerr.InvalidInput("unreadable csv", err)
	}

	var chunks []Chunk
	if text := sheetMarkdown("Sheet1", rows); text != "" {
		chunks = append(chunks, Chunk{ChunkIndex: 0, Text: text})
	}
	return &Result{FileType: "csv", Chunks: chunks}, nil
}

// sheetMarkdown renders rows as a markdown table. Empty rows are
// skipped; an entirely empty sheet yields "".
func sheetMarkdown(name string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("## Sheet: " + name + "\n")

	wrote := false
	for _, row := range rows {
		if rowEmpty(row) {
			continue
		}
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = sanitizeCell(c)
		}
		b.WriteString("\n| " + strings.Join(cells, " | ") + " |")
		wrote = true
	}
	if !wrote {
		return ""
	}
	return b.String()
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// sanitizeCell keeps cell content table-safe: newlines collapse to
// spaces and pipes are escaped.
func sanitizeCell(c string) string {
	c = strings.ReplaceAll(c, "\r\n", " ")
	c = strings.ReplaceAll(c, "\n", " ")
	c = strings.ReplaceAll(c, "|", `\|`)
	return strings.TrimSpace(c)
}

func typeNameForSheet(fileType string) string {
	if fileType == router.MimeXLS {
		return "xls"
	}
	return "xlsx"
}
