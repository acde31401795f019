package parser

import (
	"strings"
	"unicode/utf8"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// Chunking parameters for plain text and markdown.
const (
	chunkSize      = 15000
	chunkOverlap   = 500
	boundaryWindow = 200
)

// parseText chunks UTF-8 text into overlapping windows.
func (p *Parser) parseText(data []byte, fileType string) (*Result, error) {
	if !utf8.Valid(data) {
		return nil, flowerr.InvalidInput("file is not valid utf-8", nil)
	}

	name := "text"
	if strings.HasSuffix(fileType, "markdown") {
		name = "markdown"
	}
	return &Result{FileType: name, Chunks: chunkText(string(data))}, nil
}

// chunkText splits text into windows of chunkSize runes with
// chunkOverlap runes of overlap, preferring to break at a sentence
// boundary within the last boundaryWindow runes of each window.
func chunkText(text string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end - 1; i > end-boundaryWindow && i > start; i-- {
				if isSentenceBoundary(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		chunkStr := strings.TrimSpace(string(runes[start:end]))
		if chunkStr != "" {
			chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: chunkStr})
		}
		if end == len(runes) {
			break
		}
		start = end - chunkOverlap
	}
	return chunks
}

func isSentenceBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	}
	return false
}

// normalizeWhitespace collapses runs of blank lines and trims trailing
// space so extracted page text is stable across readers.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
