// Package segment merges track outputs (format parser, OCR, BDA) into
// the ordered segment list a workflow analyzes.
package segment

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/parser"
	"github.com/docuflow/docuflow/internal/router"
	"github.com/docuflow/docuflow/internal/state"
)

// ocrResult is the artifact the external OCR track leaves under the
// document prefix at ocr/result.json.
type ocrResult struct {
	Pages []ocrPage `json:"pages"`
}

type ocrPage struct {
	PageIndex int    `json:"page_index"`
	Text      string `json:"text"`
	ImageURI  string `json:"image_uri,omitempty"`
}

// bdaResult is the artifact the external BDA track leaves under the
// document prefix at bda/result.json. Either per-page entries or a
// single document-level content blob.
type bdaResult struct {
	Pages   []bdaPage `json:"pages,omitempty"`
	Content string    `json:"content,omitempty"`
}

type bdaPage struct {
	PageIndex int    `json:"page_index"`
	Content   string `json:"content"`
}

// Builder materializes segments from track outputs.
type Builder struct {
	store  objstore.Store
	state  *state.Store
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(store objstore.Store, st *state.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: store, state: st, logger: logger}
}

// Build merges available track outputs into a dense, zero-based segment
// list, persists it, and returns it in order. A workflow with no usable
// source material yields an empty list.
func (b *Builder) Build(ctx context.Context, wf *state.Workflow) ([]*state.Segment, error) {
	parsed := b.loadParserResult(ctx, wf)
	ocr := b.loadOCR(ctx, wf)
	bda := b.loadBDA(ctx, wf)

	segments := b.materialize(wf, parsed, ocr)
	attachBDA(segments, bda)

	for _, seg := range segments {
		if err := b.state.PutSegment(ctx, seg); err != nil {
			return nil, err
		}
	}

	b.logger.Info("segments built",
		slog.String("workflow_id", wf.WorkflowID),
		slog.Int("segments", len(segments)))
	return segments, nil
}

// materialize picks the segment source: parser pages, parser chunks,
// OCR pages, then a bare image segment for image uploads.
func (b *Builder) materialize(wf *state.Workflow, parsed *parser.Result, ocr *ocrResult) []*state.Segment {
	newSegment := func(i int) *state.Segment {
		return &state.Segment{
			WorkflowID:   wf.WorkflowID,
			SegmentID:    state.SegmentID(wf.WorkflowID, i),
			SegmentIndex: i,
			Status:       state.SegmentPending,
		}
	}

	ocrPageByIndex := map[int]ocrPage{}
	if ocr != nil {
		for _, p := range ocr.Pages {
			ocrPageByIndex[p.PageIndex] = p
		}
	}

	switch {
	case parsed != nil && len(parsed.Pages) > 0:
		segments := make([]*state.Segment, len(parsed.Pages))
		for i, page := range parsed.Pages {
			seg := newSegment(i)
			seg.ParsedText = page.Text
			seg.ImageURI = page.ImageURI
			if seg.ImageURI == "" {
				if op, ok := ocrPageByIndex[i]; ok {
					seg.ImageURI = op.ImageURI
				}
			}
			segments[i] = seg
		}
		return segments

	case parsed != nil && len(parsed.Chunks) > 0:
		segments := make([]*state.Segment, len(parsed.Chunks))
		for i, chunk := range parsed.Chunks {
			seg := newSegment(i)
			seg.ParsedText = chunk.Text
			segments[i] = seg
		}
		return segments

	case ocr != nil && len(ocr.Pages) > 0:
		segments := make([]*state.Segment, len(ocr.Pages))
		for i, page := range ocr.Pages {
			seg := newSegment(i)
			seg.ParsedText = page.Text
			seg.ImageURI = page.ImageURI
			segments[i] = seg
		}
		return segments

	case router.IsImage(wf.FileType):
		seg := newSegment(0)
		seg.ImageURI = wf.FileURI
		return []*state.Segment{seg}
	}
	return nil
}

// attachBDA merges BDA content: per-page entries match by index, a
// document-level blob lands on segment 0.
func attachBDA(segments []*state.Segment, bda *bdaResult) {
	if bda == nil || len(segments) == 0 {
		return
	}
	if len(bda.Pages) > 0 {
		for _, p := range bda.Pages {
			if p.PageIndex >= 0 && p.PageIndex < len(segments) {
				segments[p.PageIndex].BDAContent = p.Content
			}
		}
		return
	}
	if bda.Content != "" {
		segments[0].BDAContent = bda.Content
	}
}

func (b *Builder) loadParserResult(ctx context.Context, wf *state.Workflow) *parser.Result {
	result, err := parser.LoadResult(ctx, b.store, wf.FileURI)
	if err != nil {
		return nil
	}
	return result
}

func (b *Builder) loadOCR(ctx context.Context, wf *state.Workflow) *ocrResult {
	var out ocrResult
	if !b.loadArtifact(ctx, wf, "ocr/result.json", &out) {
		return nil
	}
	return &out
}

func (b *Builder) loadBDA(ctx context.Context, wf *state.Workflow) *bdaResult {
	var out bdaResult
	if !b.loadArtifact(ctx, wf, "bda/result.json", &out) {
		return nil
	}
	return &out
}

func (b *Builder) loadArtifact(ctx context.Context, wf *state.Workflow, rel string, v any) bool {
	uri, err := objstore.ParseURI(wf.FileURI)
	if err != nil {
		return false
	}
	data, err := b.store.GetBytes(ctx, uri.Dir().Join(rel))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		b.logger.Warn("malformed track artifact",
			slog.String("workflow_id", wf.WorkflowID),
			slog.String("artifact", rel),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
