// Package finalize composes each segment's combined content and tool
// record, writes the analysis artifact, and enqueues the index write.
package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/state"
)

// ToolOutput is one tool's contribution in the segment's tools record.
type ToolOutput struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ToolsRecord groups per-tool outputs on one segment.
type ToolsRecord struct {
	BDAIndexer       []ToolOutput `json:"bda_indexer"`
	PDFTextExtractor []ToolOutput `json:"pdf_text_extractor"`
	ImageAnalysis    []ToolOutput `json:"image_analysis"`
}

// Artifact is the per-segment analysis record written under
// analysis/segment_{nnnn}.json in the document prefix.
type Artifact struct {
	WorkflowID      string               `json:"workflow_id"`
	SegmentID       string               `json:"segment_id"`
	SegmentIndex    int                  `json:"segment_index"`
	Status          state.SegmentStatus  `json:"status"`
	ContentCombined string               `json:"content_combined"`
	Tools           ToolsRecord          `json:"tools"`
	AnalysisSteps   []state.AnalysisStep `json:"analysis_steps,omitempty"`
}

// Finalizer turns analyzed segments into write-queue messages.
type Finalizer struct {
	store  objstore.Store
	queue  queue.Queue
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Finalizer.
func New(store objstore.Store, q queue.Queue, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: store, queue: q, logger: logger, now: time.Now}
}

// Finalize composes the segment's combined content, persists the
// analysis artifact, and enqueues the index write message.
func (f *Finalizer) Finalize(ctx context.Context, wf *state.Workflow, seg *state.Segment) error {
	combined := CombineContent(seg)
	tools := f.toolsRecord(seg)

	artifact := Artifact{
		WorkflowID:      wf.WorkflowID,
		SegmentID:       seg.SegmentID,
		SegmentIndex:    seg.SegmentIndex,
		Status:          seg.Status,
		ContentCombined: combined,
		Tools:           tools,
		AnalysisSteps:   seg.AnalysisSteps,
	}
	if err := f.writeArtifact(ctx, wf, &artifact); err != nil {
		return err
	}

	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("marshal tools record: %w", err)
	}
	msg := queue.WriteMessage{
		WorkflowID:      wf.WorkflowID,
		DocumentID:      wf.DocumentID,
		SegmentID:       seg.SegmentID,
		SegmentIndex:    seg.SegmentIndex,
		Status:          string(seg.Status),
		Tools:           toolsJSON,
		ContentCombined: combined,
		FileURI:         wf.FileURI,
		FileType:        wf.FileType,
		ImageURI:        seg.ImageURI,
	}
	if err := f.queue.Publish(ctx, queue.SubjectWrite, msg); err != nil {
		return flowerr.TransientIO("enqueue index write", err)
	}

	f.logger.Info("segment finalized",
		slog.String("workflow_id", wf.WorkflowID),
		slog.String("segment_id", seg.SegmentID),
		slog.String("status", string(seg.Status)))
	return nil
}

// CombineContent concatenates the segment's non-empty content blocks
// with blank-line separators, layout analysis first, then extracted
// text, then the model's report.
func CombineContent(seg *state.Segment) string {
	var blocks []string
	if seg.BDAContent != "" {
		blocks = append(blocks, "## BDA Analysis\n"+seg.BDAContent)
	}
	if seg.ParsedText != "" {
		blocks = append(blocks, "## PDF Text\n"+seg.ParsedText)
	}
	if seg.AnalysisResult != "" {
		blocks = append(blocks, "## AI Analysis\n"+seg.AnalysisResult)
	}
	return strings.Join(blocks, "\n\n")
}

func (f *Finalizer) toolsRecord(seg *state.Segment) ToolsRecord {
	ts := f.now().UTC().Format(time.RFC3339)
	rec := ToolsRecord{
		BDAIndexer:       []ToolOutput{},
		PDFTextExtractor: []ToolOutput{},
		ImageAnalysis:    []ToolOutput{},
	}
	if seg.BDAContent != "" {
		rec.BDAIndexer = append(rec.BDAIndexer, ToolOutput{Content: seg.BDAContent, Timestamp: ts})
	}
	if seg.ParsedText != "" {
		rec.PDFTextExtractor = append(rec.PDFTextExtractor, ToolOutput{Content: seg.ParsedText, Timestamp: ts})
	}
	if seg.AnalysisResult != "" {
		rec.ImageAnalysis = append(rec.ImageAnalysis, ToolOutput{Content: seg.AnalysisResult, Timestamp: ts})
	}
	return rec
}

func (f *Finalizer) writeArtifact(ctx context.Context, wf *state.Workflow, artifact *Artifact) error {
	uri, err := objstore.ParseURI(wf.FileURI)
	if err != nil {
		return err
	}
	out := uri.Dir().Join("analysis", fmt.Sprintf("segment_%04d.json", artifact.SegmentIndex))
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analysis artifact: %w", err)
	}
	return f.store.PutBytes(ctx, out, data, "application/json")
}
