// Package state persists per-workflow status, per-step lifecycle, and
// per-segment records in a composite-key (PK, SK) SQLite store.
package state

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus is the lifecycle state of one ingestion attempt.
type WorkflowStatus string

const (
	WorkflowCreated       WorkflowStatus = "CREATED"
	WorkflowPreprocessing WorkflowStatus = "PREPROCESSING"
	WorkflowAnalyzing     WorkflowStatus = "ANALYZING"
	WorkflowCompleted     WorkflowStatus = "COMPLETED"
	WorkflowFailed        WorkflowStatus = "FAILED"
)

// StepState is the lifecycle state of one preprocessing or analysis step.
type StepState string

const (
	StepPending StepState = "PENDING"
	StepRunning StepState = "RUNNING"
	StepDone    StepState = "DONE"
	StepSkipped StepState = "SKIPPED"
	StepFailed  StepState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s StepState) Terminal() bool {
	switch s {
	case StepDone, StepSkipped, StepFailed:
		return true
	}
	return false
}

// rank orders step states along the legal transition path.
func (s StepState) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepRunning:
		return 1
	default:
		return 2
	}
}

// StepName identifies a track or analysis step on a workflow.
type StepName string

// Fixed step names. Per-segment analyzer and finalizer steps are derived
// via AnalyzerStep and FinalizerStep.
const (
	StepOCR            StepName = "OCR"
	StepBDA            StepName = "BDA"
	StepTranscribe     StepName = "TRANSCRIBE"
	StepWebcrawler     StepName = "WEBCRAWLER"
	StepFormatParser   StepName = "FORMAT_PARSER"
	StepSegmentBuilder StepName = "SEGMENT_BUILDER"
	StepSummarizer     StepName = "SUMMARIZER"
)

// PreprocessingSteps are the tracks the status checker aggregates.
var PreprocessingSteps = []StepName{
	StepOCR, StepBDA, StepTranscribe, StepWebcrawler, StepFormatParser,
}

// AnalyzerStep names the per-segment analyzer step for segment i.
func AnalyzerStep(i int) StepName {
	return StepName(fmt.Sprintf("SEGMENT_ANALYZER_%04d", i))
}

// FinalizerStep names the per-segment finalizer step for segment i.
func FinalizerStep(i int) StepName {
	return StepName(fmt.Sprintf("FINALIZER_%04d", i))
}

// IsAnalyzerStep reports whether the name is a per-segment analyzer step.
func IsAnalyzerStep(name StepName) bool {
	return strings.HasPrefix(string(name), "SEGMENT_ANALYZER_")
}

// ResolvedSettings are the per-document processing options after the
// document ?? project ?? hard-default resolution.
type ResolvedSettings struct {
	Language         string            `json:"language"`
	UseBDA           bool              `json:"use_bda"`
	UseOCR           bool              `json:"use_ocr"`
	UseTranscribe    bool              `json:"use_transcribe"`
	OCRModel         string            `json:"ocr_model,omitempty"`
	OCROptions       map[string]string `json:"ocr_options,omitempty"`
	DocumentPrompt   string            `json:"document_prompt,omitempty"`
	SourceURL        string            `json:"source_url,omitempty"`
	CrawlInstruction string            `json:"crawl_instruction,omitempty"`
}

// Workflow is one ingestion attempt for one uploaded file.
type Workflow struct {
	WorkflowID string           `json:"workflow_id"`
	DocumentID string           `json:"document_id"`
	ProjectID  string           `json:"project_id"`
	FileURI    string           `json:"file_uri"`
	FileName   string           `json:"file_name"`
	FileType   string           `json:"file_type"`
	Status     WorkflowStatus   `json:"status"`
	Settings   ResolvedSettings `json:"resolved_settings"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Error      string           `json:"error,omitempty"`
}

// StepRecord is the persisted lifecycle of one step.
type StepRecord struct {
	State     StepState `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// AnalysisStep is one entry in a segment's tool trail.
type AnalysisStep struct {
	StepNo   int    `json:"step_no"`
	Tool     string `json:"tool"`
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`
}

// SegmentStatus is the per-segment analysis outcome.
type SegmentStatus string

const (
	SegmentPending   SegmentStatus = "pending"
	SegmentCompleted SegmentStatus = "completed"
	SegmentFailed    SegmentStatus = "failed"
)

// SegmentID composes the canonical identifier for a workflow's segment.
func SegmentID(workflowID string, index int) string {
	return fmt.Sprintf("%s-seg-%04d", workflowID, index)
}

// Segment is one ordered unit of a document.
type Segment struct {
	WorkflowID     string         `json:"workflow_id"`
	SegmentID      string         `json:"segment_id"`
	SegmentIndex   int            `json:"segment_index"`
	ImageURI       string         `json:"image_uri,omitempty"`
	ParsedText     string         `json:"parsed_text"`
	BDAContent     string         `json:"bda_content"`
	AnalysisResult string         `json:"analysis_result,omitempty"`
	AnalysisSteps  []AnalysisStep `json:"analysis_steps,omitempty"`
	Status         SegmentStatus  `json:"status"`
}

// Key composition for the (PK, SK) layout.
const (
	pkDocPrefix = "DOC#"
	pkWFPrefix  = "WF#"
	skWFPrefix  = "WF#"
	skStep      = "STEP"
	skSegPrefix = "SEG#"
)

func docPK(documentID string) string      { return pkDocPrefix + documentID }
func workflowPK(workflowID string) string { return pkWFPrefix + workflowID }
func workflowSK(workflowID string) string { return skWFPrefix + workflowID }

func segmentSK(index int) string { return fmt.Sprintf("%s%04d", skSegPrefix, index) }
