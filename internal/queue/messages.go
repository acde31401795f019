// Package queue carries the pipeline's durable hand-offs: track fan-out
// messages from the event router and write messages from the finalizer
// to the index writer. Delivery is at-least-once; consumers are
// idempotent.
package queue

import "encoding/json"

// Track subjects relative to the configured prefix.
const (
	SubjectEvents     = "events"
	SubjectOCR        = "track.ocr"
	SubjectBDA        = "track.bda"
	SubjectTranscribe = "track.transcribe"
	SubjectWebcrawler = "track.webcrawler"
	SubjectWorkflow   = "track.workflow"
	SubjectWrite      = "write"
)

// DLQSuffix is appended to a subject for its dead-letter stream.
const DLQSuffix = ".dlq"

// RetryHeader counts redeliveries of a message.
const RetryHeader = "X-Retry-Count"

// Processing types carried on the workflow track.
const (
	ProcessingDocument = "document"
	ProcessingImage    = "image"
	ProcessingVideo    = "video"
	ProcessingAudio    = "audio"
	ProcessingText     = "text"
	ProcessingWeb      = "web"
)

// TrackMessage is the shape shared by every track queue.
type TrackMessage struct {
	WorkflowID string `json:"workflow_id"`
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	FileURI    string `json:"file_uri"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
	Language   string `json:"language"`
	Processor  string `json:"processor"`

	// OCR track only.
	OCRModel   string            `json:"ocr_model,omitempty"`
	OCROptions map[string]string `json:"ocr_options,omitempty"`

	// Workflow track only.
	ProcessingType string `json:"processing_type,omitempty"`
	UseBDA         bool   `json:"use_bda,omitempty"`
	DocumentPrompt string `json:"document_prompt,omitempty"`

	// Webcrawler track only.
	SourceURL        string `json:"source_url,omitempty"`
	CrawlInstruction string `json:"crawl_instruction,omitempty"`
}

// WriteMessage is the finalizer-to-index-writer payload, one per segment.
type WriteMessage struct {
	WorkflowID      string          `json:"workflow_id"`
	DocumentID      string          `json:"document_id"`
	SegmentID       string          `json:"segment_id"`
	SegmentIndex    int             `json:"segment_index"`
	Status          string          `json:"status"`
	Tools           json.RawMessage `json:"tools"`
	ContentCombined string          `json:"content_combined"`
	FileURI         string          `json:"file_uri"`
	FileType        string          `json:"file_type"`
	ImageURI        string          `json:"image_uri,omitempty"`
}

// DLQMessage wraps a message that exhausted its retries.
type DLQMessage struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
	Retries int             `json:"retries"`
}
