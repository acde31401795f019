// Package index is the hybrid segment index: SQLite rows with a
// co-located full-text index over keywords and an ANN index over
// embedding vectors. Search runs both and merges with a fixed,
// test-observable ordering.
package index

import "time"

// Record status values. A record enters as pending, becomes completed
// once analysis is committed, and failed when its workflow failed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is one committed segment row.
type Record struct {
	DocumentID   string `json:"document_id"`
	SegmentID    string `json:"segment_id"`
	SegmentIndex int    `json:"segment_index"`
	WorkflowID   string `json:"workflow_id"`
	Status       string `json:"status"`

	// ContentCombined is the full per-segment analysis text.
	ContentCombined string `json:"content_combined"`

	// Content is the truncated vector source (at most 10 000 chars).
	Content string `json:"content"`

	// Keywords is the extracted keyword stream ContentCombined derives.
	Keywords string `json:"keywords"`

	// ToolsJSON is the JSON document of per-tool output arrays.
	ToolsJSON string `json:"tools_json"`

	FileURI  string `json:"file_uri"`
	FileType string `json:"file_type"`
	ImageURI string `json:"image_uri,omitempty"`

	// Vector is the embedding of Content. All-zero when embedding
	// failed; such records are excluded from ANN and retry-eligible.
	Vector []float32 `json:"-"`

	// ZeroVector marks a record whose embedding was substituted.
	ZeroVector bool `json:"zero_vector"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite identity used for de-duplication and as the
// full-text and vector index document ID.
func (r *Record) Key() string {
	return r.DocumentID + "\x00" + r.SegmentID
}
