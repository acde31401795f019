// Package indexwriter consumes write-queue messages and commits them to
// the hybrid index. It is the only writer of index records; replaying a
// message overwrites the same (document_id, segment_id) row.
package indexwriter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/docuflow/docuflow/internal/embed"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/index"
	"github.com/docuflow/docuflow/internal/keyword"
	"github.com/docuflow/docuflow/internal/queue"
)

// Writer commits write messages to the index.
type Writer struct {
	index  *index.Store
	embed  *embed.Service
	logger *slog.Logger
}

// New creates a Writer.
func New(idx *index.Store, svc *embed.Service, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{index: idx, embed: svc, logger: logger}
}

// Start subscribes the writer to the write queue.
func (w *Writer) Start(q queue.Queue) (queue.Subscription, error) {
	return q.Subscribe(queue.SubjectWrite, w.HandleMessage)
}

// HandleMessage commits one write message. Malformed payloads are
// dropped; index failures return an error so the queue can redeliver.
func (w *Writer) HandleMessage(ctx context.Context, data []byte) error {
	var msg queue.WriteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logger.Warn("dropping malformed write message", slog.String("error", err.Error()))
		return flowerr.InvalidInput("decode write message", err)
	}
	if msg.DocumentID == "" || msg.SegmentID == "" {
		w.logger.Warn("dropping write message without identifiers",
			slog.String("workflow_id", msg.WorkflowID))
		return flowerr.InvalidInput("write message requires document_id and segment_id", nil)
	}

	content := embed.Truncate(msg.ContentCombined, embed.MaxInputChars)
	embedded := w.embed.EmbedTexts(ctx, []string{content})[0]

	rec := &index.Record{
		DocumentID:      msg.DocumentID,
		SegmentID:       msg.SegmentID,
		SegmentIndex:    msg.SegmentIndex,
		WorkflowID:      msg.WorkflowID,
		Status:          recordStatus(msg.Status),
		ContentCombined: msg.ContentCombined,
		Content:         content,
		Keywords:        keyword.Extract(msg.ContentCombined),
		ToolsJSON:       string(msg.Tools),
		FileURI:         msg.FileURI,
		FileType:        msg.FileType,
		ImageURI:        msg.ImageURI,
		Vector:          embedded.Vector,
		ZeroVector:      embedded.ZeroVector,
	}
	if err := w.index.Upsert(ctx, rec); err != nil {
		return err
	}

	w.logger.Info("index record committed",
		slog.String("document_id", msg.DocumentID),
		slog.String("segment_id", msg.SegmentID),
		slog.Bool("zero_vector", rec.ZeroVector))
	return nil
}

// recordStatus maps the message status onto the index vocabulary,
// defaulting to completed for the normal finalizer path.
func recordStatus(s string) string {
	switch s {
	case index.StatusPending, index.StatusCompleted, index.StatusFailed:
		return s
	}
	return index.StatusCompleted
}
