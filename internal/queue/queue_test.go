package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

func TestMemQueue_PublishDelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	defer q.Close()

	var got TrackMessage
	_, err := q.Subscribe(SubjectWorkflow, func(ctx context.Context, data []byte) error {
		return json.Unmarshal(data, &got)
	})
	require.NoError(t, err)

	msg := TrackMessage{WorkflowID: "wf-1", DocumentID: "d1", ProcessingType: ProcessingDocument}
	require.NoError(t, q.Publish(ctx, SubjectWorkflow, msg))

	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, ProcessingDocument, got.ProcessingType)
	assert.Len(t, q.Published(SubjectWorkflow), 1)
}

func TestMemQueue_RetriesThenDLQ(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	defer q.Close()

	attempts := 0
	_, err := q.Subscribe(SubjectWrite, func(ctx context.Context, data []byte) error {
		attempts++
		return flowerr.TransientIO("index busy", nil)
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, SubjectWrite, WriteMessage{DocumentID: "d1", SegmentID: "s0"}))

	assert.Equal(t, DefaultMaxRetries, attempts)
	dlq := q.DLQ(SubjectWrite)
	require.Len(t, dlq, 1)
	assert.Equal(t, DefaultMaxRetries, dlq[0].Retries)
	assert.Contains(t, dlq[0].Error, "index busy")
}

func TestMemQueue_InvalidInputDroppedWithoutRetry(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	defer q.Close()

	attempts := 0
	_, err := q.Subscribe(SubjectWorkflow, func(ctx context.Context, data []byte) error {
		attempts++
		return flowerr.InvalidInput("missing document_id", nil)
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, SubjectWorkflow, TrackMessage{}))

	assert.Equal(t, 1, attempts)
	assert.Empty(t, q.DLQ(SubjectWorkflow))
}

func TestMemQueue_TransientFailureRecovers(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	defer q.Close()

	attempts := 0
	_, err := q.Subscribe(SubjectWrite, func(ctx context.Context, data []byte) error {
		attempts++
		if attempts < 2 {
			return flowerr.TransientIO("flaky", nil)
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, SubjectWrite, WriteMessage{DocumentID: "d1"}))

	assert.Equal(t, 2, attempts)
	assert.Empty(t, q.DLQ(SubjectWrite))
}

func TestMemQueue_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	defer q.Close()

	delivered := 0
	sub, err := q.Subscribe(SubjectOCR, func(ctx context.Context, data []byte) error {
		delivered++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, SubjectOCR, TrackMessage{WorkflowID: "wf-1"}))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, q.Publish(ctx, SubjectOCR, TrackMessage{WorkflowID: "wf-2"}))

	assert.Equal(t, 1, delivered)
}

func TestWriteMessage_RoundTrip(t *testing.T) {
	msg := WriteMessage{
		WorkflowID:      "wf-1",
		DocumentID:      "d1",
		SegmentID:       "wf-1-seg-0000",
		SegmentIndex:    0,
		Status:          "completed",
		Tools:           json.RawMessage(`{"image_analysis":[]}`),
		ContentCombined: "## AI Analysis\ntext",
		FileURI:         "store://uploads/projects/p1/documents/d1/a.pdf",
		FileType:        "application/pdf",
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back WriteMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg, back)
}
