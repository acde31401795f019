package indexwriter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/embed"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/index"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/state"
)

func newWriter(t *testing.T) (*Writer, *index.Store) {
	t.Helper()
	embedder := embed.NewStaticEmbedder(64)
	t.Cleanup(func() { embedder.Close() })

	idx, err := index.Open(index.Options{Dir: t.TempDir(), Embedder: embedder})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	return New(idx, embed.NewService(embedder, nil), nil), idx
}

func writeMsg(segmentIndex int, content string) queue.WriteMessage {
	return queue.WriteMessage{
		WorkflowID:      "wf-1",
		DocumentID:      "d1",
		SegmentID:       state.SegmentID("wf-1", segmentIndex),
		SegmentIndex:    segmentIndex,
		Status:          "completed",
		Tools:           json.RawMessage(`{"bda_indexer":[],"pdf_text_extractor":[],"image_analysis":[]}`),
		ContentCombined: content,
		FileURI:         "store://uploads/projects/p1/documents/d1/report.pdf",
		FileType:        "application/pdf",
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleMessage_CommitsRecord(t *testing.T) {
	ctx := context.Background()
	w, idx := newWriter(t)

	msg := writeMsg(0, "## PDF Text\n터빈 발전기 점검 보고서")
	require.NoError(t, w.HandleMessage(ctx, marshal(t, msg)))

	records, err := idx.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, msg.SegmentID, rec.SegmentID)
	assert.Equal(t, index.StatusCompleted, rec.Status)
	assert.Equal(t, msg.ContentCombined, rec.ContentCombined)
	assert.Contains(t, rec.Keywords, "터빈")
	assert.False(t, rec.ZeroVector)
	assert.JSONEq(t, string(msg.Tools), rec.ToolsJSON)
}

func TestHandleMessage_Replay(t *testing.T) {
	ctx := context.Background()
	w, idx := newWriter(t)

	data := marshal(t, writeMsg(0, "stable content"))
	require.NoError(t, w.HandleMessage(ctx, data))
	require.NoError(t, w.HandleMessage(ctx, data))

	records, err := idx.GetSegments(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, records, 1, "replaying the same message keeps one record")

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandleMessage_TruncatesLongContent(t *testing.T) {
	ctx := context.Background()
	w, idx := newWriter(t)

	long := make([]byte, embed.MaxInputChars+500)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, w.HandleMessage(ctx, marshal(t, writeMsg(0, string(long)))))

	records, err := idx.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Content, embed.MaxInputChars)
	assert.Len(t, records[0].ContentCombined, embed.MaxInputChars+500)
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	w, _ := newWriter(t)

	err := w.HandleMessage(context.Background(), []byte("{broken"))
	assert.Equal(t, flowerr.CodeInvalidInput, flowerr.CodeOf(err))

	err = w.HandleMessage(context.Background(), marshal(t, queue.WriteMessage{WorkflowID: "wf-1"}))
	assert.Equal(t, flowerr.CodeInvalidInput, flowerr.CodeOf(err))
}

func TestWriter_ConsumesWriteQueue(t *testing.T) {
	ctx := context.Background()
	w, idx := newWriter(t)

	q := queue.NewMemQueue()
	sub, err := w.Start(q)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, q.Publish(ctx, queue.SubjectWrite, writeMsg(1, "queued content")))

	records, err := idx.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].SegmentIndex)
}
