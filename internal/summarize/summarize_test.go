package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/embed"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/index"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/state"
)

type fakeChat struct {
	response string
	err      error
	requests []openai.ChatCompletionRequest
}

func (c *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: c.response}},
		},
	}, nil
}

type fixture struct {
	idx   *index.Store
	store *objstore.MemStore
	chat  *fakeChat
	sum   *Summarizer
	wf    *state.Workflow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	embedder := embed.NewStaticEmbedder(32)
	t.Cleanup(func() { embedder.Close() })

	idx, err := index.Open(index.Options{Dir: t.TempDir(), Embedder: embedder})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	store := objstore.NewMemStore()
	chat := &fakeChat{response: "## Document Overview\nA report."}
	cfg := config.ModelConfig{ChatModel: "chat-model"}

	wf := &state.Workflow{
		WorkflowID: "wf-1",
		DocumentID: "d1",
		ProjectID:  "p1",
		FileURI:    objstore.DocumentPrefix("uploads", "p1", "d1").Join("report.pdf").String(),
		Settings:   state.ResolvedSettings{Language: "ko"},
	}
	return &fixture{
		idx:   idx,
		store: store,
		chat:  chat,
		sum:   New(idx, store, chat, cfg, nil),
		wf:    wf,
	}
}

func (f *fixture) putRecord(t *testing.T, segmentIndex int, content string) {
	t.Helper()
	require.NoError(t, f.idx.Upsert(context.Background(), &index.Record{
		DocumentID:      "d1",
		SegmentID:       state.SegmentID("wf-1", segmentIndex),
		SegmentIndex:    segmentIndex,
		WorkflowID:      "wf-1",
		Status:          index.StatusCompleted,
		ContentCombined: content,
	}))
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	// Inserted out of order; the prompt must follow segment_index.
	f.putRecord(t, 1, "second page")
	f.putRecord(t, 0, "first page")

	summary, err := f.sum.Summarize(context.Background(), f.wf)
	require.NoError(t, err)

	assert.Equal(t, "ko", summary.Language)
	assert.Equal(t, 2, summary.TotalPages)
	assert.Equal(t, "## Document Overview\nA report.", summary.DocumentSummary)

	require.Len(t, f.chat.requests, 1)
	req := f.chat.requests[0]
	assert.Equal(t, "chat-model", req.Model)
	assert.Equal(t, maxOutputTokens, req.MaxTokens)

	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "language corresponding to code: ko")
	first := strings.Index(prompt, "### Page 1\nfirst page")
	second := strings.Index(prompt, "### Page 2\nsecond page")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first, "pages appear in segment order")
}

func TestSummarize_WritesArtifact(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, 0, "only page")

	_, err := f.sum.Summarize(context.Background(), f.wf)
	require.NoError(t, err)

	uri := objstore.DocumentPrefix("uploads", "p1", "d1").Join("analysis", "summary.json")
	data, err := f.store.GetBytes(context.Background(), uri)
	require.NoError(t, err)

	var stored Summary
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, 1, stored.TotalPages)
	assert.NotEmpty(t, stored.DocumentSummary)
}

func TestSummarize_NoSegments(t *testing.T) {
	f := newFixture(t)

	_, err := f.sum.Summarize(context.Background(), f.wf)
	assert.Equal(t, flowerr.CodeNoSegments, flowerr.CodeOf(err))
	assert.Empty(t, f.chat.requests, "no model call without segments")
}

func TestSummarize_ModelError(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, 0, "page")
	f.chat.err = errors.New("upstream 500")

	_, err := f.sum.Summarize(context.Background(), f.wf)
	assert.Equal(t, flowerr.CodeModelAgent, flowerr.CodeOf(err))
}

func TestConcatSegments_InputCap(t *testing.T) {
	long := strings.Repeat("x", maxInputChars)
	records := []*index.Record{
		{SegmentIndex: 0, ContentCombined: long},
		{SegmentIndex: 1, ContentCombined: long},
	}
	assert.Len(t, concatSegments(records), maxInputChars)
}
