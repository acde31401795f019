package agent

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/config"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/state"
)

// scriptedClient replays canned responses in order and records every
// request it saw.
type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	err       error
	requests  []openai.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return openai.ChatCompletionResponse{}, c.err
	}
	if len(c.responses) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("script exhausted")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func finalResp(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
}

func toolResp(name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{
					{
						ID:   "call-1",
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      name,
							Arguments: args,
						},
					},
				},
			}},
		},
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func modelCfg(maxIter int) config.ModelConfig {
	return config.ModelConfig{
		ChatModel:     "chat-model",
		VisionModel:   "vision-model",
		MaxIterations: maxIter,
	}
}

func putImage(t *testing.T, store objstore.Store, w, h int) string {
	t.Helper()
	uri := objstore.DocumentPrefix("uploads", "p1", "d1").Join("page.png")
	require.NoError(t, store.PutBytes(context.Background(), uri, pngBytes(t, w, h), "image/png"))
	return uri.String()
}

func TestAnalyze_TextOnly(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		finalResp("## Overview\nA short text segment."),
	}}
	a := New(client, objstore.NewMemStore(), modelCfg(5), nil)

	seg := &state.Segment{WorkflowID: "wf-1", ParsedText: "hello"}
	result, err := a.Analyze(context.Background(), seg, "en")
	require.NoError(t, err)

	assert.Equal(t, "## Overview\nA short text segment.", result.AnalysisResult)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.Steps)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "chat-model", req.Model)
	assert.Empty(t, req.Tools, "text-only analysis exposes no image tools")
	assert.Contains(t, req.Messages[0].Content, "language corresponding to code: en")
	assert.Contains(t, req.Messages[1].Content, "hello")
}

func TestAnalyze_RotateThenAnalyzeThenReport(t *testing.T) {
	store := objstore.NewMemStore()
	imageURI := putImage(t, store, 4, 2)

	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolResp(toolRotateImage, `{"degrees": 90}`),
		toolResp(toolAnalyzeImage, `{"question": "What does the diagram show?"}`),
		finalResp("a flow chart with three boxes"), // vision model answer
		finalResp("## Overview\nA flow chart."),
	}}
	a := New(client, store, modelCfg(10), nil)

	seg := &state.Segment{WorkflowID: "wf-1", ImageURI: imageURI, ParsedText: "diagram", BDAContent: "one figure"}
	result, err := a.Analyze(context.Background(), seg, "ko")
	require.NoError(t, err)

	assert.Equal(t, "## Overview\nA flow chart.", result.AnalysisResult)
	assert.Equal(t, 3, result.Iterations)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.Steps[0].StepNo)
	assert.Equal(t, toolRotateImage, result.Steps[0].Tool)
	assert.Equal(t, 2, result.Steps[1].StepNo)
	assert.Equal(t, toolAnalyzeImage, result.Steps[1].Tool)
	assert.Equal(t, "What does the diagram show?", result.Steps[1].Question)
	assert.Equal(t, "a flow chart with three boxes", result.Steps[1].Answer)

	require.Len(t, client.requests, 4)
	assert.Equal(t, "chat-model", client.requests[0].Model)
	assert.Equal(t, "vision-model", client.requests[2].Model)
	require.NotEmpty(t, client.requests[0].Tools)

	// The vision call sees the rotated bytes, not the original upload.
	original := client.requests[0].Messages[1].MultiContent[1].ImageURL.URL
	visionMsg := client.requests[2].Messages[0]
	assert.NotEqual(t, original, visionMsg.MultiContent[1].ImageURL.URL)
	assert.Contains(t, visionMsg.MultiContent[0].Text, "Previous context")
	assert.Contains(t, visionMsg.MultiContent[0].Text, "one figure")
}

func TestAnalyze_IterationBudget(t *testing.T) {
	store := objstore.NewMemStore()
	imageURI := putImage(t, store, 2, 2)

	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolResp(toolRotateImage, `{"degrees": 90}`),
		toolResp(toolRotateImage, `{"degrees": 180}`),
	}}
	a := New(client, store, modelCfg(2), nil)

	seg := &state.Segment{WorkflowID: "wf-1", ImageURI: imageURI}
	result, err := a.Analyze(context.Background(), seg, "en")
	assert.Equal(t, flowerr.CodeModelAgent, flowerr.CodeOf(err))
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.Steps, 2, "steps taken before exhaustion are preserved")
}

func TestAnalyze_ModelErrorPreservesSteps(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream 503")}
	a := New(client, objstore.NewMemStore(), modelCfg(5), nil)

	result, err := a.Analyze(context.Background(), &state.Segment{WorkflowID: "wf-1", ParsedText: "x"}, "en")
	assert.Equal(t, flowerr.CodeModelAgent, flowerr.CodeOf(err))
	require.NotNil(t, result)
	assert.Empty(t, result.Steps)
}

func TestAnalyze_MissingImageFails(t *testing.T) {
	client := &scriptedClient{}
	a := New(client, objstore.NewMemStore(), modelCfg(5), nil)

	seg := &state.Segment{WorkflowID: "wf-1", ImageURI: "store://uploads/p1/gone.png"}
	_, err := a.Analyze(context.Background(), seg, "en")
	require.Error(t, err)
	assert.Empty(t, client.requests, "no model call without the image")
}

func TestImageState_Rotate(t *testing.T) {
	s, err := newImageState(pngBytes(t, 4, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, s.Bounds().Dx())
	assert.Equal(t, 2, s.Bounds().Dy())

	before := s.DataURL()
	require.NoError(t, s.Rotate(90))
	assert.Equal(t, 2, s.Bounds().Dx())
	assert.Equal(t, 4, s.Bounds().Dy())
	assert.NotEqual(t, before, s.DataURL())

	require.NoError(t, s.Rotate(180))
	assert.Equal(t, 2, s.Bounds().Dx())

	// Free rotation expands the canvas.
	require.NoError(t, s.Rotate(45))
	assert.Greater(t, s.Bounds().Dx(), 2)
}

func TestImageState_BadBytes(t *testing.T) {
	_, err := newImageState([]byte("not a png"))
	assert.Equal(t, flowerr.CodeInvalidInput, flowerr.CodeOf(err))
}
