// Package agent runs the per-segment vision analysis loop. A chat model
// reasons over the segment's parsed text, BDA content and image using
// two tools (analyze_image, rotate_image) and produces a structured
// Markdown report.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docuflow/docuflow/internal/config"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/state"
)

// ChatClient is the slice of the OpenAI client the agent needs.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ ChatClient = (*openai.Client)(nil)

const (
	toolAnalyzeImage = "analyze_image"
	toolRotateImage  = "rotate_image"

	defaultMaxIterations = 10
)

var analyzeImageSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {
			"type": "string",
			"description": "A specific question about the image content."
		}
	},
	"required": ["question"]
}`)

var rotateImageSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"degrees": {
			"type": "number",
			"description": "Counter-clockwise rotation in degrees. 90, 180 and 270 are fast paths."
		}
	},
	"required": ["degrees"]
}`)

const systemPromptTemplate = `You are a document analysis agent. You are given one segment of a document: its extracted text, optional layout analysis, and optionally the page image.

Work in this order:
1. If an image is present, verify its orientation first. Use rotate_image if the content is sideways or upside down.
2. Ask targeted questions about the image with analyze_image to resolve anything the text does not cover.
3. Synthesize a final report in exactly this Markdown shape:

## Overview
## Key Findings
## Technical Details
## Visual Elements
## Recommendations

Omit the tool calls from the report. You MUST respond in the language corresponding to code: %s`

// Result is one segment's analysis outcome.
type Result struct {
	AnalysisResult string
	Steps          []state.AnalysisStep
	Iterations     int
}

// Analyzer drives the tool loop for one segment at a time.
type Analyzer struct {
	client        ChatClient
	store         objstore.Store
	chatModel     string
	visionModel   string
	maxIterations int
	logger        *slog.Logger
}

// New creates an Analyzer from the model configuration.
func New(client ChatClient, store objstore.Store, cfg config.ModelConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	return &Analyzer{
		client:        client,
		store:         store,
		chatModel:     cfg.ChatModel,
		visionModel:   cfg.VisionModel,
		maxIterations: maxIter,
		logger:        logger,
	}
}

// Analyze runs the loop for one segment. On a model or tool failure the
// returned Result still carries the steps taken so far, alongside the
// error.
func (a *Analyzer) Analyze(ctx context.Context, seg *state.Segment, language string) (*Result, error) {
	result := &Result{}

	var img *imageState
	if seg.ImageURI != "" {
		loaded, err := a.loadImage(ctx, seg.ImageURI)
		if err != nil {
			return result, err
		}
		img = loaded
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf(systemPromptTemplate, language),
		},
		a.segmentMessage(seg, img),
	}

	var tools []openai.Tool
	if img != nil {
		tools = []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        toolAnalyzeImage,
					Description: "Ask the vision model a question about the current image.",
					Parameters:  analyzeImageSchema,
				},
			},
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        toolRotateImage,
					Description: "Rotate the current image counter-clockwise.",
					Parameters:  rotateImageSchema,
				},
			},
		}
	}

	for iter := 1; iter <= a.maxIterations; iter++ {
		result.Iterations = iter

		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.chatModel,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return result, flowerr.ModelAgent("segment analysis chat call", err)
		}
		if len(resp.Choices) == 0 {
			return result, flowerr.ModelAgent("chat response carried no choices", nil)
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			result.AnalysisResult = strings.TrimSpace(msg.Content)
			if result.AnalysisResult == "" {
				return result, flowerr.ModelAgent("chat response carried no content", nil)
			}
			return result, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			answer, err := a.dispatch(ctx, tc, seg, img, result)
			if err != nil {
				return result, err
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    answer,
			})
		}
	}

	return result, flowerr.ModelAgent(
		fmt.Sprintf("analysis did not converge within %d iterations", a.maxIterations), nil)
}

// segmentMessage builds the user turn with the segment's materials.
func (a *Analyzer) segmentMessage(seg *state.Segment, img *imageState) openai.ChatCompletionMessage {
	text := segmentContext(seg)
	if img == nil {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		}
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL()},
			},
		},
	}
}

// segmentContext is the "previous context" handed to both the planner
// and every analyze_image call.
func segmentContext(seg *state.Segment) string {
	var b strings.Builder
	b.WriteString("Analyze this document segment.\n")
	if seg.ParsedText != "" {
		b.WriteString("\nExtracted text:\n" + seg.ParsedText + "\n")
	}
	if seg.BDAContent != "" {
		b.WriteString("\nLayout analysis:\n" + seg.BDAContent + "\n")
	}
	return b.String()
}

func (a *Analyzer) dispatch(ctx context.Context, tc openai.ToolCall, seg *state.Segment, img *imageState, result *Result) (string, error) {
	if img == nil {
		return "", flowerr.ModelAgent(
			fmt.Sprintf("tool %s called on a segment without an image", tc.Function.Name), nil)
	}

	switch tc.Function.Name {
	case toolRotateImage:
		var args struct {
			Degrees float64 `json:"degrees"`
		}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return "", flowerr.ModelAgent("parse rotate_image arguments", err)
		}
		if err := img.Rotate(args.Degrees); err != nil {
			return "", err
		}
		answer := fmt.Sprintf("image rotated %g degrees counter-clockwise", args.Degrees)
		result.Steps = append(result.Steps, state.AnalysisStep{
			StepNo:   len(result.Steps) + 1,
			Tool:     toolRotateImage,
			Question: fmt.Sprintf("%g", args.Degrees),
			Answer:   answer,
		})
		return answer, nil

	case toolAnalyzeImage:
		var args struct {
			Question string `json:"question"`
		}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return "", flowerr.ModelAgent("parse analyze_image arguments", err)
		}
		answer, err := a.analyzeImage(ctx, args.Question, seg, img)
		if err != nil {
			return "", err
		}
		result.Steps = append(result.Steps, state.AnalysisStep{
			StepNo:   len(result.Steps) + 1,
			Tool:     toolAnalyzeImage,
			Question: args.Question,
			Answer:   answer,
		})
		return answer, nil
	}
	return "", flowerr.ModelAgent("unknown tool "+tc.Function.Name, nil)
}

// analyzeImage submits the current image bytes and the question to the
// vision model along with the segment's text context.
func (a *Analyzer) analyzeImage(ctx context.Context, question string, seg *state.Segment, img *imageState) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: question + "\n\nPrevious context:\n" + segmentContext(seg),
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: img.DataURL()},
					},
				},
			},
		},
	})
	if err != nil {
		return "", flowerr.ModelAgent("vision model call", err)
	}
	if len(resp.Choices) == 0 {
		return "", flowerr.ModelAgent("vision response carried no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (a *Analyzer) loadImage(ctx context.Context, imageURI string) (*imageState, error) {
	uri, err := objstore.ParseURI(imageURI)
	if err != nil {
		return nil, flowerr.InvalidInput("segment image uri", err)
	}
	data, err := a.store.GetBytes(ctx, uri)
	if err != nil {
		return nil, flowerr.TransientIO("load segment image", err)
	}
	return newImageState(data)
}
