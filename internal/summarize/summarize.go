// Package summarize produces the document-level summary from committed
// index records once every segment has been analyzed and written.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docuflow/docuflow/internal/agent"
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/embed"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/index"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/state"
)

const (
	// maxInputChars caps the concatenated segment text sent to the model.
	maxInputChars = 50000

	// maxOutputTokens caps the summary response.
	maxOutputTokens = 2048
)

const summaryPromptTemplate = `Summarize the following document. Structure your answer as:

## Document Overview
## Key Findings
## Data Points
## Conclusion

You MUST respond in the language corresponding to code: %s

Document:
%s`

// Summary is the artifact written to analysis/summary.json.
type Summary struct {
	Language        string `json:"language"`
	TotalPages      int    `json:"total_pages"`
	DocumentSummary string `json:"document_summary"`
}

// Summarizer reads segments from the index and emits the summary.
type Summarizer struct {
	index  *index.Store
	store  objstore.Store
	client agent.ChatClient
	model  string
	logger *slog.Logger
}

// New creates a Summarizer.
func New(idx *index.Store, store objstore.Store, client agent.ChatClient, cfg config.ModelConfig, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		index:  idx,
		store:  store,
		client: client,
		model:  cfg.ChatModel,
		logger: logger,
	}
}

// Summarize builds the document summary and writes it under the
// document's analysis prefix. A document with zero committed segments
// fails with a no_segments error.
func (s *Summarizer) Summarize(ctx context.Context, wf *state.Workflow) (*Summary, error) {
	records, err := s.index.GetSegments(ctx, wf.DocumentID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, flowerr.New(flowerr.CodeNoSegments,
			"document has no segments to summarize", nil)
	}

	input := concatSegments(records)
	language := wf.Settings.Language

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: maxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(summaryPromptTemplate, language, input),
			},
		},
	})
	if err != nil {
		return nil, flowerr.ModelAgent("document summary call", err)
	}
	if len(resp.Choices) == 0 {
		return nil, flowerr.ModelAgent("summary response carried no choices", nil)
	}

	summary := &Summary{
		Language:        language,
		TotalPages:      len(records),
		DocumentSummary: strings.TrimSpace(resp.Choices[0].Message.Content),
	}
	if err := s.writeSummary(ctx, wf, summary); err != nil {
		return nil, err
	}

	s.logger.Info("document summarized",
		slog.String("workflow_id", wf.WorkflowID),
		slog.String("document_id", wf.DocumentID),
		slog.Int("total_pages", summary.TotalPages))
	return summary, nil
}

// concatSegments joins segment content in index order under page
// headings, capped at maxInputChars.
func concatSegments(records []*index.Record) string {
	var b strings.Builder
	for i, rec := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("### Page %d\n", rec.SegmentIndex+1))
		b.WriteString(rec.ContentCombined)
	}
	return embed.Truncate(b.String(), maxInputChars)
}

func (s *Summarizer) writeSummary(ctx context.Context, wf *state.Workflow, summary *Summary) error {
	uri, err := objstore.ParseURI(wf.FileURI)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	out := uri.Dir().Join("analysis", "summary.json")
	return s.store.PutBytes(ctx, out, data, "application/json")
}
