// Package orchestrate drives each workflow through its state machine:
// preprocessing poll, segment build, bounded-parallel analysis,
// finalization, and document summary.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docuflow/docuflow/internal/agent"
	"github.com/docuflow/docuflow/internal/config"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/finalize"
	"github.com/docuflow/docuflow/internal/parser"
	"github.com/docuflow/docuflow/internal/preprocess"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/segment"
	"github.com/docuflow/docuflow/internal/state"
	"github.com/docuflow/docuflow/internal/summarize"
)

// Orchestrator consumes the workflow track and runs each workflow to a
// terminal status.
type Orchestrator struct {
	cfg        config.PipelineConfig
	state      *state.Store
	checker    *preprocess.Checker
	parser     *parser.Parser
	builder    *segment.Builder
	analyzer   *agent.Analyzer
	finalizer  *finalize.Finalizer
	summarizer *summarize.Summarizer
	logger     *slog.Logger
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Pipeline   config.PipelineConfig
	State      *state.Store
	Checker    *preprocess.Checker
	Parser     *parser.Parser
	Builder    *segment.Builder
	Analyzer   *agent.Analyzer
	Finalizer  *finalize.Finalizer
	Summarizer *summarize.Summarizer
	Logger     *slog.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        opts.Pipeline,
		state:      opts.State,
		checker:    opts.Checker,
		parser:     opts.Parser,
		builder:    opts.Builder,
		analyzer:   opts.Analyzer,
		finalizer:  opts.Finalizer,
		summarizer: opts.Summarizer,
		logger:     logger,
	}
}

// Start subscribes the orchestrator to the workflow track.
func (o *Orchestrator) Start(q queue.Queue) (queue.Subscription, error) {
	return q.Subscribe(queue.SubjectWorkflow, o.HandleMessage)
}

// HandleMessage runs one workflow-track message to completion.
func (o *Orchestrator) HandleMessage(ctx context.Context, data []byte) error {
	var msg queue.TrackMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		o.logger.Warn("dropping malformed workflow message", slog.String("error", err.Error()))
		return flowerr.InvalidInput("decode workflow message", err)
	}
	if msg.WorkflowID == "" || msg.DocumentID == "" {
		return flowerr.InvalidInput("workflow message requires workflow_id and document_id", nil)
	}

	wf, err := o.state.GetWorkflow(ctx, msg.DocumentID, msg.WorkflowID)
	if err != nil {
		return err
	}
	return o.Run(ctx, wf)
}

// Run drives one workflow through its state machine. The returned error
// is nil for every terminal outcome the pipeline accounts for; only
// infrastructure faults propagate for queue redelivery.
func (o *Orchestrator) Run(ctx context.Context, wf *state.Workflow) error {
	log := o.logger.With(
		slog.String("workflow_id", wf.WorkflowID),
		slog.String("document_id", wf.DocumentID))

	if err := o.runFormatParser(ctx, wf, log); err != nil {
		return o.failWorkflow(ctx, wf, err, log)
	}

	report, err := o.pollPreprocess(ctx, wf, log)
	if err != nil {
		return o.failWorkflow(ctx, wf, err, log)
	}
	if report.AnyFailed {
		return o.failWorkflow(ctx, wf,
			flowerr.New(flowerr.CodeInternal, "preprocessing track failed", nil), log)
	}

	segments, err := o.buildSegments(ctx, wf)
	if err != nil {
		return o.failWorkflow(ctx, wf, err, log)
	}

	if err := o.state.SetWorkflowStatus(ctx, wf.DocumentID, wf.WorkflowID, state.WorkflowAnalyzing, ""); err != nil {
		return err
	}
	log.Info("workflow analyzing", slog.Int("segments", len(segments)))

	succeeded, err := o.analyzeSegments(ctx, wf, segments)
	if err != nil {
		return o.failWorkflow(ctx, wf, err, log)
	}
	if len(segments) > 0 && succeeded == 0 {
		return o.failWorkflow(ctx, wf,
			flowerr.ModelAgent("every segment failed analysis", nil), log)
	}

	if err := o.runSummarizer(ctx, wf); err != nil {
		return o.failWorkflow(ctx, wf, err, log)
	}

	if err := o.state.SetWorkflowStatus(ctx, wf.DocumentID, wf.WorkflowID, state.WorkflowCompleted, ""); err != nil {
		return err
	}
	log.Info("workflow completed", slog.Int("segments_succeeded", succeeded))
	return nil
}

// runFormatParser executes the parser track inline when the router left
// it pending. External tracks (OCR, BDA, transcribe, webcrawler) have
// their own workers; the parser is the one track this process owns.
func (o *Orchestrator) runFormatParser(ctx context.Context, wf *state.Workflow, log *slog.Logger) error {
	steps, err := o.state.GetSteps(ctx, wf.WorkflowID)
	if err != nil {
		return err
	}
	rec, ok := steps[state.StepFormatParser]
	if !ok || rec.State != state.StepPending {
		return nil
	}

	if err := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepFormatParser, state.StepRunning, ""); err != nil {
		return err
	}

	_, err = withStepTimeout(o, ctx, func(ctx context.Context) (*parser.Result, error) {
		return o.parser.Run(ctx, wf.FileURI, wf.FileType)
	})
	switch {
	case err == nil:
		return o.state.UpdateStep(ctx, wf.WorkflowID, state.StepFormatParser, state.StepDone, "")
	case flowerr.CodeOf(err) == flowerr.CodeUnsupportedFormat:
		log.Warn("format parser skipped", slog.String("file_type", wf.FileType))
		return o.state.UpdateStep(ctx, wf.WorkflowID, state.StepFormatParser, state.StepSkipped, err.Error())
	default:
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepFormatParser, state.StepFailed, err.Error()); stepErr != nil {
			log.Error("record parser failure", slog.String("error", stepErr.Error()))
		}
		return err
	}
}

// pollPreprocess waits for every external track to finish, checking at
// the configured cadence up to the poll budget.
func (o *Orchestrator) pollPreprocess(ctx context.Context, wf *state.Workflow, log *slog.Logger) (*preprocess.Report, error) {
	deadline := time.Now().Add(o.cfg.PollBudget)
	for {
		report, err := o.checker.Check(ctx, wf.WorkflowID)
		if err != nil {
			return nil, err
		}
		if report.AnyFailed || (report.AllCompleted && !report.AnalysisBusy) {
			return report, nil
		}
		if time.Now().After(deadline) {
			return nil, flowerr.New(flowerr.CodeTimeout,
				"preprocessing did not converge within the poll budget", nil)
		}

		log.Debug("preprocessing incomplete, polling again")
		select {
		case <-ctx.Done():
			return nil, flowerr.TransientIO("polling interrupted", ctx.Err())
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) buildSegments(ctx context.Context, wf *state.Workflow) ([]*state.Segment, error) {
	if err := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSegmentBuilder, state.StepRunning, ""); err != nil {
		return nil, err
	}
	segments, err := o.builder.Build(ctx, wf)
	if err != nil {
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSegmentBuilder, state.StepFailed, err.Error()); stepErr != nil {
			o.logger.Error("record builder failure", slog.String("error", stepErr.Error()))
		}
		return nil, err
	}
	return segments, o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSegmentBuilder, state.StepDone, "")
}

// analyzeSegments runs the vision agent over every segment with bounded
// parallelism, then finalizes each one. A failed analysis marks its
// segment failed and the workflow continues.
func (o *Orchestrator) analyzeSegments(ctx context.Context, wf *state.Workflow, segments []*state.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.AnalysisParallelism)
	for _, seg := range segments {
		g.Go(func() error {
			return o.analyzeOne(gctx, wf, seg)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	succeeded := 0
	for _, seg := range segments {
		if seg.Status == state.SegmentCompleted {
			succeeded++
		}
	}
	return succeeded, nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, wf *state.Workflow, seg *state.Segment) error {
	stepName := state.AnalyzerStep(seg.SegmentIndex)
	if err := o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepRunning, ""); err != nil {
		return err
	}

	result, err := withStepTimeout(o, ctx, func(ctx context.Context) (*agent.Result, error) {
		return o.analyzer.Analyze(ctx, seg, wf.Settings.Language)
	})
	if err != nil {
		// The segment carries the failure; the workflow moves on.
		seg.Status = state.SegmentFailed
		seg.AnalysisResult = err.Error()
		if result != nil {
			seg.AnalysisSteps = result.Steps
		}
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepFailed, err.Error()); stepErr != nil {
			return stepErr
		}
	} else {
		seg.Status = state.SegmentCompleted
		seg.AnalysisResult = result.AnalysisResult
		seg.AnalysisSteps = result.Steps
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepDone, ""); stepErr != nil {
			return stepErr
		}
	}
	if err := o.state.PutSegment(ctx, seg); err != nil {
		return err
	}

	return o.finalizeOne(ctx, wf, seg)
}

func (o *Orchestrator) finalizeOne(ctx context.Context, wf *state.Workflow, seg *state.Segment) error {
	stepName := state.FinalizerStep(seg.SegmentIndex)
	if err := o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepRunning, ""); err != nil {
		return err
	}
	if err := o.finalizer.Finalize(ctx, wf, seg); err != nil {
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepFailed, err.Error()); stepErr != nil {
			o.logger.Error("record finalizer failure", slog.String("error", stepErr.Error()))
		}
		return err
	}
	return o.state.UpdateStep(ctx, wf.WorkflowID, stepName, state.StepDone, "")
}

func (o *Orchestrator) runSummarizer(ctx context.Context, wf *state.Workflow) error {
	if err := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSummarizer, state.StepRunning, ""); err != nil {
		return err
	}
	_, err := withStepTimeout(o, ctx, func(ctx context.Context) (*summarize.Summary, error) {
		return o.summarizer.Summarize(ctx, wf)
	})
	if err != nil {
		if stepErr := o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSummarizer, state.StepFailed, err.Error()); stepErr != nil {
			o.logger.Error("record summarizer failure", slog.String("error", stepErr.Error()))
		}
		return err
	}
	return o.state.UpdateStep(ctx, wf.WorkflowID, state.StepSummarizer, state.StepDone, "")
}

// failWorkflow records the terminal FAILED status with a stable reason.
func (o *Orchestrator) failWorkflow(ctx context.Context, wf *state.Workflow, cause error, log *slog.Logger) error {
	reason := failureReason(cause)
	log.Error("workflow failed",
		slog.String("reason", reason),
		slog.String("error", cause.Error()))
	return o.state.SetWorkflowStatus(ctx, wf.DocumentID, wf.WorkflowID, state.WorkflowFailed, reason)
}

// failureReason maps an error to the user-visible workflow reason.
func failureReason(err error) string {
	switch flowerr.CodeOf(err) {
	case flowerr.CodeNoSegments:
		return "no_segments"
	case flowerr.CodeTimeout:
		return "timeout"
	case flowerr.CodeSubprocess:
		return "conversion_failed"
	case flowerr.CodeModelAgent:
		return "analysis_failed"
	default:
		return "internal_error"
	}
}

// withStepTimeout runs fn under the configured per-step wall clock and
// converts an expiry into a timeout error.
func withStepTimeout[T any](o *Orchestrator, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	if o.cfg.StepTimeout <= 0 {
		return fn(ctx)
	}
	sctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()
	result, err := fn(sctx)
	if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return result, flowerr.New(flowerr.CodeTimeout, "step exceeded its wall-clock budget", err)
	}
	return result, err
}
