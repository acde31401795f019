package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testWorkflow() *Workflow {
	return &Workflow{
		WorkflowID: "wf-1",
		DocumentID: "doc-1",
		ProjectID:  "p-1",
		FileURI:    "store://uploads/projects/p-1/documents/doc-1/intro.pdf",
		FileName:   "intro.pdf",
		FileType:   "application/pdf",
		Status:     WorkflowCreated,
		Settings:   ResolvedSettings{Language: "en", UseOCR: true},
	}
}

func TestWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutWorkflow(ctx, testWorkflow()))

	got, err := store.GetWorkflow(ctx, "doc-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowCreated, got.Status)
	assert.Equal(t, "intro.pdf", got.FileName)
	assert.Equal(t, "en", got.Settings.Language)
	assert.False(t, got.StartedAt.IsZero())

	_, err = store.GetWorkflow(ctx, "doc-1", "wf-missing")
	assert.Error(t, err)
}

func TestSetWorkflowStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.PutWorkflow(ctx, testWorkflow()))

	require.NoError(t, store.SetWorkflowStatus(ctx, "doc-1", "wf-1", WorkflowAnalyzing, ""))
	require.NoError(t, store.SetWorkflowStatus(ctx, "doc-1", "wf-1", WorkflowFailed, "ocr timed out"))

	got, err := store.GetWorkflow(ctx, "doc-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowFailed, got.Status)
	assert.Equal(t, "ocr timed out", got.Error)
}

func TestListWorkflows_MostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// ID order (the storage sort-key order) deliberately disagrees with
	// start-time order.
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	for id, offset := range map[string]time.Duration{
		"wf-a": 1 * time.Second,
		"wf-b": 3 * time.Second,
		"wf-c": 2 * time.Second,
	} {
		wf := testWorkflow()
		wf.WorkflowID = id
		wf.StartedAt = base.Add(offset)
		require.NoError(t, store.PutWorkflow(ctx, wf))
	}

	all, err := store.ListWorkflows(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "wf-b", all[0].WorkflowID)
	assert.Equal(t, "wf-c", all[1].WorkflowID)
	assert.Equal(t, "wf-a", all[2].WorkflowID)
}

func TestInitSteps_DoesNotResetProgress(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.InitSteps(ctx, "wf-1", map[StepName]StepState{
		StepOCR: StepPending,
		StepBDA: StepSkipped,
	}))
	require.NoError(t, store.UpdateStep(ctx, "wf-1", StepOCR, StepRunning, ""))

	// Redelivered create event seeds again; the running step must survive.
	require.NoError(t, store.InitSteps(ctx, "wf-1", map[StepName]StepState{
		StepOCR: StepPending,
		StepBDA: StepSkipped,
	}))

	steps, err := store.GetSteps(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StepRunning, steps[StepOCR].State)
	assert.Equal(t, StepSkipped, steps[StepBDA].State)
	assert.False(t, steps[StepBDA].EndedAt.IsZero())
}

func TestUpdateStep_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []StepState
		attempt StepState
		wantErr bool
	}{
		{"pending to running", nil, StepRunning, false},
		{"pending to skipped", nil, StepSkipped, false},
		{"running to done", []StepState{StepRunning}, StepDone, false},
		{"running to failed", []StepState{StepRunning}, StepFailed, false},
		{"running back to pending", []StepState{StepRunning}, StepPending, true},
		{"done is final", []StepState{StepRunning, StepDone}, StepRunning, true},
		{"failed is final", []StepState{StepRunning, StepFailed}, StepDone, true},
		{"skipped is final", []StepState{StepSkipped}, StepRunning, true},
		{"same state is a no-op", []StepState{StepRunning}, StepRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			require.NoError(t, store.InitSteps(ctx, "wf-1", map[StepName]StepState{StepOCR: StepPending}))

			for _, st := range tt.path {
				require.NoError(t, store.UpdateStep(ctx, "wf-1", StepOCR, st, ""))
			}

			err := store.UpdateStep(ctx, "wf-1", StepOCR, tt.attempt, "")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, flowerr.CodeInvalidInput, flowerr.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateStep_Timestamps(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.InitSteps(ctx, "wf-1", map[StepName]StepState{StepFormatParser: StepPending}))

	require.NoError(t, store.UpdateStep(ctx, "wf-1", StepFormatParser, StepRunning, ""))
	require.NoError(t, store.UpdateStep(ctx, "wf-1", StepFormatParser, StepFailed, "soffice exited 1"))

	steps, err := store.GetSteps(ctx, "wf-1")
	require.NoError(t, err)
	rec := steps[StepFormatParser]
	assert.False(t, rec.StartedAt.IsZero())
	assert.False(t, rec.EndedAt.IsZero())
	assert.False(t, rec.EndedAt.Before(rec.StartedAt))
	assert.Equal(t, "soffice exited 1", rec.Error)
}

func TestSegments_OrderedByIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, i := range []int{2, 0, 1} {
		require.NoError(t, store.PutSegment(ctx, &Segment{
			WorkflowID:   "wf-1",
			SegmentID:    SegmentID("wf-1", i),
			SegmentIndex: i,
			ParsedText:   "page text",
			Status:       SegmentPending,
		}))
	}

	segments, err := store.GetSegments(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, segments, 3)
	for i, seg := range segments {
		assert.Equal(t, i, seg.SegmentIndex)
	}
}

func TestPutSegment_Upsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seg := &Segment{WorkflowID: "wf-1", SegmentIndex: 0, Status: SegmentPending}
	require.NoError(t, store.PutSegment(ctx, seg))

	seg.Status = SegmentCompleted
	seg.AnalysisResult = "## Overview\nA chart."
	require.NoError(t, store.PutSegment(ctx, seg))

	segments, err := store.GetSegments(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, SegmentCompleted, segments[0].Status)
}

func TestDeleteWorkflow_Cascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.PutWorkflow(ctx, testWorkflow()))
	require.NoError(t, store.InitSteps(ctx, "wf-1", map[StepName]StepState{StepOCR: StepPending}))
	require.NoError(t, store.PutSegment(ctx, &Segment{WorkflowID: "wf-1", SegmentIndex: 0}))

	require.NoError(t, store.DeleteWorkflow(ctx, "doc-1", "wf-1"))

	_, err := store.GetWorkflow(ctx, "doc-1", "wf-1")
	assert.Error(t, err)

	steps, err := store.GetSteps(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, steps)

	segments, err := store.GetSegments(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestStepNameHelpers(t *testing.T) {
	assert.Equal(t, StepName("SEGMENT_ANALYZER_0007"), AnalyzerStep(7))
	assert.Equal(t, StepName("FINALIZER_0000"), FinalizerStep(0))
	assert.True(t, IsAnalyzerStep(AnalyzerStep(3)))
	assert.False(t, IsAnalyzerStep(StepOCR))
}
