// Package preprocess aggregates per-track completion for a workflow and
// decides when the pipeline is ready to converge on segment building.
package preprocess

import (
	"context"

	"github.com/docuflow/docuflow/internal/state"
)

// Report is one aggregation snapshot.
type Report struct {
	// AllCompleted is true when every enabled preprocessing track is
	// DONE or SKIPPED.
	AllCompleted bool

	// AnyFailed is true when any enabled track is FAILED.
	AnyFailed bool

	// AnalysisBusy is true when preprocessing finished but a
	// segment-analyzer step is still RUNNING.
	AnalysisBusy bool

	// Steps is the full step map backing the decision.
	Steps map[state.StepName]state.StepRecord
}

// Checker reads the step map and classifies progress.
type Checker struct {
	state *state.Store
}

// NewChecker creates a Checker over the workflow state store.
func NewChecker(st *state.Store) *Checker {
	return &Checker{state: st}
}

// Check aggregates the workflow's preprocessing state.
func (c *Checker) Check(ctx context.Context, workflowID string) (*Report, error) {
	steps, err := c.state.GetSteps(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	report := &Report{AllCompleted: true, Steps: steps}
	for _, name := range state.PreprocessingSteps {
		rec, ok := steps[name]
		if !ok {
			continue
		}
		switch rec.State {
		case state.StepFailed:
			report.AnyFailed = true
			report.AllCompleted = false
		case state.StepDone, state.StepSkipped:
			// Finished.
		default:
			report.AllCompleted = false
		}
	}

	if report.AllCompleted && !report.AnyFailed {
		for name, rec := range steps {
			if state.IsAnalyzerStep(name) && rec.State == state.StepRunning {
				report.AnalysisBusy = true
				break
			}
		}
	}
	return report, nil
}
