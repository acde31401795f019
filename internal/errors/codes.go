package errors

// Category groups errors by origin.
type Category string

const (
	CategoryInput      Category = "input"
	CategoryIO         Category = "io"
	CategoryFormat     Category = "format"
	CategoryModel      Category = "model"
	CategorySubprocess Category = "subprocess"
	CategoryInternal   Category = "internal"
)

// Severity ranks how an error affects the owning workflow.
type Severity string

const (
	// SeverityStep errors terminate a single step; the workflow continues.
	SeverityStep Severity = "step"
	// SeverityWorkflow errors terminate the whole workflow.
	SeverityWorkflow Severity = "workflow"
)

// Error codes for the pipeline failure kinds.
const (
	// CodeTransientIO covers queue, store, and model timeouts. Retried by the
	// queue; the step fails only after redelivery is exhausted.
	CodeTransientIO = "ERR_TRANSIENT_IO"

	// CodeInvalidInput marks an unparseable event or missing identifiers.
	// The record is skipped with a log line; the batch does not fail.
	CodeInvalidInput = "ERR_INVALID_INPUT"

	// CodeUnsupportedFormat marks a file type no parser handles. The step is
	// skipped and the workflow continues with reduced enrichment.
	CodeUnsupportedFormat = "ERR_UNSUPPORTED_FORMAT"

	// CodeEmbedder marks a per-text embedding failure. A zero vector is
	// substituted; the step still completes.
	CodeEmbedder = "ERR_EMBEDDER"

	// CodeSubprocess marks an office-suite or renderer subprocess failure.
	// Fails the step and the workflow.
	CodeSubprocess = "ERR_SUBPROCESS"

	// CodeModelAgent marks an analyzer runtime failure. The segment is marked
	// failed; the workflow continues with remaining segments.
	CodeModelAgent = "ERR_MODEL_AGENT"

	// CodeTimeout marks a step that exceeded its wall-clock budget.
	CodeTimeout = "ERR_TIMEOUT"

	// CodeNoSegments marks a workflow that produced zero segments.
	CodeNoSegments = "ERR_NO_SEGMENTS"

	// CodeInternal is the catch-all for programming errors.
	CodeInternal = "ERR_INTERNAL"
)

// categoryFromCode maps an error code to its category.
func categoryFromCode(code string) Category {
	switch code {
	case CodeInvalidInput:
		return CategoryInput
	case CodeTransientIO:
		return CategoryIO
	case CodeUnsupportedFormat:
		return CategoryFormat
	case CodeEmbedder, CodeModelAgent:
		return CategoryModel
	case CodeSubprocess:
		return CategorySubprocess
	default:
		return CategoryInternal
	}
}

// severityFromCode maps an error code to its workflow impact.
func severityFromCode(code string) Severity {
	switch code {
	case CodeSubprocess, CodeTimeout, CodeNoSegments:
		return SeverityWorkflow
	default:
		return SeverityStep
	}
}

// isRetryableCode reports whether a queue redelivery can plausibly succeed.
func isRetryableCode(code string) bool {
	return code == CodeTransientIO
}
