// Package router consumes upload notifications, classifies the file,
// creates the workflow, and fans work out to the track queues.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/docuflow/docuflow/internal/config"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/state"
)

// uploadEvent is the notification wire shape. Any other detail-type is
// ignored.
type uploadEvent struct {
	DetailType string `json:"detail-type"`
	Detail     struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"detail"`
}

const eventObjectCreated = "Object Created"

// reservedPrefixes are the directories the pipeline itself writes under
// a document prefix. Their create events must not mint workflows.
var reservedPrefixes = []string{
	"format-parser/",
	"analysis/",
	"ocr/",
	"bda/",
	"transcribe/",
}

// reservedArtifact reports whether the key names a settings overlay or a
// pipeline-written artifact rather than an uploaded source file.
func reservedArtifact(key, documentID string) bool {
	marker := "documents/" + documentID + "/"
	idx := strings.Index(key, marker)
	if idx < 0 {
		return false
	}
	rel := key[idx+len(marker):]
	if rel == "settings.json" {
		return true
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}

// webreqDescriptor is the body of a .webreq upload.
type webreqDescriptor struct {
	URL         string `json:"url"`
	Instruction string `json:"instruction"`
}

// Warmup is a best-effort capacity hint sent to the OCR scheduler when
// an OCR track is dispatched. Failures are logged and ignored.
type Warmup func(ctx context.Context, model string) error

// Router classifies uploads and launches workflows.
type Router struct {
	store    objstore.Store
	state    *state.Store
	queue    queue.Queue
	settings *Resolver
	warmup   Warmup
	logger   *slog.Logger
}

// New creates a Router.
func New(store objstore.Store, st *state.Store, q queue.Queue, defaults config.DocumentDefaults, warmup Warmup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    store,
		state:    st,
		queue:    q,
		settings: NewResolver(store, defaults),
		warmup:   warmup,
		logger:   logger,
	}
}

// HandleEvent processes one upload notification record. Records that
// cannot be attributed to a document are skipped with a warning rather
// than failing the batch.
func (r *Router) HandleEvent(ctx context.Context, raw []byte) error {
	var event uploadEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		r.logger.Warn("unparseable upload event", slog.String("error", err.Error()))
		return nil
	}
	if event.DetailType != eventObjectCreated {
		return nil
	}

	uri := objstore.URI{Bucket: event.Detail.Bucket.Name, Key: event.Detail.Object.Key}
	projectID := uri.ProjectID()
	documentID := uri.DocumentID()
	if documentID == "" {
		r.logger.Warn("upload key without document id, skipping",
			slog.String("key", uri.Key))
		return nil
	}
	if reservedArtifact(uri.Key, documentID) {
		r.logger.Debug("artifact write, not an upload, skipping",
			slog.String("key", uri.Key))
		return nil
	}

	fileName := uri.FileName()
	fileType := MimeFromFileName(fileName)
	workflowID := "wf-" + uuid.NewString()

	settings, err := r.settings.Resolve(ctx, uri.Bucket, projectID, documentID)
	if err != nil {
		return err
	}

	if fileType == MimeWebreq {
		if err := r.attachWebreq(ctx, uri, &settings); err != nil {
			return err
		}
	}

	wf := &state.Workflow{
		WorkflowID: workflowID,
		DocumentID: documentID,
		ProjectID:  projectID,
		FileURI:    uri.String(),
		FileName:   fileName,
		FileType:   fileType,
		Status:     state.WorkflowCreated,
		Settings:   settings,
	}
	if err := r.state.PutWorkflow(ctx, wf); err != nil {
		return err
	}

	plan := planTracks(fileType, settings)
	if err := r.state.InitSteps(ctx, workflowID, plan.steps()); err != nil {
		return err
	}

	// Status moves to PREPROCESSING before fan-out so a worker that
	// picks a track message up immediately observes a consistent head.
	if err := r.state.SetWorkflowStatus(ctx, documentID, workflowID, state.WorkflowPreprocessing, ""); err != nil {
		return err
	}

	if err := r.fanOut(ctx, wf, plan); err != nil {
		return err
	}

	r.logger.Info("workflow created",
		slog.String("workflow_id", workflowID),
		slog.String("document_id", documentID),
		slog.String("file_type", fileType))
	return nil
}

func (r *Router) attachWebreq(ctx context.Context, uri objstore.URI, settings *state.ResolvedSettings) error {
	data, err := r.store.GetBytes(ctx, uri)
	if err != nil {
		return flowerr.TransientIO("fetch webreq descriptor", err)
	}
	var desc webreqDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return flowerr.InvalidInput("malformed webreq descriptor", err)
	}
	settings.SourceURL = desc.URL
	settings.CrawlInstruction = desc.Instruction
	return nil
}

// trackPlan captures which tracks a file dispatches to.
type trackPlan struct {
	ocr, bda, transcribe, webcrawler bool
	formatParser                     bool
	processingType                   string
}

// planTracks applies the routing matrix.
func planTracks(fileType string, s state.ResolvedSettings) trackPlan {
	var p trackPlan
	switch {
	case fileType == MimePDF:
		p.ocr = s.UseOCR
		p.bda = s.UseBDA
		p.formatParser = true
		p.processingType = queue.ProcessingDocument
	case IsImage(fileType):
		p.ocr = s.UseOCR
		p.bda = s.UseBDA
		p.processingType = queue.ProcessingImage
	case IsVideo(fileType):
		p.bda = s.UseBDA
		p.transcribe = s.UseTranscribe
		p.processingType = queue.ProcessingVideo
	case IsAudio(fileType):
		p.bda = s.UseBDA
		p.transcribe = s.UseTranscribe
		p.processingType = queue.ProcessingAudio
	case fileType == MimeTXT || fileType == MimeMD || fileType == MimeCSV:
		p.formatParser = true
		p.processingType = queue.ProcessingText
	case fileType == MimeXLSX || fileType == MimeXLS,
		fileType == MimeDOCX || fileType == MimeDOC,
		fileType == MimePPTX || fileType == MimePPT:
		p.formatParser = true
		p.processingType = queue.ProcessingDocument
	case fileType == MimeWebreq:
		p.webcrawler = true
		p.processingType = queue.ProcessingWeb
	default:
		p.processingType = queue.ProcessingDocument
	}
	return p
}

// steps seeds the full step map: dispatched tracks start PENDING, the
// rest are SKIPPED up front so the status checker converges.
func (p trackPlan) steps() map[state.StepName]state.StepState {
	mark := func(on bool) state.StepState {
		if on {
			return state.StepPending
		}
		return state.StepSkipped
	}
	return map[state.StepName]state.StepState{
		state.StepOCR:            mark(p.ocr),
		state.StepBDA:            mark(p.bda),
		state.StepTranscribe:     mark(p.transcribe),
		state.StepWebcrawler:     mark(p.webcrawler),
		state.StepFormatParser:   mark(p.formatParser),
		state.StepSegmentBuilder: state.StepPending,
		state.StepSummarizer:     state.StepPending,
	}
}

func (r *Router) fanOut(ctx context.Context, wf *state.Workflow, plan trackPlan) error {
	base := queue.TrackMessage{
		WorkflowID: wf.WorkflowID,
		DocumentID: wf.DocumentID,
		ProjectID:  wf.ProjectID,
		FileURI:    wf.FileURI,
		FileName:   wf.FileName,
		FileType:   wf.FileType,
		Language:   wf.Settings.Language,
	}

	if plan.ocr {
		msg := base
		msg.Processor = "ocr"
		msg.OCRModel = wf.Settings.OCRModel
		msg.OCROptions = wf.Settings.OCROptions
		if err := r.queue.Publish(ctx, queue.SubjectOCR, msg); err != nil {
			return err
		}
		r.warmupOCR(ctx, wf.Settings.OCRModel)
	}
	if plan.bda {
		msg := base
		msg.Processor = "bda"
		if err := r.queue.Publish(ctx, queue.SubjectBDA, msg); err != nil {
			return err
		}
	}
	if plan.transcribe {
		msg := base
		msg.Processor = "transcribe"
		if err := r.queue.Publish(ctx, queue.SubjectTranscribe, msg); err != nil {
			return err
		}
	}
	if plan.webcrawler {
		msg := base
		msg.Processor = "webcrawler"
		msg.SourceURL = wf.Settings.SourceURL
		msg.CrawlInstruction = wf.Settings.CrawlInstruction
		if err := r.queue.Publish(ctx, queue.SubjectWebcrawler, msg); err != nil {
			return err
		}
	}

	// Workflow track is dispatched for every upload.
	msg := base
	msg.Processor = "workflow"
	msg.ProcessingType = plan.processingType
	msg.UseBDA = wf.Settings.UseBDA
	msg.DocumentPrompt = wf.Settings.DocumentPrompt
	return r.queue.Publish(ctx, queue.SubjectWorkflow, msg)
}

func (r *Router) warmupOCR(ctx context.Context, model string) {
	if r.warmup == nil {
		return
	}
	if err := r.warmup(ctx, model); err != nil {
		r.logger.Warn("ocr warmup failed",
			slog.String("model", model),
			slog.String("error", err.Error()))
	}
}
