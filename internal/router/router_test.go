package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/state"
)

func TestMimeFromFileName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.pdf", MimePDF},
		{"deck.PPTX", MimePPTX},
		{"sheet.xlsx", MimeXLSX},
		{"notes.md", MimeMD},
		{"photo.JPG", "image/jpeg"},
		{"clip.mp4", "video/mp4"},
		{"voice.m4a", "audio/mp4"},
		{"crawl.webreq", MimeWebreq},
		{"archive.zip", MimeBinary},
		{"noextension", MimeBinary},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MimeFromFileName(tt.name), tt.name)
	}
}

type routerFixture struct {
	router *Router
	store  *objstore.MemStore
	state  *state.Store
	queue  *queue.MemQueue
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	store := objstore.NewMemStore()
	st, err := state.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	q := queue.NewMemQueue()
	t.Cleanup(q.Close)

	r := New(store, st, q, config.Default().Defaults, nil, nil)
	return &routerFixture{router: r, store: store, state: st, queue: q}
}

func uploadEventJSON(bucket, key string) []byte {
	return []byte(fmt.Sprintf(
		`{"detail-type":"Object Created","detail":{"bucket":{"name":"%s"},"object":{"key":"%s"}}}`,
		bucket, key))
}

func firstWorkflow(t *testing.T, fx *routerFixture, documentID string) *state.Workflow {
	t.Helper()
	workflows, err := fx.state.ListWorkflows(context.Background(), documentID)
	require.NoError(t, err)
	require.NotEmpty(t, workflows)
	return workflows[0]
}

func trackMessages(t *testing.T, fx *routerFixture, subject string) []queue.TrackMessage {
	t.Helper()
	var out []queue.TrackMessage
	for _, data := range fx.queue.Published(subject) {
		var msg queue.TrackMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}
	return out
}

func TestHandleEvent_PDFWithOCRDefault(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	err := fx.router.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d1/intro.pdf"))
	require.NoError(t, err)

	wf := firstWorkflow(t, fx, "d1")
	assert.Equal(t, state.WorkflowPreprocessing, wf.Status)
	assert.Equal(t, MimePDF, wf.FileType)
	assert.Equal(t, "p1", wf.ProjectID)
	assert.GreaterOrEqual(t, len(wf.WorkflowID), 12)

	// use_ocr defaults true, use_bda false.
	assert.Len(t, trackMessages(t, fx, queue.SubjectOCR), 1)
	assert.Empty(t, trackMessages(t, fx, queue.SubjectBDA))

	wfMsgs := trackMessages(t, fx, queue.SubjectWorkflow)
	require.Len(t, wfMsgs, 1)
	assert.Equal(t, queue.ProcessingDocument, wfMsgs[0].ProcessingType)

	steps, err := fx.state.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, state.StepPending, steps[state.StepOCR].State)
	assert.Equal(t, state.StepSkipped, steps[state.StepBDA].State)
	assert.Equal(t, state.StepPending, steps[state.StepFormatParser].State)
}

func TestHandleEvent_ImageSkipsFormatParser(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	err := fx.router.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d2/diagram.png"))
	require.NoError(t, err)

	wf := firstWorkflow(t, fx, "d2")
	steps, err := fx.state.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, state.StepSkipped, steps[state.StepFormatParser].State)
	assert.Equal(t, state.StepPending, steps[state.StepOCR].State)

	wfMsgs := trackMessages(t, fx, queue.SubjectWorkflow)
	require.Len(t, wfMsgs, 1)
	assert.Equal(t, queue.ProcessingImage, wfMsgs[0].ProcessingType)
}

func TestHandleEvent_UnknownExtensionWorkflowOnly(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	err := fx.router.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d3/archive.zip"))
	require.NoError(t, err)

	wf := firstWorkflow(t, fx, "d3")
	assert.Equal(t, MimeBinary, wf.FileType)

	assert.Empty(t, trackMessages(t, fx, queue.SubjectOCR))
	assert.Empty(t, trackMessages(t, fx, queue.SubjectBDA))
	assert.Len(t, trackMessages(t, fx, queue.SubjectWorkflow), 1)

	steps, err := fx.state.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	for _, name := range state.PreprocessingSteps {
		assert.Equal(t, state.StepSkipped, steps[name].State, string(name))
	}
}

func TestHandleEvent_Webreq(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	uri := objstore.DocumentPrefix("uploads", "p1", "d4").Join("crawl.webreq")
	require.NoError(t, fx.store.PutBytes(ctx, uri,
		[]byte(`{"url":"https://ex.com","instruction":"fetch top"}`), "application/json"))

	err := fx.router.HandleEvent(ctx, uploadEventJSON("uploads", uri.Key))
	require.NoError(t, err)

	wf := firstWorkflow(t, fx, "d4")
	assert.Equal(t, "https://ex.com", wf.Settings.SourceURL)
	assert.Equal(t, "fetch top", wf.Settings.CrawlInstruction)

	crawl := trackMessages(t, fx, queue.SubjectWebcrawler)
	require.Len(t, crawl, 1)
	assert.Equal(t, "https://ex.com", crawl[0].SourceURL)
	assert.Empty(t, trackMessages(t, fx, queue.SubjectOCR))
}

func TestHandleEvent_SettingsOverrides(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	projectURI := objstore.URI{Bucket: "uploads", Key: "projects/p1/settings.json"}
	require.NoError(t, fx.store.PutBytes(ctx, projectURI,
		[]byte(`{"language":"ko","use_bda":true}`), "application/json"))

	docURI := objstore.DocumentPrefix("uploads", "p1", "d5").Join("settings.json")
	require.NoError(t, fx.store.PutBytes(ctx, docURI,
		[]byte(`{"use_ocr":false}`), "application/json"))

	err := fx.router.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d5/scan.pdf"))
	require.NoError(t, err)

	wf := firstWorkflow(t, fx, "d5")
	assert.Equal(t, "ko", wf.Settings.Language, "project setting applies")
	assert.True(t, wf.Settings.UseBDA, "project setting applies")
	assert.False(t, wf.Settings.UseOCR, "document setting wins")

	assert.Empty(t, trackMessages(t, fx, queue.SubjectOCR))
	assert.Len(t, trackMessages(t, fx, queue.SubjectBDA), 1)
}

func TestHandleEvent_SkipsArtifactWrites(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	// Settings overlays and pipeline-written artifacts also raise create
	// events under the document prefix; none of them is an upload.
	for _, key := range []string{
		"projects/p1/documents/d9/settings.json",
		"projects/p1/documents/d9/format-parser/result.json",
		"projects/p1/documents/d9/format-parser/slides/slide_0000.png",
		"projects/p1/documents/d9/analysis/segment_0000.json",
		"projects/p1/documents/d9/ocr/result.json",
		"projects/p1/documents/d9/bda/result.json",
	} {
		require.NoError(t, fx.router.HandleEvent(ctx, uploadEventJSON("uploads", key)))
	}

	workflows, err := fx.state.ListWorkflows(ctx, "d9")
	require.NoError(t, err)
	assert.Empty(t, workflows)
	assert.Empty(t, fx.queue.Published(queue.SubjectWorkflow))

	// A real upload for the same document still routes.
	require.NoError(t, fx.router.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d9/scan.pdf")))
	workflows, err = fx.state.ListWorkflows(ctx, "d9")
	require.NoError(t, err)
	assert.Len(t, workflows, 1)
}

func TestHandleEvent_IgnoresUnrelatedEvents(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	require.NoError(t, fx.router.HandleEvent(ctx,
		[]byte(`{"detail-type":"Object Deleted","detail":{"bucket":{"name":"uploads"},"object":{"key":"projects/p1/documents/d1/a.pdf"}}}`)))
	require.NoError(t, fx.router.HandleEvent(ctx, []byte(`not json at all`)))
	require.NoError(t, fx.router.HandleEvent(ctx,
		uploadEventJSON("uploads", "random/key/without/convention.pdf")))

	assert.Empty(t, fx.queue.Published(queue.SubjectWorkflow))
}

func TestHandleEvent_OCRWarmupFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	st, err := state.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	q := queue.NewMemQueue()
	defer q.Close()

	warmupCalls := 0
	warmup := func(ctx context.Context, model string) error {
		warmupCalls++
		return fmt.Errorf("scheduler unreachable")
	}
	r := New(store, st, q, config.Default().Defaults, warmup, nil)

	err = r.HandleEvent(ctx, uploadEventJSON("uploads", "projects/p1/documents/d1/scan.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, warmupCalls)
	assert.Len(t, q.Published(queue.SubjectOCR), 1)
}

func TestHandleEvent_ReplayCreatesNewWorkflow(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)

	event := uploadEventJSON("uploads", "projects/p1/documents/d1/intro.pdf")
	require.NoError(t, fx.router.HandleEvent(ctx, event))
	require.NoError(t, fx.router.HandleEvent(ctx, event))

	workflows, err := fx.state.ListWorkflows(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, workflows, 2)
	assert.NotEqual(t, workflows[0].WorkflowID, workflows[1].WorkflowID)
}
