package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docuflow/docuflow/internal/agent"
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/embed"
	"github.com/docuflow/docuflow/internal/index"
	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/state"
)

// app bundles the long-lived resources the commands share.
type app struct {
	cfg      *config.Config
	store    objstore.Store
	state    *state.Store
	idx      *index.Store
	embedder embed.Embedder
	queue    queue.Queue

	closers []func()
}

// appOptions selects which resources a command needs.
type appOptions struct {
	objectStore bool
	stateStore  bool
	index       bool
	queue       bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if opts.objectStore {
		store, err := objstore.NewS3Store(ctx, objstore.S3Options{
			Region:         cfg.ObjectStore.Region,
			Endpoint:       cfg.ObjectStore.Endpoint,
			ForcePathStyle: cfg.ObjectStore.ForcePathStyle,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	}

	if opts.stateStore {
		st, err := state.Open(filepath.Join(cfg.DataDir, "state.db"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.state = st
		a.closers = append(a.closers, func() { _ = st.Close() })
	}

	if opts.index {
		embedder, err := embed.New(cfg.Embeddings, slog.Default())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.embedder = embedder
		a.closers = append(a.closers, func() { _ = embedder.Close() })

		idx, err := index.Open(index.Options{
			Dir:      filepath.Join(cfg.DataDir, "index"),
			Embedder: embedder,
			Logger:   slog.Default(),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.idx = idx
		a.closers = append(a.closers, func() { _ = idx.Close() })
	}

	if opts.queue {
		q, err := queue.Connect(queue.NATSOptions{
			URL:        cfg.Queue.URL,
			Prefix:     cfg.Queue.SubjectPrefix,
			MaxRetries: cfg.Queue.MaxRetries,
			Logger:     slog.Default(),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.queue = q
		a.closers = append(a.closers, q.Close)
	}

	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newChatClient builds the OpenAI-compatible chat client for the
// analyzer and summarizer.
func newChatClient(cfg config.ModelConfig) agent.ChatClient {
	apiKey := os.Getenv("DOCUFLOW_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	return openai.NewClientWithConfig(clientCfg)
}

// uploadKey composes the canonical document key for an upload.
func uploadKey(projectID, documentID, fileName string) string {
	return fmt.Sprintf("projects/%s/documents/%s/%s", projectID, documentID, fileName)
}

// uploadEventJSON renders the notification the router consumes.
func uploadEventJSON(bucket, key string) []byte {
	return fmt.Appendf(nil,
		`{"detail-type":"Object Created","detail":{"bucket":{"name":%q},"object":{"key":%q}}}`,
		bucket, key)
}
