package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/agent"
	"github.com/docuflow/docuflow/internal/embed"
	"github.com/docuflow/docuflow/internal/finalize"
	"github.com/docuflow/docuflow/internal/indexwriter"
	"github.com/docuflow/docuflow/internal/orchestrate"
	"github.com/docuflow/docuflow/internal/parser"
	"github.com/docuflow/docuflow/internal/preprocess"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/router"
	"github.com/docuflow/docuflow/internal/segment"
	"github.com/docuflow/docuflow/internal/summarize"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pipeline workers",
		Long: `Run the event router, workflow orchestrator, and index writer as one
process. Upload notifications are consumed from the events subject;
workflows run to a terminal status and their segments are committed to
the local hybrid index.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{
		objectStore: true,
		stateStore:  true,
		index:       true,
		queue:       true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	chat := newChatClient(cfg.Model)
	p := parser.New(a.store, parser.NewSubprocessConverter(), slog.Default())

	orch := orchestrate.New(orchestrate.Options{
		Pipeline:   cfg.Pipeline,
		State:      a.state,
		Checker:    preprocess.NewChecker(a.state),
		Parser:     p,
		Builder:    segment.NewBuilder(a.store, a.state, slog.Default()),
		Analyzer:   agent.New(chat, a.store, cfg.Model, slog.Default()),
		Finalizer:  finalize.New(a.store, a.queue, slog.Default()),
		Summarizer: summarize.New(a.idx, a.store, chat, cfg.Model, slog.Default()),
		Logger:     slog.Default(),
	})

	rt := router.New(a.store, a.state, a.queue, cfg.Defaults, nil, slog.Default())

	subs := make([]queue.Subscription, 0, 3)
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	sub, err := a.queue.Subscribe(queue.SubjectEvents, rt.HandleEvent)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	subs = append(subs, sub)

	if sub, err = orch.Start(a.queue); err != nil {
		return fmt.Errorf("subscribe workflow track: %w", err)
	}
	subs = append(subs, sub)

	writer := indexwriter.New(a.idx, embed.NewService(a.embedder, slog.Default()), slog.Default())
	if sub, err = writer.Start(a.queue); err != nil {
		return fmt.Errorf("subscribe write queue: %w", err)
	}
	subs = append(subs, sub)

	slog.Info("docuflow serving",
		slog.String("nats_url", cfg.Queue.URL),
		slog.String("bucket", cfg.ObjectStore.Bucket),
		slog.String("data_dir", cfg.DataDir))

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
