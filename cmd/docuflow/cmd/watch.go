package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/router"
)

// settleDelay gives slow writers time to finish before upload.
const settleDelay = 500 * time.Millisecond

func newWatchCmd() *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a spool directory and ingest new files",
		Long: `Watch a local directory and ingest every file dropped into it. Each
file is uploaded under a fresh document ID and its workflow starts
immediately.

Example:
  docuflow watch ./inbox --project p1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], projectID)
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "default", "Project ID owning ingested documents")

	return cmd
}

func runWatch(ctx context.Context, dir, projectID string) error {
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

	a, err := newApp(ctx, cfg, appOptions{objectStore: true, queue: true})
	if err != nil {
		return err
	}
	defer a.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	slog.Info("watching spool directory",
		slog.String("dir", dir),
		slog.String("project", projectID))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			go ingestSpooled(ctx, a, projectID, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// ingestSpooled uploads one spooled file and publishes its event.
func ingestSpooled(ctx context.Context, a *app, projectID, path string) {
	time.Sleep(settleDelay)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("read spooled file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	fileName := filepath.Base(path)
	documentID := "doc-" + uuid.NewString()
	uri := objstore.URI{
		Bucket: a.cfg.ObjectStore.Bucket,
		Key:    uploadKey(projectID, documentID, fileName),
	}

	if err := a.store.PutBytes(ctx, uri, data, router.MimeFromFileName(fileName)); err != nil {
		slog.Error("upload failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if err := a.queue.Publish(ctx, queue.SubjectEvents, json.RawMessage(uploadEventJSON(uri.Bucket, uri.Key))); err != nil {
		slog.Error("publish event failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	slog.Info("spooled file ingested",
		slog.String("file", fileName),
		slog.String("document_id", documentID))
}
