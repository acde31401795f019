package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/objstore"
	"github.com/docuflow/docuflow/internal/queue"
	"github.com/docuflow/docuflow/internal/router"
)

type ingestOptions struct {
	projectID  string
	documentID string
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Upload a file and launch its ingestion workflow",
		Long: `Upload a local file to the object store under the project's document
prefix and publish the upload notification that starts a workflow.

Examples:
  docuflow ingest report.pdf --project p1
  docuflow ingest slides.pptx --project p1 --document d42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.projectID, "project", "p", "default", "Project ID owning the document")
	cmd.Flags().StringVarP(&opts.documentID, "document", "d", "", "Document ID (generated when empty)")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string, opts ingestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	a, err := newApp(ctx, cfg, appOptions{objectStore: true, queue: true})
	if err != nil {
		return err
	}
	defer a.Close()

	documentID := opts.documentID
	if documentID == "" {
		documentID = "doc-" + uuid.NewString()
	}
	fileName := filepath.Base(path)
	key := uploadKey(opts.projectID, documentID, fileName)
	uri := objstore.URI{Bucket: cfg.ObjectStore.Bucket, Key: key}

	if err := a.store.PutBytes(ctx, uri, data, router.MimeFromFileName(fileName)); err != nil {
		return err
	}
	if err := a.queue.Publish(ctx, queue.SubjectEvents, json.RawMessage(uploadEventJSON(uri.Bucket, uri.Key))); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", uri.String())
	fmt.Fprintf(cmd.OutOrStdout(), "document: %s (project %s)\n", documentID, opts.projectID)
	return nil
}
