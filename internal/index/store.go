package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/docuflow/docuflow/internal/embed"
	flowerr "github.com/docuflow/docuflow/internal/errors"
	"github.com/docuflow/docuflow/internal/keyword"
)

// Store is the hybrid segment index. Rows live in SQLite; the keyword
// stream of each row is mirrored into Bleve and the vector into an HNSW
// graph rebuilt from rows at open time.
type Store struct {
	db       *sql.DB
	fts      *ftsIndex
	vectors  *vectorIndex
	embedder embed.Embedder
	lock     *flock.Flock
	logger   *slog.Logger
}

// Options configures Open.
type Options struct {
	// Dir is the index directory. Empty means fully in-memory.
	Dir      string
	Embedder embed.Embedder
	Logger   *slog.Logger
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS index_records (
	document_id      TEXT NOT NULL,
	segment_id       TEXT NOT NULL,
	segment_index    INTEGER NOT NULL,
	workflow_id      TEXT NOT NULL,
	status           TEXT NOT NULL,
	content_combined TEXT NOT NULL,
	content          TEXT NOT NULL,
	keywords         TEXT NOT NULL,
	tools_json       TEXT NOT NULL,
	file_uri         TEXT NOT NULL,
	file_type        TEXT NOT NULL,
	image_uri        TEXT NOT NULL DEFAULT '',
	zero_vector      INTEGER NOT NULL DEFAULT 0,
	vector           BLOB,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	PRIMARY KEY (document_id, segment_id)
);
CREATE INDEX IF NOT EXISTS idx_records_workflow ON index_records (workflow_id);
`

// Open opens the hybrid index. On-disk stores take an exclusive file
// lock so two processes cannot corrupt the same index directory.
func Open(opts Options) (*Store, error) {
	if opts.Embedder == nil {
		return nil, flowerr.InvalidInput("index store requires an embedder", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{embedder: opts.Embedder, logger: logger}

	dsn := ":memory:"
	ftsPath := ""
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}

		s.lock = flock.New(filepath.Join(opts.Dir, "index.lock"))
		locked, err := s.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire index lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("index dir %s is locked by another process", opts.Dir)
		}

		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
			filepath.Join(opts.Dir, "index.db"))
		ftsPath = filepath.Join(opts.Dir, "fts.bleve")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		s.unlock()
		return nil, fmt.Errorf("open index db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		s.unlock()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	s.db = db

	fts, err := newFTSIndex(ftsPath)
	if err != nil {
		db.Close()
		s.unlock()
		return nil, err
	}
	s.fts = fts
	s.vectors = newVectorIndex(opts.Embedder.Dimensions())

	if err := s.loadVectors(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// loadVectors rebuilds the ANN graph from stored rows, skipping records
// flagged zero_vector.
func (s *Store) loadVectors() error {
	rows, err := s.db.Query(
		`SELECT document_id, segment_id, vector FROM index_records WHERE zero_vector = 0 AND vector IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var docID, segID string
		var blob []byte
		if err := rows.Scan(&docID, &segID, &blob); err != nil {
			return err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping undecodable vector",
				slog.String("document_id", docID),
				slog.String("segment_id", segID),
				slog.String("error", err.Error()))
			continue
		}
		rec := Record{DocumentID: docID, SegmentID: segID}
		if err := s.vectors.add(rec.Key(), vec); err != nil {
			s.logger.Warn("skipping vector with wrong dimension",
				slog.String("document_id", docID),
				slog.String("segment_id", segID),
				slog.String("error", err.Error()))
			continue
		}
		loaded++
	}
	if loaded > 0 {
		s.logger.Info("vector index rebuilt", slog.Int("vectors", loaded))
	}
	return rows.Err()
}

// Upsert adds or replaces a record by (document_id, segment_id) and
// mirrors it into both secondary indices.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if rec.DocumentID == "" || rec.SegmentID == "" {
		return flowerr.InvalidInput("index record requires document_id and segment_id", nil)
	}

	now := time.Now().UTC()
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	var blob []byte
	if len(rec.Vector) > 0 {
		blob = encodeVector(rec.Vector)
	}
	zero := 0
	if rec.ZeroVector {
		zero = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_records (
			document_id, segment_id, segment_index, workflow_id, status,
			content_combined, content, keywords, tools_json,
			file_uri, file_type, image_uri, zero_vector, vector, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id, segment_id) DO UPDATE SET
			segment_index = excluded.segment_index,
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			content_combined = excluded.content_combined,
			content = excluded.content,
			keywords = excluded.keywords,
			tools_json = excluded.tools_json,
			file_uri = excluded.file_uri,
			file_type = excluded.file_type,
			image_uri = excluded.image_uri,
			zero_vector = excluded.zero_vector,
			vector = excluded.vector,
			updated_at = excluded.updated_at`,
		rec.DocumentID, rec.SegmentID, rec.SegmentIndex, rec.WorkflowID, rec.Status,
		rec.ContentCombined, rec.Content, rec.Keywords, rec.ToolsJSON,
		rec.FileURI, rec.FileType, rec.ImageURI, zero, blob,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return flowerr.TransientIO("upsert index record", err)
	}

	if err := s.fts.upsert(rec.Key(), rec.Keywords); err != nil {
		return fmt.Errorf("index keywords: %w", err)
	}

	if rec.ZeroVector || len(rec.Vector) == 0 {
		s.vectors.remove([]string{rec.Key()})
		return nil
	}
	return s.vectors.add(rec.Key(), rec.Vector)
}

// UpdateStatus patches record status. An empty segmentID applies to
// every segment of the document.
func (s *Store) UpdateStatus(ctx context.Context, documentID, segmentID, status string) error {
	var err error
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if segmentID == "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE index_records SET status = ?, updated_at = ? WHERE document_id = ?`,
			status, now, documentID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE index_records SET status = ?, updated_at = ? WHERE document_id = ? AND segment_id = ?`,
			status, now, documentID, segmentID)
	}
	if err != nil {
		return flowerr.TransientIO("update index status", err)
	}
	return nil
}

const recordColumns = `document_id, segment_id, segment_index, workflow_id, status,
	content_combined, content, keywords, tools_json,
	file_uri, file_type, image_uri, zero_vector, vector, created_at, updated_at`

func scanRecord(scan func(...any) error) (*Record, error) {
	var rec Record
	var zero int
	var blob []byte
	var createdAt, updatedAt string
	err := scan(
		&rec.DocumentID, &rec.SegmentID, &rec.SegmentIndex, &rec.WorkflowID, &rec.Status,
		&rec.ContentCombined, &rec.Content, &rec.Keywords, &rec.ToolsJSON,
		&rec.FileURI, &rec.FileType, &rec.ImageURI, &zero, &blob, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.ZeroVector = zero == 1
	if len(blob) > 0 {
		if vec, err := decodeVector(blob); err == nil {
			rec.Vector = vec
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// GetSegments returns a document's records in ascending segment_index.
func (s *Store) GetSegments(ctx context.Context, documentID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE document_id = ? ORDER BY segment_index`,
		documentID)
	if err != nil {
		return nil, flowerr.TransientIO("query segments", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) getByKey(ctx context.Context, key string) (*Record, error) {
	docID, segID, ok := strings.Cut(key, "\x00")
	if !ok {
		return nil, fmt.Errorf("malformed record key")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE document_id = ? AND segment_id = ?`,
		docID, segID)
	return scanRecord(row.Scan)
}

// Search runs vector search on the query text and full-text search on
// its extracted keywords independently, each capped at limit. Results
// merge in a fixed order: vector hits first, then FTS hits, de-duplicated
// by (document_id, segment_id) keeping the earlier occurrence, truncated
// to limit.
func (s *Store) Search(ctx context.Context, queryText string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}

	var vectorKeys, ftsKeys []string
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vec, err := s.embedder.Embed(gctx, embed.Truncate(queryText, embed.MaxInputChars))
		if err != nil {
			s.logger.Warn("query embedding failed, vector branch skipped",
				slog.String("error", err.Error()))
			return nil
		}
		if embed.IsZeroVector(vec) {
			return nil
		}
		hits, err := s.vectors.search(vec, limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			vectorKeys = append(vectorKeys, h.id)
		}
		return nil
	})

	g.Go(func() error {
		ids, err := s.fts.search(keyword.Extract(queryText), limit)
		if err != nil {
			return err
		}
		ftsKeys = ids
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, limit)
	var merged []string
	for _, key := range append(vectorKeys, ftsKeys...) {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, key)
		if len(merged) == limit {
			break
		}
	}

	records := make([]*Record, 0, len(merged))
	for _, key := range merged {
		rec, err := s.getByKey(ctx, key)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteWorkflow removes every record of the workflow from all three
// indices. Returns the number of rows removed.
func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, segment_id FROM index_records WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return 0, flowerr.TransientIO("query workflow records", err)
	}
	var keys []string
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.DocumentID, &rec.SegmentID); err != nil {
			rows.Close()
			return 0, err
		}
		keys = append(keys, rec.Key())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM index_records WHERE workflow_id = ?`, workflowID); err != nil {
		return 0, flowerr.TransientIO("delete workflow records", err)
	}
	if err := s.fts.remove(keys); err != nil {
		return 0, err
	}
	s.vectors.remove(keys)
	return len(keys), nil
}

// Count returns the number of indexed records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_records`).Scan(&n)
	return n, err
}

// Close releases the database, the FTS index, and the directory lock.
func (s *Store) Close() error {
	var firstErr error
	if s.fts != nil {
		if err := s.fts.close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.unlock()
	return firstErr
}
