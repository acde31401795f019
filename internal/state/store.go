package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	flowerr "github.com/docuflow/docuflow/internal/errors"
)

// Store persists workflows, steps, and segments in a single SQLite table
// keyed by (pk, sk). Items are JSON bodies, so schema evolution never
// requires a migration.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at path. Pass ":memory:"
// for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	// modernc.org/sqlite serializes per connection. A single connection
	// avoids SQLITE_BUSY under concurrent step updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	pk         TEXT NOT NULL,
	sk         TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (pk, sk)
);
`

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) putItem(ctx context.Context, pk, sk string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal item %s/%s: %w", pk, sk, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO items (pk, sk, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (pk, sk) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		pk, sk, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return flowerr.TransientIO(fmt.Sprintf("write item %s/%s", pk, sk), err)
	}
	return nil
}

// getItem loads one item into dest. Returns sql.ErrNoRows when absent.
func (s *Store) getItem(ctx context.Context, pk, sk string, dest any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM items WHERE pk = ? AND sk = ?`, pk, sk).Scan(&body)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(body), dest)
}

// queryPrefix returns bodies for pk rows whose sk starts with skPrefix,
// in sk order, resuming after the given sk cursor.
func (s *Store) queryPrefix(ctx context.Context, pk, skPrefix, after string, limit int) (bodies []string, lastSK string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sk, body FROM items
		WHERE pk = ? AND sk LIKE ? || '%' AND sk > ?
		ORDER BY sk LIMIT ?`,
		pk, skPrefix, after, limit)
	if err != nil {
		return nil, "", flowerr.TransientIO(fmt.Sprintf("query %s/%s*", pk, skPrefix), err)
	}
	defer rows.Close()

	for rows.Next() {
		var sk, body string
		if err := rows.Scan(&sk, &body); err != nil {
			return nil, "", err
		}
		bodies = append(bodies, body)
		lastSK = sk
	}
	return bodies, lastSK, rows.Err()
}

// queryAll drains queryPrefix page by page.
func (s *Store) queryAll(ctx context.Context, pk, skPrefix string) ([]string, error) {
	const pageSize = 200
	var all []string
	after := ""
	for {
		bodies, lastSK, err := s.queryPrefix(ctx, pk, skPrefix, after, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, bodies...)
		if len(bodies) < pageSize {
			return all, nil
		}
		after = lastSK
	}
}

// PutWorkflow writes the workflow head item.
func (s *Store) PutWorkflow(ctx context.Context, wf *Workflow) error {
	if wf.WorkflowID == "" || wf.DocumentID == "" {
		return flowerr.InvalidInput("workflow requires workflow_id and document_id", nil)
	}
	wf.UpdatedAt = time.Now().UTC()
	if wf.StartedAt.IsZero() {
		wf.StartedAt = wf.UpdatedAt
	}
	return s.putItem(ctx, docPK(wf.DocumentID), workflowSK(wf.WorkflowID), wf)
}

// GetWorkflow loads one workflow head item.
func (s *Store) GetWorkflow(ctx context.Context, documentID, workflowID string) (*Workflow, error) {
	var wf Workflow
	err := s.getItem(ctx, docPK(documentID), workflowSK(workflowID), &wf)
	if err == sql.ErrNoRows {
		return nil, flowerr.New(flowerr.CodeInvalidInput, fmt.Sprintf("workflow not found: %s/%s", documentID, workflowID), nil)
	}
	if err != nil {
		return nil, flowerr.TransientIO("read workflow", err)
	}
	return &wf, nil
}

// ListWorkflows returns every ingestion attempt recorded for a document,
// most recent first.
func (s *Store) ListWorkflows(ctx context.Context, documentID string) ([]*Workflow, error) {
	bodies, err := s.queryAll(ctx, docPK(documentID), skWFPrefix)
	if err != nil {
		return nil, err
	}
	workflows := make([]*Workflow, 0, len(bodies))
	for _, body := range bodies {
		var wf Workflow
		if err := json.Unmarshal([]byte(body), &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		workflows = append(workflows, &wf)
	}
	// Rows arrive in sort-key order, which is random relative to time
	// for UUID workflow IDs.
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].StartedAt.After(workflows[j].StartedAt)
	})
	return workflows, nil
}

// SetWorkflowStatus updates the head item's status. A non-empty errMsg is
// recorded alongside, and FAILED clears nothing so the last error survives.
func (s *Store) SetWorkflowStatus(ctx context.Context, documentID, workflowID string, status WorkflowStatus, errMsg string) error {
	wf, err := s.GetWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return err
	}
	wf.Status = status
	if errMsg != "" {
		wf.Error = errMsg
	}
	return s.PutWorkflow(ctx, wf)
}

// InitSteps seeds step records. Existing records are not overwritten, so
// a redelivered create event cannot reset progress.
func (s *Store) InitSteps(ctx context.Context, workflowID string, steps map[StepName]StepState) error {
	existing, err := s.GetSteps(ctx, workflowID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for name, st := range steps {
		if _, ok := existing[name]; ok {
			continue
		}
		rec := StepRecord{State: st}
		if st.Terminal() {
			rec.EndedAt = now
		}
		if err := s.putItem(ctx, workflowPK(workflowID), stepSK(name), rec); err != nil {
			return err
		}
	}
	return nil
}

// UpdateStep advances one step's state. Transitions must move forward
// along PENDING, RUNNING, then a terminal state; a terminal record is
// immutable and same-state updates are no-ops.
func (s *Store) UpdateStep(ctx context.Context, workflowID string, name StepName, state StepState, errMsg string) error {
	var rec StepRecord
	err := s.getItem(ctx, workflowPK(workflowID), stepSK(name), &rec)
	if err == sql.ErrNoRows {
		rec = StepRecord{State: StepPending}
	} else if err != nil {
		return flowerr.TransientIO("read step", err)
	}

	if state == rec.State {
		return nil
	}
	if rec.State.Terminal() {
		return flowerr.InvalidInput(fmt.Sprintf("step %s is %s and cannot become %s", name, rec.State, state), nil)
	}
	if state.rank() <= rec.State.rank() {
		return flowerr.InvalidInput(fmt.Sprintf("step %s cannot go back from %s to %s", name, rec.State, state), nil)
	}

	now := time.Now().UTC()
	if state == StepRunning {
		rec.StartedAt = now
	}
	if state.Terminal() {
		if rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		rec.EndedAt = now
	}
	rec.State = state
	if errMsg != "" {
		rec.Error = errMsg
	}
	return s.putItem(ctx, workflowPK(workflowID), stepSK(name), rec)
}

// GetSteps returns every step record for the workflow.
func (s *Store) GetSteps(ctx context.Context, workflowID string) (map[StepName]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sk, body FROM items WHERE pk = ? AND sk LIKE ? || '%' ORDER BY sk`,
		workflowPK(workflowID), skStep+"#")
	if err != nil {
		return nil, flowerr.TransientIO("query steps", err)
	}
	defer rows.Close()

	steps := make(map[StepName]StepRecord)
	for rows.Next() {
		var sk, body string
		if err := rows.Scan(&sk, &body); err != nil {
			return nil, err
		}
		var rec StepRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("decode step %s: %w", sk, err)
		}
		steps[StepName(strings.TrimPrefix(sk, skStep+"#"))] = rec
	}
	return steps, rows.Err()
}

// PutSegment writes one segment record. The sort key zero-pads the index
// so lexical order equals segment order.
func (s *Store) PutSegment(ctx context.Context, seg *Segment) error {
	if seg.WorkflowID == "" {
		return flowerr.InvalidInput("segment requires workflow_id", nil)
	}
	return s.putItem(ctx, workflowPK(seg.WorkflowID), segmentSK(seg.SegmentIndex), seg)
}

// GetSegments returns the workflow's segments in ascending index order.
func (s *Store) GetSegments(ctx context.Context, workflowID string) ([]*Segment, error) {
	bodies, err := s.queryAll(ctx, workflowPK(workflowID), skSegPrefix)
	if err != nil {
		return nil, err
	}
	segments := make([]*Segment, 0, len(bodies))
	for _, body := range bodies {
		var seg Segment
		if err := json.Unmarshal([]byte(body), &seg); err != nil {
			return nil, fmt.Errorf("decode segment: %w", err)
		}
		segments = append(segments, &seg)
	}
	return segments, nil
}

// DeleteWorkflow removes the head item and every step and segment row.
func (s *Store) DeleteWorkflow(ctx context.Context, documentID, workflowID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE (pk = ? AND sk = ?) OR pk = ?`,
		docPK(documentID), workflowSK(workflowID), workflowPK(workflowID))
	if err != nil {
		return flowerr.TransientIO("delete workflow", err)
	}
	return nil
}

func stepSK(name StepName) string { return skStep + "#" + string(name) }
