package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// ftsIndex wraps Bleve for BM25 keyword search over the extracted
// keyword stream. The index is created lazily on first write.
type ftsIndex struct {
	mu   sync.RWMutex
	idx  bleve.Index
	path string
}

// ftsDocument is the Bleve document shape.
type ftsDocument struct {
	Keywords string `json:"keywords"`
}

// newFTSIndex prepares an FTS handle. An existing on-disk index is
// opened eagerly; otherwise creation waits for the first write. Empty
// path means in-memory.
func newFTSIndex(path string) (*ftsIndex, error) {
	f := &ftsIndex{path: path}
	if path == "" {
		return f, nil
	}
	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open fts index: %w", err)
		}
		f.idx = idx
	}
	return f, nil
}

// ensure creates the index on first use. Caller holds the write lock.
func (f *ftsIndex) ensure() error {
	if f.idx != nil {
		return nil
	}
	mapping := bleve.NewIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if f.path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("create fts dir: %w", err)
		}
		idx, err = bleve.New(f.path, mapping)
	}
	if err != nil {
		return fmt.Errorf("create fts index: %w", err)
	}
	f.idx = idx
	return nil
}

// upsert indexes keywords under the given ID.
func (f *ftsIndex) upsert(id, keywords string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensure(); err != nil {
		return err
	}
	return f.idx.Index(id, ftsDocument{Keywords: keywords})
}

// search returns up to limit IDs matching the keyword query, best first.
func (f *ftsIndex) search(keywords string, limit int) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.idx == nil || keywords == "" {
		return nil, nil
	}

	query := bleve.NewMatchQuery(keywords)
	query.SetField("keywords")
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)

	res, err := f.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// remove drops IDs from the index.
func (f *ftsIndex) remove(ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx == nil {
		return nil
	}
	batch := f.idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return f.idx.Batch(batch)
}

// close releases the Bleve index.
func (f *ftsIndex) close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx == nil {
		return nil
	}
	err := f.idx.Close()
	f.idx = nil
	return err
}
