package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// vectorIndex wraps coder/hnsw with string IDs. Deletion is lazy: the
// node stays in the graph but its key mapping is dropped, which avoids
// graph breakage when the last node is removed.
type vectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	dims   int
	idMap  map[string]uint64
	keyMap map[uint64]string
	next   uint64
}

func newVectorIndex(dims int) *vectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &vectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// add inserts or replaces one vector.
func (v *vectorIndex) add(id string, vec []float32) error {
	if len(vec) != v.dims {
		return fmt.Errorf("vector dimension %d, want %d", len(vec), v.dims)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.idMap[id]; ok {
		delete(v.keyMap, existing)
		delete(v.idMap, id)
	}

	key := v.next
	v.next++

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	v.graph.Add(hnsw.MakeNode(key, normalized))
	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

// vectorHit is one ANN result.
type vectorHit struct {
	id    string
	score float32
}

// search returns up to k nearest IDs by cosine similarity.
func (v *vectorIndex) search(query []float32, k int) ([]vectorHit, error) {
	if len(query) != v.dims {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query), v.dims)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes.
	nodes := v.graph.Search(normalized, k*2)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := v.graph.Distance(normalized, node.Value)
		hits = append(hits, vectorHit{id: id, score: 1 - distance})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// remove drops IDs from the mappings (lazy deletion).
func (v *vectorIndex) remove(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		if key, ok := v.idMap[id]; ok {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

func (v *vectorIndex) count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// encodeVector packs a vector as little-endian float32 for row storage.
func encodeVector(v []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// decodeVector unpacks a row-stored vector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &v); err != nil {
		return nil, err
	}
	return v, nil
}
