package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// entry pairs a section key with its embedding.
type entry struct {
	id  string
	vec []float32
}

// MemoryIndex is a brute-force inner-product index. Fine for the corpus
// sizes a single local instance handles; swap in an ANN backend behind the
// Index interface if that stops being true.
type MemoryIndex struct {
	dimensions int
	entries    []entry
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions}, nil
}

// Add appends vectors under the given IDs. Vectors are copied.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.entries = append(m.entries, entry{id: id, vec: vec})
	}
	return nil
}

// Search returns the top-k entries by inner product. For normalized
// vectors this equals cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}

	results := make([]*Result, len(m.entries))
	for i, e := range m.entries {
		results[i] = &Result{ID: e.id, Score: InnerProduct(query, e.vec)}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Remove drops all entries whose ID is in ids.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !drop[e.id] {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// RemovePrefix drops all entries whose ID starts with prefix. Used to evict
// every section of one envelope.
func (m *MemoryIndex) RemovePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if len(e.id) < len(prefix) || e.id[:len(prefix)] != prefix {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}

// Save persists the index. Format: dimensions (u32), count (u32), then per
// entry: id length (u32), id bytes, vector as little-endian float32s.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("failed to write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return fmt.Errorf("failed to write count: %w", err)
	}
	for _, e := range m.entries {
		if err := binary.Write(f, binary.LittleEndian, uint32(len(e.id))); err != nil {
			return fmt.Errorf("failed to write id length: %w", err)
		}
		if _, err := f.Write([]byte(e.id)); err != nil {
			return fmt.Errorf("failed to write id: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, e.vec); err != nil {
			return fmt.Errorf("failed to write vector: %w", err)
		}
	}
	return nil
}

// Load replaces the index contents from path. A missing file is not an
// error; the index just stays empty.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("failed to read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("failed to read count: %w", err)
	}

	entries := make([]entry, 0, n)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("failed to read id length: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(f, idBytes); err != nil {
			return fmt.Errorf("failed to read id: %w", err)
		}
		vec := make([]float32, m.dimensions)
		if err := binary.Read(f, binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("failed to read vector: %w", err)
		}
		entries = append(entries, entry{id: string(idBytes), vec: vec})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	return nil
}

// Size returns the number of stored vectors.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

// InnerProduct returns the inner product of two equal-length vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

// CosineSimilarity clamps the inner product of normalized vectors to [0,1].
func CosineSimilarity(a, b []float32) float64 {
	return math.Max(0, math.Min(1, InnerProduct(a, b)))
}
