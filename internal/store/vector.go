package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/kotae/pkg/utils"
)

// VectorIndex is an in-memory vector index using brute-force inner product
// search. Vectors are L2-normalized on insert, so inner product equals cosine
// similarity. Suitable for corpora that fit in memory.
type VectorIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// indexHit is one scored hit from a search leg, keyed by chunk key.
type indexHit struct {
	ID    string
	Score float64
}

// NewVectorIndex creates an empty index for vectors of the given dimension.
func NewVectorIndex(dimensions int) (*VectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &VectorIndex{dimensions: dimensions}, nil
}

// Add appends vectors with the given IDs, normalizing each to unit length.
func (v *VectorIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != v.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), v.dimensions)
		}
		vec := make([]float32, v.dimensions)
		copy(vec, vectors[i])
		utils.NormalizeL2(vec)
		v.ids = append(v.ids, id)
		v.vectors = append(v.vectors, vec)
	}
	return nil
}

// Search returns the top-k entries by cosine similarity. When keep is non-nil,
// entries for which keep(id) is false are skipped before ranking.
func (v *VectorIndex) Search(query []float32, k int, keep func(id string) bool) ([]indexHit, error) {
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), v.dimensions)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if k <= 0 || len(v.ids) == 0 {
		return nil, nil
	}
	q := make([]float32, v.dimensions)
	copy(q, query)
	utils.NormalizeL2(q)

	hits := make([]indexHit, 0, len(v.ids))
	for i, vec := range v.vectors {
		if keep != nil && !keep(v.ids[i]) {
			continue
		}
		hits = append(hits, indexHit{ID: v.ids[i], Score: float64(utils.Dot(q, vec))})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Remove deletes the entries with the given IDs.
func (v *VectorIndex) Remove(ids []string) {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	newIDs := v.ids[:0]
	newVectors := v.vectors[:0]
	for i, id := range v.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, v.vectors[i])
		}
	}
	v.ids = newIDs
	v.vectors = newVectors
}

// Count returns the number of indexed vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.ids)
}

// Save persists the index to path. Format: dimension (4), n (4), then per
// vector: idLen (4), id bytes, vector (dimension*4 bytes), little-endian.
func (v *VectorIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(v.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(v.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range v.ids {
		idBytes := []byte(id)
		if err := binary.Write(f, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := f.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(v.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path, replacing the in-memory contents. A missing
// file is not an error; the index is left empty.
func (v *VectorIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var dims, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dims); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dims) != v.dimensions {
		return fmt.Errorf("index dimension mismatch: file has %d, expected %d", dims, v.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}

	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(f, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(f, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		raw := make([]byte, v.dimensions*4)
		if _, err := io.ReadFull(f, raw); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, string(idBytes))
		vectors = append(vectors, bytesToFloat32Slice(raw))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.ids = ids
	v.vectors = vectors
	return nil
}

func float32SliceToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
