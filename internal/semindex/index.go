package semindex

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jayasuryajsk/lorikeet/internal/embedding"
)

const indexFileName = "index.bin"

// persistedIndex is the gob-serializable shape written to index.bin,
// mirroring the original's IndexData (vectors plus per-id metadata).
type persistedIndex struct {
	NextID   uint64
	Vectors  map[uint64][]float64
	Metadata map[uint64]ChunkMetadata
}

// VectorIndex is a brute-force cosine-similarity index, in-process and
// persisted to a single gob file. The original uses usearch's HNSW
// approximate index; no equivalent vector-index library appears anywhere
// in the pack, so this keeps the teacher's own in-process cosine-scan
// idiom (already used by internal/memstore's semanticSearch) instead of a
// hand-rolled ANN implementation.
type VectorIndex struct {
	mu       sync.RWMutex
	dir      string
	dim      int
	nextID   uint64
	vectors  map[uint64][]float64
	metadata map[uint64]ChunkMetadata
}

// OpenIndex creates dir if needed and loads any existing index.bin inside it.
func OpenIndex(dir string, dim int) (*VectorIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	vi := &VectorIndex{
		dir:      dir,
		dim:      dim,
		vectors:  make(map[uint64][]float64),
		metadata: make(map[uint64]ChunkMetadata),
	}
	path := filepath.Join(dir, indexFileName)
	if _, err := os.Stat(path); err == nil {
		if err := vi.load(path); err != nil {
			return nil, err
		}
	}
	return vi, nil
}

func (vi *VectorIndex) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	var data persistedIndex
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	vi.nextID = data.NextID
	if data.Vectors != nil {
		vi.vectors = data.Vectors
	}
	if data.Metadata != nil {
		vi.metadata = data.Metadata
	}
	return nil
}

// Save atomically persists the index to index.bin.
func (vi *VectorIndex) Save() error {
	vi.mu.RLock()
	data := persistedIndex{NextID: vi.nextID, Vectors: vi.vectors, Metadata: vi.metadata}
	vi.mu.RUnlock()

	path := filepath.Join(vi.dir, indexFileName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index tmp: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Add stores a chunk's embedding and metadata, returning its assigned id.
func (vi *VectorIndex) Add(metadata ChunkMetadata, vector []float64) uint64 {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	id := vi.nextID
	vi.nextID++
	vi.vectors[id] = vector
	vi.metadata[id] = metadata
	return id
}

// Clear drops every stored vector and its metadata.
func (vi *VectorIndex) Clear() {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	vi.nextID = 0
	vi.vectors = make(map[uint64][]float64)
	vi.metadata = make(map[uint64]ChunkMetadata)
}

// IsEmpty reports whether the index has no stored vectors.
func (vi *VectorIndex) IsEmpty() bool {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return len(vi.vectors) == 0
}

// Stats reports the number of indexed chunks and distinct files.
func (vi *VectorIndex) Stats() Stats {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	files := make(map[string]struct{})
	for _, m := range vi.metadata {
		files[m.FilePath] = struct{}{}
	}
	return Stats{ChunkCount: len(vi.vectors), FileCount: len(files)}
}

type scoredID struct {
	id    uint64
	score float32
}

// Search returns up to topK (id, score) pairs ranked by cosine similarity
// to query, highest first.
func (vi *VectorIndex) Search(query []float64, topK int) []scoredID {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	scored := make([]scoredID, 0, len(vi.vectors))
	for id, vec := range vi.vectors {
		s := embedding.CosineSimilarity(query, vec)
		scored = append(scored, scoredID{id: id, score: float32(s)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Metadata returns the stored metadata for id, if present.
func (vi *VectorIndex) Metadata(id uint64) (ChunkMetadata, bool) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	m, ok := vi.metadata[id]
	return m, ok
}
