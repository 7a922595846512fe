package index

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/member-qa/engine/domain"
)

// Snapshot is an immutable corpus: records, their embeddings in the same
// order, and the embedding space they live in.
type Snapshot struct {
	id      string
	records []domain.Record
	vectors [][]float32
	norms   []float64
	model   string
	dim     int
	builtAt time.Time
}

// NewSnapshot validates and freezes a corpus. Every record needs exactly
// one embedding and all embeddings must share one non-zero dimension.
func NewSnapshot(records []domain.Record, vectors [][]float32, model string) (*Snapshot, error) {
	if len(records) != len(vectors) {
		return nil, fmt.Errorf("index: snapshot: %w: %d records, %d embeddings",
			domain.ErrEmbeddingMismatch, len(records), len(vectors))
	}
	s := &Snapshot{
		id:      uuid.NewString(),
		records: slices.Clone(records),
		vectors: make([][]float32, len(vectors)),
		norms:   make([]float64, len(vectors)),
		model:   model,
		builtAt: time.Now(),
	}
	for i, v := range vectors {
		if i == 0 {
			s.dim = len(v)
		}
		if len(v) == 0 || len(v) != s.dim {
			return nil, fmt.Errorf("index: snapshot: %w: embedding %d has dimension %d, want %d",
				domain.ErrEmbeddingMismatch, i, len(v), s.dim)
		}
		s.vectors[i] = slices.Clone(v)
		s.norms[i] = Norm(v)
	}
	return s, nil
}

func (s *Snapshot) ID() string         { return s.id }
func (s *Snapshot) Len() int           { return len(s.records) }
func (s *Snapshot) Model() string      { return s.model }
func (s *Snapshot) Dimension() int     { return s.dim }
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Record returns the record at position i.
func (s *Snapshot) Record(i int) domain.Record { return s.records[i] }
