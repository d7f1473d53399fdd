package embedding

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrLevelMismatch  = errors.New("entity is not at the requested level")
)

// Aggregated is an entity together with its level vector. Sections reports
// how many section embeddings contributed to Vector.
type Aggregated struct {
	Entity   common.Entity `json:"entity"`
	Vector   common.Vector `json:"-"`
	Sections int           `json:"sections"`
}

// Store derives level vectors from a corpus snapshot. Sections return their
// own embedding; every other level returns the unweighted mean of all
// transitively contained section embeddings. Store is read-only and safe for
// concurrent use.
type Store struct {
	corpus *common.Corpus
}

func NewStore(corpus *common.Corpus) *Store {
	return &Store{corpus: corpus}
}

// Aggregate returns the vector of entity id at level. A nil vector with a nil
// error means the entity has no embedded descendants.
func (s *Store) Aggregate(level common.Level, id string) (common.Vector, int, error) {
	if !level.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", common.ErrInvalidLevel, level)
	}
	e, ok := s.corpus.Get(id)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	if e.Level != level {
		return nil, 0, fmt.Errorf("%w: %s is a %s, not a %s", ErrLevelMismatch, id, e.Level, level)
	}

	switch level {
	case common.LevelSection:
		if !e.HasEmbedding() {
			return nil, 0, nil
		}
		v := make(common.Vector, len(e.Embedding))
		copy(v, e.Embedding)
		return v, 1, nil
	case common.LevelChapter, common.LevelSubchapter, common.LevelPart:
		v, n := Mean(s.corpus.DescendantSections(id))
		return v, n, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", common.ErrInvalidLevel, level)
	}
}

// AggregateLevel returns every entity of level that has a vector, in corpus
// order. Entities without embedded descendants are left out.
func (s *Store) AggregateLevel(level common.Level) ([]Aggregated, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidLevel, level)
	}

	entities := s.corpus.ByLevel(level)
	out := make([]Aggregated, 0, len(entities))
	for _, e := range entities {
		v, n, err := s.Aggregate(level, e.ID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		out = append(out, Aggregated{Entity: e, Vector: v, Sections: n})
	}

	logger.Debug("[Embedding] aggregated level", "level", level, "entities", len(entities), "embedded", len(out))
	return out, nil
}

// Mean averages the embeddings of sections, skipping sections without a
// vector and sections whose dimension differs from the first embedded one.
// Accumulation happens in float64. Returns nil, 0 when nothing contributed
// or the contributions cancel out to a zero vector.
func Mean(sections []common.Entity) (common.Vector, int) {
	var sum []float64
	n := 0
	for _, sec := range sections {
		if !sec.HasEmbedding() {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(sec.Embedding))
		}
		if len(sec.Embedding) != len(sum) {
			logger.Warn("[Embedding] skipping section with mismatched dimension",
				"section", sec.ID, "dim", len(sec.Embedding), "want", len(sum))
			continue
		}
		for i, x := range sec.Embedding {
			sum[i] += float64(x)
		}
		n++
	}
	if n == 0 {
		return nil, 0
	}

	out := make(common.Vector, len(sum))
	for i, x := range sum {
		out[i] = float32(x / float64(n))
	}
	if out.IsZero() {
		return nil, 0
	}
	return out, n
}
