// Package memory keeps a corpus and analysis results in process memory. It
// backs the one-shot CLI and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/store"
)

// Storage implements store.AnalysisStorage without a database.
type Storage struct {
	mu         sync.RWMutex
	corpus     *common.Corpus
	progress   map[string]analysis.Progress
	reportKeys map[string]string
	clusters   map[common.Level][]common.Cluster
	similarity map[common.Level][]common.SimilarityEdge
	passes     []analysis.PassResult
}

var _ store.AnalysisStorage = (*Storage)(nil)

func New(corpus *common.Corpus) *Storage {
	if corpus == nil {
		corpus = common.NewCorpus(nil)
	}
	return &Storage{
		corpus:     corpus,
		progress:   map[string]analysis.Progress{},
		reportKeys: map[string]string{},
		clusters:   map[common.Level][]common.Cluster{},
		similarity: map[common.Level][]common.SimilarityEdge{},
	}
}

func (s *Storage) LoadCorpus(ctx context.Context) (*common.Corpus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corpus, nil
}

func (s *Storage) SaveEmbeddings(ctx context.Context, vectors map[string]common.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := s.corpus.Entities()
	for i, e := range entities {
		if v, ok := vectors[e.ID]; ok && e.Level == common.LevelSection {
			entities[i].Embedding = slices.Clone(v)
		}
	}
	s.corpus = common.NewCorpus(entities)
	return nil
}

func (s *Storage) SaveProgress(ctx context.Context, p analysis.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.ID] = p
	return nil
}

func (s *Storage) GetProgress(ctx context.Context, id string) (analysis.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[id]
	if !ok {
		return analysis.Progress{}, fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (s *Storage) SetReportKey(ctx context.Context, id, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.progress[id]; !ok {
		return fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
	}
	s.reportKeys[id] = key
	return nil
}

func (s *Storage) GetReportKey(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.progress[id]; !ok {
		return "", fmt.Errorf("pass %s: %w", id, store.ErrNotFound)
	}
	return s.reportKeys[id], nil
}

// SavePass mirrors the replacement rules of the database store.
func (s *Storage) SavePass(ctx context.Context, result analysis.PassResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaceClusters := result.Progress.Kind == analysis.KindCluster || result.Progress.Kind == analysis.KindFull
	for _, rep := range result.Levels {
		if rep.Similarity != nil {
			s.similarity[rep.Level] = slices.Clone(rep.Similarity.Edges)
		}
		if replaceClusters {
			s.clusters[rep.Level] = slices.Clone(rep.Clusters)
		}
	}
	s.passes = append(s.passes, result)
	return nil
}

func (s *Storage) GetClusters(ctx context.Context, level common.Level) ([]common.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.clusters[level])
	if out == nil {
		out = []common.Cluster{}
	}
	return out, nil
}

func (s *Storage) GetSimilarity(ctx context.Context, level common.Level, limit int) ([]common.SimilarityEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := s.similarity[level]
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	out := slices.Clone(edges)
	if out == nil {
		out = []common.SimilarityEdge{}
	}
	return out, nil
}

// Passes returns every saved pass result in save order.
func (s *Storage) Passes() []analysis.PassResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.passes)
}

// entityRecord is the file form of an entity, embedding included.
type entityRecord struct {
	common.Entity
	Embedding []float32 `json:"embedding,omitempty"`
}

// LoadCorpusFile reads a JSON array of entities in corpus order.
func LoadCorpusFile(path string) (*common.Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCorpus(data)
}

func DecodeCorpus(data []byte) (*common.Corpus, error) {
	var records []entityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid corpus file: %w", err)
	}
	entities := make([]common.Entity, 0, len(records))
	for i, r := range records {
		e := r.Entity
		level, err := common.ParseLevel(string(e.Level))
		if err != nil {
			return nil, fmt.Errorf("entity %d (%s): %w", i, e.ID, err)
		}
		e.Level = level
		e.Embedding = common.Vector(r.Embedding)
		entities = append(entities, e)
	}
	return common.NewCorpus(entities), nil
}
