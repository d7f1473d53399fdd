package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"
	"github.com/OFFIS-RIT/regnet/pkg/store"
)

const corpusJSON = `[
  {"id": "p1", "level": "part", "number": "1500", "name": "Hazardous Substances"},
  {"id": "s1", "level": "section", "number": "1500.1", "text": "See § 1500.2.", "parent_id": "p1", "embedding": [1, 0]},
  {"id": "s2", "level": "Section", "number": "1500.2", "parent_id": "p1"}
]`

func TestDecodeCorpus(t *testing.T) {
	corpus, err := DecodeCorpus([]byte(corpusJSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if corpus.Len() != 3 {
		t.Fatalf("len = %d", corpus.Len())
	}
	s1, _ := corpus.Get("s1")
	if !reflect.DeepEqual(s1.Embedding, common.Vector{1, 0}) || s1.ParentID != "p1" {
		t.Fatalf("s1 = %+v", s1)
	}
	if s2, _ := corpus.Get("s2"); s2.Level != common.LevelSection || s2.HasEmbedding() {
		t.Fatalf("s2 = %+v", s2)
	}

	if _, err := DecodeCorpus([]byte(`[{"id":"x","level":"paragraph"}]`)); !errors.Is(err, common.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestStorage_EmbeddingsAndProgress(t *testing.T) {
	corpus, _ := DecodeCorpus([]byte(corpusJSON))
	s := New(corpus)
	ctx := context.Background()

	if err := s.SaveEmbeddings(ctx, map[string]common.Vector{"s2": {0, 1}, "p1": {1, 1}}); err != nil {
		t.Fatalf("save embeddings: %v", err)
	}
	loaded, _ := s.LoadCorpus(ctx)
	if s2, _ := loaded.Get("s2"); !reflect.DeepEqual(s2.Embedding, common.Vector{0, 1}) {
		t.Fatalf("s2 embedding = %v", s2.Embedding)
	}
	if p1, _ := loaded.Get("p1"); p1.HasEmbedding() {
		t.Fatal("only sections take embeddings")
	}

	if _, err := s.GetProgress(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetReportKey(ctx, "nope", "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p := analysis.Progress{ID: "a", Kind: analysis.KindCitation, State: analysis.StatePending}
	if err := s.SaveProgress(ctx, p); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	if err := s.SetReportKey(ctx, "a", "reports/a.json"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if key, _ := s.GetReportKey(ctx, "a"); key != "reports/a.json" {
		t.Fatalf("key = %q", key)
	}
}

func TestStorage_SavePassReplacesLevel(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	edge := common.SimilarityEdge{Entity1: "a", Entity2: "b", Score: 0.9, Class: common.SimilarityRedundant}

	_ = s.SavePass(ctx, analysis.PassResult{
		Progress: analysis.Progress{ID: "1", Kind: analysis.KindFull},
		Levels: []analysis.LevelReport{{
			Level:      common.LevelSection,
			Similarity: &similarity.Result{Edges: []common.SimilarityEdge{edge, edge}},
			Clusters:   []common.Cluster{{Label: 0, Size: 2}},
		}},
	})
	_ = s.SavePass(ctx, analysis.PassResult{
		Progress: analysis.Progress{ID: "2", Kind: analysis.KindSimilarity},
		Levels: []analysis.LevelReport{{
			Level:      common.LevelSection,
			Similarity: &similarity.Result{Edges: []common.SimilarityEdge{edge}},
		}},
	})

	sim, _ := s.GetSimilarity(ctx, common.LevelSection, 0)
	if len(sim) != 1 {
		t.Fatalf("similarity = %v, want replaced set", sim)
	}
	clusters, _ := s.GetClusters(ctx, common.LevelSection)
	if len(clusters) != 1 {
		t.Fatalf("similarity pass must not drop clusters, got %v", clusters)
	}
	if empty, _ := s.GetClusters(ctx, common.LevelChapter); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil clusters, got %v", empty)
	}
	if len(s.Passes()) != 2 {
		t.Fatalf("passes = %d", len(s.Passes()))
	}
}
