package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/citation"
	"github.com/OFFIS-RIT/regnet/pkg/cluster"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/embedding"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/rank"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"
)

const (
	// excerpts of descendant sections describing a non-section cluster item
	clusterExcerpts     = 4
	clusterExcerptRunes = 150
)

// Explainer writes a short justification for a flagged similarity pair.
type Explainer interface {
	ExplainPair(ctx context.Context, name1, name2 string, score float64, class common.SimilarityClass) (string, error)
}

// NewEngineParams configures an analysis Engine.
type NewEngineParams struct {
	Config    Config
	Narrator  cluster.Narrator
	Explainer Explainer
}

// Engine exposes the analysis operations over a corpus snapshot. It keeps no
// state between calls; every result is a function of the snapshot passed in
// and the configuration.
type Engine struct {
	cfg        Config
	similarity *similarity.Engine
	clusters   *cluster.Engine
	citations  *citation.Builder
	explainer  Explainer
}

func NewEngine(params NewEngineParams) (*Engine, error) {
	cfg := params.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}

	sim, err := similarity.NewEngine(similarity.NewEngineParams{
		Thresholds: cfg.Thresholds,
		Workers:    cfg.SimilarityWorkers,
		MaxItems:   cfg.SimilarityMaxItems,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		similarity: sim,
		clusters: cluster.NewEngine(cluster.NewEngineParams{
			MaxClusters: cfg.MaxClusters,
			Seed:        cfg.KMeansSeed,
			Restarts:    cfg.KMeansRestarts,
			Narrator:    params.Narrator,
		}),
		citations: citation.NewBuilder(citation.NewBuilderParams{ReportUnresolved: true}),
		explainer: params.Explainer,
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// levelVectors aggregates the embeddings of a level; unknown levels fail
// with common.ErrInvalidLevel.
func levelVectors(corpus *common.Corpus, level common.Level) ([]embedding.Aggregated, error) {
	return embedding.NewStore(corpus).AggregateLevel(level)
}

func similarityItems(agg []embedding.Aggregated) []similarity.Item {
	items := make([]similarity.Item, len(agg))
	for i, a := range agg {
		items[i] = similarity.Item{ID: a.Entity.ID, Vector: a.Vector}
	}
	return items
}

// AnalyzeSimilarity compares every pair of embedded entities of a level.
func (e *Engine) AnalyzeSimilarity(ctx context.Context, corpus *common.Corpus, level common.Level) (similarity.Result, error) {
	agg, err := levelVectors(corpus, level)
	if err != nil {
		return similarity.Result{}, err
	}
	return e.similarity.AnalyzeLevel(ctx, level, similarityItems(agg))
}

// Cluster partitions the embedded entities of a level. k <= 0 picks the
// default cluster count.
func (e *Engine) Cluster(ctx context.Context, corpus *common.Corpus, level common.Level, k int) ([]common.Cluster, error) {
	agg, err := levelVectors(corpus, level)
	if err != nil {
		return nil, err
	}
	items := make([]cluster.Item, len(agg))
	for i, a := range agg {
		items[i] = cluster.Item{
			ID:     a.Entity.ID,
			Name:   DisplayName(a.Entity),
			Text:   narrativeText(corpus, a.Entity),
			Vector: a.Vector,
		}
	}
	return e.clusters.Cluster(ctx, level, items, k)
}

// BuildCitationGraph extracts and resolves the citations of every section.
func (e *Engine) BuildCitationGraph(corpus *common.Corpus) *citation.Graph {
	return e.citations.Build(corpus)
}

// CalculatePageRank ranks the sections of a citation graph. damping <= 0
// uses the configured damping factor.
func (e *Engine) CalculatePageRank(graph *citation.Graph, damping float64) (rank.Result, error) {
	params := e.cfg.PageRank
	if damping > 0 {
		params.Damping = damping
	}
	nodes := make([]string, len(graph.Nodes))
	for i, n := range graph.Nodes {
		nodes[i] = n.ID
	}
	return rank.PageRank(nodes, graph.Edges, params)
}

// NetworkParams selects the similarity edges and sections of a network.
type NetworkParams struct {
	// Threshold <= 0 uses the configured similarity threshold.
	Threshold   float64 `json:"threshold"`
	MaxSections int     `json:"max_sections"`
}

// BuildNetwork materializes the section network: citation edges, section
// similarity edges at or above the threshold, PageRank and communities.
func (e *Engine) BuildNetwork(ctx context.Context, corpus *common.Corpus, params NetworkParams) (*network.Graph, error) {
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = e.cfg.Thresholds.Similarity
	}

	cit := e.BuildCitationGraph(corpus)
	pr, err := e.CalculatePageRank(cit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to rank sections: %w", err)
	}
	sim, err := e.sectionSimilarity(ctx, corpus, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to compare sections: %w", err)
	}

	return network.Build(cit, sim.Edges, pr.Scores, network.BuildParams{
		Threshold:   threshold,
		MaxSections: params.MaxSections,
	}), nil
}

// sectionSimilarity compares sections, lowering the emit threshold when a
// network asks for weaker edges than the configured bands.
func (e *Engine) sectionSimilarity(ctx context.Context, corpus *common.Corpus, threshold float64) (similarity.Result, error) {
	if threshold >= e.cfg.Thresholds.Similarity {
		return e.AnalyzeSimilarity(ctx, corpus, common.LevelSection)
	}
	th := e.cfg.Thresholds
	th.Similarity = threshold
	eng, err := similarity.NewEngine(similarity.NewEngineParams{
		Thresholds: th,
		Workers:    e.cfg.SimilarityWorkers,
		MaxItems:   e.cfg.SimilarityMaxItems,
	})
	if err != nil {
		return similarity.Result{}, err
	}
	agg, err := levelVectors(corpus, common.LevelSection)
	if err != nil {
		return similarity.Result{}, err
	}
	return eng.AnalyzeLevel(ctx, common.LevelSection, similarityItems(agg))
}

// PairExplanation is a flagged similarity pair with a generated
// justification.
type PairExplanation struct {
	common.SimilarityEdge
	Name1       string `json:"name1"`
	Name2       string `json:"name2"`
	Explanation string `json:"explanation"`
}

// ExplainPairs justifies up to limit edges in their given order. Pairs whose
// explanation fails are returned without one.
func (e *Engine) ExplainPairs(ctx context.Context, corpus *common.Corpus, edges []common.SimilarityEdge, limit int) []PairExplanation {
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	out := make([]PairExplanation, 0, len(edges))
	for _, edge := range edges {
		pe := PairExplanation{SimilarityEdge: edge, Name1: edge.Entity1, Name2: edge.Entity2}
		if a, ok := corpus.Get(edge.Entity1); ok {
			pe.Name1 = DisplayName(a)
		}
		if b, ok := corpus.Get(edge.Entity2); ok {
			pe.Name2 = DisplayName(b)
		}
		if e.explainer != nil && ctx.Err() == nil {
			text, err := e.explainer.ExplainPair(ctx, pe.Name1, pe.Name2, edge.Score, edge.Class)
			if err != nil {
				logger.Warn("[Analysis] pair explanation failed", "entity1", edge.Entity1, "entity2", edge.Entity2, "err", err)
			} else {
				pe.Explanation = text
			}
		}
		out = append(out, pe)
	}
	return out
}

// DisplayName renders an entity for prompts and reports, e.g.
// "§ 1610.1: Purpose" or "Part 1610: Standard for the Flammability of
// Clothing Textiles".
func DisplayName(e common.Entity) string {
	label := e.Number
	if label != "" {
		switch e.Level {
		case common.LevelSection:
			label = "§ " + label
		default:
			label = e.Level.Title() + " " + label
		}
	}
	switch {
	case label != "" && e.Name != "":
		return label + ": " + e.Name
	case e.Name != "":
		return e.Name
	case label != "":
		return label
	default:
		return e.ID
	}
}

// narrativeText is the text shown to the narrator for one cluster member.
// Sections contribute their own text; higher levels contribute excerpts of
// their first descendant sections.
func narrativeText(corpus *common.Corpus, e common.Entity) string {
	if e.Level == common.LevelSection {
		return e.Text
	}
	var parts []string
	for _, s := range corpus.DescendantSections(e.ID) {
		if len(parts) == clusterExcerpts {
			break
		}
		if t := util.Snippet(s.Text, clusterExcerptRunes); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
