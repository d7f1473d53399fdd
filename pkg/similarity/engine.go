package similarity

import (
	"cmp"
	"context"
	"slices"

	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Item is an entity vector taking part in pairwise comparison.
type Item struct {
	ID     string
	Vector common.Vector
}

// Summary counts what a pass compared and found.
type Summary struct {
	Items     int `json:"items"`
	Pairs     int `json:"pairs"`
	Similar   int `json:"similar"`
	Overlap   int `json:"overlap"`
	Redundant int `json:"redundant"`
}

// Result of one pairwise pass over a level.
type Result struct {
	Level   common.Level            `json:"level"`
	Edges   []common.SimilarityEdge `json:"edges"`
	Summary Summary                 `json:"summary"`
}

// NewEngineParams configures a similarity Engine.
type NewEngineParams struct {
	Thresholds Thresholds
	// Workers > 1 partitions the pair matrix by row. Output is identical to
	// the sequential pass.
	Workers int
	// MaxItems > 0 keeps only the first MaxItems items in ID order.
	MaxItems int
}

// Engine performs exact O(n²) similarity passes. It holds configuration only
// and may be shared between goroutines.
//
// Example:
//
//	eng, err := similarity.NewEngine(similarity.NewEngineParams{
//		Thresholds: similarity.DefaultThresholds(),
//		Workers:    4,
//	})
//	res, err := eng.AnalyzeLevel(ctx, common.LevelPart, items)
type Engine struct {
	thresholds Thresholds
	workers    int
	maxItems   int
}

func NewEngine(params NewEngineParams) (*Engine, error) {
	if err := params.Thresholds.Validate(); err != nil {
		return nil, err
	}
	workers := params.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		thresholds: params.Thresholds,
		workers:    workers,
		maxItems:   params.MaxItems,
	}, nil
}

func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Classify maps score onto the engine's bands.
func (e *Engine) Classify(score float64) common.SimilarityClass {
	return e.thresholds.Classify(score)
}

// AnalyzeLevel compares every unordered pair of items that carries a vector
// and returns the pairs scoring at or above the similarity threshold, sorted
// by score descending then (Entity1, Entity2) ascending.
func (e *Engine) AnalyzeLevel(ctx context.Context, level common.Level, items []Item) (Result, error) {
	prepared := e.prepare(items)
	n := len(prepared)
	res := Result{
		Level: level,
		Summary: Summary{
			Items: n,
			Pairs: n * (n - 1) / 2,
		},
	}
	if n < 2 {
		res.Edges = []common.SimilarityEdge{}
		return res, nil
	}

	rows := make([][]common.SimilarityEdge, n)
	if e.workers == 1 {
		for i := range n {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			rows[i] = e.compareRow(prepared, i)
		}
	} else {
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(e.workers)
		for i := range n {
			eg.Go(func() error {
				if err := ectx.Err(); err != nil {
					return err
				}
				rows[i] = e.compareRow(prepared, i)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}
	}

	var edges []common.SimilarityEdge
	for _, row := range rows {
		edges = append(edges, row...)
	}
	SortEdges(edges)
	if edges == nil {
		edges = []common.SimilarityEdge{}
	}

	for _, edge := range edges {
		switch edge.Class {
		case common.SimilaritySimilar:
			res.Summary.Similar++
		case common.SimilarityOverlap:
			res.Summary.Overlap++
		case common.SimilarityRedundant:
			res.Summary.Redundant++
		}
	}
	res.Edges = edges

	logger.Info("[Similarity] level analyzed",
		"level", level,
		"items", n,
		"pairs", res.Summary.Pairs,
		"edges", len(edges),
		"redundant", res.Summary.Redundant,
	)
	return res, nil
}

// prepare drops items without a usable vector and duplicate IDs, sorts by
// ID and applies the item cap.
func (e *Engine) prepare(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Vector.IsZero() || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b Item) int { return cmp.Compare(a.ID, b.ID) })
	if e.maxItems > 0 && len(out) > e.maxItems {
		out = out[:e.maxItems]
	}
	return out
}

func (e *Engine) compareRow(items []Item, i int) []common.SimilarityEdge {
	var row []common.SimilarityEdge
	for j := i + 1; j < len(items); j++ {
		score := Compute(items[i].Vector, items[j].Vector)
		if score < e.thresholds.Similarity {
			continue
		}
		row = append(row, common.SimilarityEdge{
			Entity1: items[i].ID,
			Entity2: items[j].ID,
			Score:   score,
			Class:   e.thresholds.Classify(score),
		})
	}
	return row
}

// SortEdges orders edges by score descending, then Entity1, then Entity2.
func SortEdges(edges []common.SimilarityEdge) {
	slices.SortFunc(edges, func(a, b common.SimilarityEdge) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Entity1, b.Entity1); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity2, b.Entity2)
	})
}

// FilterClass returns the edges of one class, keeping their order.
func FilterClass(edges []common.SimilarityEdge, class common.SimilarityClass) []common.SimilarityEdge {
	out := []common.SimilarityEdge{}
	for _, e := range edges {
		if e.Class == class {
			out = append(out, e)
		}
	}
	return out
}

// Overlaps returns the OVERLAP edges of a pass.
func Overlaps(edges []common.SimilarityEdge) []common.SimilarityEdge {
	return FilterClass(edges, common.SimilarityOverlap)
}

// Redundancies returns the REDUNDANT edges of a pass.
func Redundancies(edges []common.SimilarityEdge) []common.SimilarityEdge {
	return FilterClass(edges, common.SimilarityRedundant)
}
