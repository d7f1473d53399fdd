package cluster

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxClusters     = 5
	DefaultSeed            = 42
	DefaultRestarts        = 10
	DefaultMaxIter         = 300
	DefaultTol             = 1e-4
	DefaultRepresentatives = 5
)

// Item is an entity to cluster. Name and Text feed narrative generation.
type Item struct {
	ID     string
	Name   string
	Text   string
	Vector common.Vector
}

// NarrativeItem is what the narrator sees of a representative member.
type NarrativeItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Narrator writes a short summary and name for a cluster. Implementations
// may fail or return junk; the engine validates every answer and falls back
// to templates.
type Narrator interface {
	Summarize(ctx context.Context, level common.Level, size int, items []NarrativeItem) (string, error)
	Name(ctx context.Context, level common.Level, size int, items []NarrativeItem, summary string) (string, error)
}

// NewEngineParams configures a clustering Engine. Zero values select the
// defaults above, so a Seed of 0 means DefaultSeed. Restarts below
// DefaultRestarts are raised to it.
type NewEngineParams struct {
	MaxClusters int
	Seed        uint64
	Restarts    int
	MaxIter     int
	Tol         float64
	Narrator    Narrator
	// Parallel bounds concurrent narrator calls. Defaults to 4.
	Parallel int
}

// Engine partitions level vectors with K-Means and describes each cluster.
type Engine struct {
	maxClusters int
	seed        uint64
	restarts    int
	maxIter     int
	tol         float64
	narrator    Narrator
	parallel    int
}

func NewEngine(params NewEngineParams) *Engine {
	e := &Engine{
		maxClusters: params.MaxClusters,
		seed:        params.Seed,
		restarts:    params.Restarts,
		maxIter:     params.MaxIter,
		tol:         params.Tol,
		narrator:    params.Narrator,
		parallel:    params.Parallel,
	}
	if e.maxClusters <= 0 {
		e.maxClusters = DefaultMaxClusters
	}
	if e.seed == 0 {
		e.seed = DefaultSeed
	}
	e.restarts = max(e.restarts, DefaultRestarts)
	if e.maxIter <= 0 {
		e.maxIter = DefaultMaxIter
	}
	if e.tol <= 0 {
		e.tol = DefaultTol
	}
	if e.parallel <= 0 {
		e.parallel = 4
	}
	return e
}

// ChooseK returns the cluster count for n items. k <= 0 selects the default
// clamp(n/10, 2, maxClusters); any k is finally clamped into [1, n].
func (e *Engine) ChooseK(n, k int) int {
	if n <= 0 {
		return 0
	}
	if k <= 0 {
		k = min(max(2, n/10), e.maxClusters)
	}
	return min(max(k, 1), n)
}

// Cluster partitions items that carry a vector into k clusters (k <= 0 picks
// the default) and returns the non-empty clusters sorted by size descending,
// then label ascending. Every embedded item lands in exactly one cluster.
func (e *Engine) Cluster(ctx context.Context, level common.Level, items []Item, k int) ([]common.Cluster, error) {
	embedded := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Vector.IsZero() {
			continue
		}
		if len(embedded) > 0 && len(it.Vector) != len(embedded[0].Vector) {
			logger.Warn("[Cluster] skipping item with mismatched dimension", "id", it.ID)
			continue
		}
		embedded = append(embedded, it)
	}

	n := len(embedded)
	if n == 0 {
		return []common.Cluster{}, nil
	}
	k = e.ChooseK(n, k)

	points := make([][]float64, n)
	for i, it := range embedded {
		p := make([]float64, len(it.Vector))
		for d, x := range it.Vector {
			p[d] = float64(x)
		}
		points[i] = p
	}

	km := KMeans(points, KMeansParams{
		K:        k,
		Seed:     e.seed,
		Restarts: e.restarts,
		MaxIter:  e.maxIter,
		Tol:      e.tol,
	})

	members := make([][]int, k)
	for i, l := range km.Labels {
		members[l] = append(members[l], i)
	}

	clusters := make([]common.Cluster, 0, k)
	reps := make([][]NarrativeItem, 0, k)
	for label, idx := range members {
		if len(idx) == 0 {
			continue
		}
		centroid := meanOf(points, idx)
		ids := make([]string, len(idx))
		for j, i := range idx {
			ids[j] = embedded[i].ID
		}
		repIdx := closest(points, idx, centroid, embedded, DefaultRepresentatives)
		repIDs := make([]string, len(repIdx))
		narrative := make([]NarrativeItem, len(repIdx))
		for j, i := range repIdx {
			repIDs[j] = embedded[i].ID
			narrative[j] = NarrativeItem{ID: embedded[i].ID, Name: embedded[i].Name, Text: embedded[i].Text}
		}
		vec := make(common.Vector, len(centroid))
		for d, x := range centroid {
			vec[d] = float32(x)
		}
		clusters = append(clusters, common.Cluster{
			Level:           level,
			Label:           label,
			Members:         ids,
			Representatives: repIDs,
			Centroid:        vec,
			Size:            len(idx),
		})
		reps = append(reps, narrative)
	}

	if err := e.describe(ctx, level, clusters, reps); err != nil {
		return nil, err
	}

	slices.SortStableFunc(clusters, func(a, b common.Cluster) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})

	logger.Info("[Cluster] level clustered",
		"level", level,
		"items", n,
		"k", k,
		"clusters", len(clusters),
		"inertia", km.Inertia,
	)
	return clusters, nil
}

func (e *Engine) describe(ctx context.Context, level common.Level, clusters []common.Cluster, reps [][]NarrativeItem) error {
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.parallel)
	for i := range clusters {
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			name, summary := e.narrate(ectx, level, clusters[i].Label, clusters[i].Size, reps[i])
			clusters[i].Name = name
			clusters[i].Summary = summary
			return nil
		})
	}
	return eg.Wait()
}

// narrate asks the narrator for a summary and a name, replacing failed or
// degenerate answers with deterministic text.
func (e *Engine) narrate(ctx context.Context, level common.Level, label, size int, items []NarrativeItem) (string, string) {
	if e.narrator == nil {
		return FallbackName(level, size), fmt.Sprintf("This cluster contains %d %ss with related regulatory content.", size, level)
	}

	summary, err := e.narrator.Summarize(ctx, level, size, items)
	if err != nil {
		logger.Warn("[Cluster] narrative generation failed", "level", level, "label", label, "err", err)
		return fmt.Sprintf("Cluster %d", label), fmt.Sprintf("Cluster of %d %ss", size, level)
	}
	summary = strings.TrimSpace(summary)
	if len(summary) < 15 {
		summary = fmt.Sprintf(
			"This cluster groups %d %ss covering similar regulatory requirements and compliance standards.",
			size, level,
		)
	}

	name, err := e.narrator.Name(ctx, level, size, items, summary)
	if err != nil {
		logger.Warn("[Cluster] cluster naming failed", "level", level, "label", label, "err", err)
		return fmt.Sprintf("Cluster %d", label), summary
	}
	name = CleanName(name)
	if !ValidName(name) {
		name = FallbackName(level, size)
	}
	return name, summary
}

// CleanName strips quotes and trailing or leading punctuation from a
// generated name.
func CleanName(name string) string {
	name = strings.NewReplacer(`"`, "", "'", "").Replace(name)
	name = strings.TrimSpace(name)
	return strings.Trim(name, ".,;")
}

// ValidName accepts names longer than 5 and shorter than 60 characters.
func ValidName(name string) bool {
	return len(name) > 5 && len(name) < 60
}

// FallbackName is the deterministic name used when no usable name exists.
func FallbackName(level common.Level, size int) string {
	return fmt.Sprintf("%s Group %d Items", level.Title(), size)
}

func meanOf(points [][]float64, idx []int) []float64 {
	out := make([]float64, len(points[idx[0]]))
	for _, i := range idx {
		for d, x := range points[i] {
			out[d] += x
		}
	}
	for d := range out {
		out[d] /= float64(len(idx))
	}
	return out
}

// closest returns up to limit member indices nearest to centroid, ties by ID.
func closest(points [][]float64, idx []int, centroid []float64, items []Item, limit int) []int {
	sorted := slices.Clone(idx)
	slices.SortStableFunc(sorted, func(a, b int) int {
		if c := cmp.Compare(sqDist(points[a], centroid), sqDist(points[b], centroid)); c != 0 {
			return c
		}
		return cmp.Compare(items[a].ID, items[b].ID)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
