package analysis

import (
	"fmt"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/cluster"
	"github.com/OFFIS-RIT/regnet/pkg/rank"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"
)

const DefaultEmbeddingDim = 384

// Config carries every tunable of an analysis pass.
type Config struct {
	Thresholds         similarity.Thresholds `json:"thresholds"`
	MaxClusters        int                   `json:"max_clusters"`
	KMeansSeed         uint64                `json:"kmeans_seed"`
	KMeansRestarts     int                   `json:"kmeans_restarts"`
	PageRank           rank.Params           `json:"pagerank"`
	SimilarityWorkers  int                   `json:"similarity_workers"`
	SimilarityMaxItems int                   `json:"similarity_max_items"`
	EmbeddingDim       int                   `json:"embedding_dim"`
}

func DefaultConfig() Config {
	return Config{
		Thresholds:        similarity.DefaultThresholds(),
		MaxClusters:       cluster.DefaultMaxClusters,
		KMeansSeed:        cluster.DefaultSeed,
		KMeansRestarts:    cluster.DefaultRestarts,
		PageRank:          rank.DefaultParams(),
		SimilarityWorkers: 1,
		EmbeddingDim:      DefaultEmbeddingDim,
	}
}

// ConfigFromEnv overlays environment variables on DefaultConfig.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		Thresholds: similarity.Thresholds{
			Similarity: util.GetEnvFloat("SIMILARITY_THRESHOLD", def.Thresholds.Similarity),
			Overlap:    util.GetEnvFloat("OVERLAP_THRESHOLD", def.Thresholds.Overlap),
			Redundancy: util.GetEnvFloat("REDUNDANCY_THRESHOLD", def.Thresholds.Redundancy),
		},
		MaxClusters:    int(util.GetEnvNumeric("DEFAULT_N_CLUSTERS", def.MaxClusters)),
		KMeansSeed:     uint64(util.GetEnvNumeric("KMEANS_SEED", int(def.KMeansSeed))),
		KMeansRestarts: int(util.GetEnvNumeric("KMEANS_RESTARTS", def.KMeansRestarts)),
		PageRank: rank.Params{
			Damping:   util.GetEnvFloat("PAGERANK_DAMPING", def.PageRank.Damping),
			MaxIter:   int(util.GetEnvNumeric("PAGERANK_MAX_ITER", def.PageRank.MaxIter)),
			Tolerance: util.GetEnvFloat("PAGERANK_TOL", def.PageRank.Tolerance),
		},
		SimilarityWorkers:  int(util.GetEnvNumeric("SIMILARITY_WORKERS", def.SimilarityWorkers)),
		SimilarityMaxItems: int(util.GetEnvNumeric("SIMILARITY_MAX_ITEMS", def.SimilarityMaxItems)),
		EmbeddingDim:       int(util.GetEnvNumeric("EMBEDDING_DIM", def.EmbeddingDim)),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.PageRank.Validate(); err != nil {
		return err
	}
	if c.MaxClusters < 1 {
		return fmt.Errorf("max clusters must be at least 1, got %d", c.MaxClusters)
	}
	if c.KMeansRestarts < cluster.DefaultRestarts {
		return fmt.Errorf("kmeans restarts must be at least %d, got %d", cluster.DefaultRestarts, c.KMeansRestarts)
	}
	// the cluster engine reads a zero seed as "unset"
	if c.KMeansSeed == 0 {
		return fmt.Errorf("kmeans seed must not be 0")
	}
	if c.EmbeddingDim < 0 || c.SimilarityMaxItems < 0 {
		return fmt.Errorf("embedding dim and similarity max items must not be negative")
	}
	return nil
}
