package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
)

var ErrNotFound = errors.New("not found")

// CorpusReader loads a read-only snapshot of the regulation hierarchy,
// section embeddings included.
type CorpusReader interface {
	LoadCorpus(ctx context.Context) (*common.Corpus, error)
}

// EmbeddingWriter stores freshly generated section embeddings.
type EmbeddingWriter interface {
	SaveEmbeddings(ctx context.Context, vectors map[string]common.Vector) error
}

// ProgressStore persists pass progress records. Saving a record replaces
// the previous one of the same pass.
type ProgressStore interface {
	SaveProgress(ctx context.Context, p analysis.Progress) error
	GetProgress(ctx context.Context, id string) (analysis.Progress, error)
	SetReportKey(ctx context.Context, id, key string) error
	GetReportKey(ctx context.Context, id string) (string, error)
}

// ResultStore persists pass results and serves the last stored ones.
// Saving a level's clusters or similarity edges replaces the previous set.
type ResultStore interface {
	analysis.Sink
	GetClusters(ctx context.Context, level common.Level) ([]common.Cluster, error)
	GetSimilarity(ctx context.Context, level common.Level, limit int) ([]common.SimilarityEdge, error)
}

// AnalysisStorage is everything the worker and server need from storage.
type AnalysisStorage interface {
	CorpusReader
	EmbeddingWriter
	ProgressStore
	ResultStore
}
