package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Provider turns text into a fixed-length vector. The AI clients in pkg/ai
// satisfy it.
type Provider interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// EmbedMissingParams configures EmbedMissing.
type EmbedMissingParams struct {
	// Dimension, if set, rejects vectors of any other length.
	Dimension int
	// Parallel bounds concurrent provider calls. Defaults to 4.
	Parallel int
}

// EmbedResult summarizes an EmbedMissing run.
type EmbedResult struct {
	Corpus   *common.Corpus
	Embedded int
	Failed   int
}

// EmbedMissing returns a new corpus in which every section without an
// embedding has been sent to the provider. Provider errors, all-zero vectors
// and wrong dimensions leave the section unembedded; they are logged and
// counted, never returned. Only context cancellation aborts the run.
func EmbedMissing(
	ctx context.Context,
	provider Provider,
	corpus *common.Corpus,
	params EmbedMissingParams,
) (EmbedResult, error) {
	if provider == nil {
		return EmbedResult{}, fmt.Errorf("embedding provider is nil")
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	entities := corpus.Entities()
	var embedded, failed atomic.Int64

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for i := range entities {
		e := entities[i]
		if e.Level != common.LevelSection || e.HasEmbedding() {
			continue
		}
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		idx := i
		eg.Go(func() error {
			if err := ectx.Err(); err != nil {
				return err
			}
			vec, err := provider.GenerateEmbedding(ectx, []byte(e.Text))
			if err != nil {
				if ectx.Err() != nil {
					return ectx.Err()
				}
				logger.Warn("[Embedding] provider failed", "section", e.ID, "err", err)
				failed.Add(1)
				return nil
			}
			v := common.Vector(vec)
			if v.IsZero() || (params.Dimension > 0 && len(v) != params.Dimension) {
				logger.Warn("[Embedding] unusable vector", "section", e.ID, "dim", len(v))
				failed.Add(1)
				return nil
			}
			entities[idx].Embedding = v
			embedded.Add(1)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return EmbedResult{}, err
	}

	logger.Info("[Embedding] embedded missing sections", "embedded", embedded.Load(), "failed", failed.Load())
	return EmbedResult{
		Corpus:   common.NewCorpus(entities),
		Embedded: int(embedded.Load()),
		Failed:   int(failed.Load()),
	}, nil
}
