package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/ai"

	"github.com/ollama/ollama/api"
)

const defaultDimensions = 384

// GenerateEmbedding embeds one section text with the configured embedding
// model. Blank input yields a zero vector without calling the server. The
// result is truncated or zero padded to AI_EMBED_DIM.
func (c *OllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	dim := int(util.GetEnvNumeric("AI_EMBED_DIM", defaultDimensions))
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, dim), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response from model %s", c.embeddingModel)
	}
	out := make([]float32, dim)
	copy(out, res.Embeddings[0])
	return out, nil
}
