package openai

import (
	"math"
	"sync"

	"github.com/OFFIS-RIT/regnet/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// OpenAIClient talks to an OpenAI compatible API. Embeddings and chat
// completions may live behind different endpoints and keys.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	embeddingModel string
	narrativeModel string

	chatURL    string
	timeoutMin int

	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewOpenAIClientParams configures NewOpenAIClient.
//
// EmbeddingModel embeds section texts. NarrativeModel names and summarizes
// clusters. MaxParallelEmbeddings bounds concurrent embedding requests
// (default 4) and TimeoutMin bounds a single request (default 5).
type NewOpenAIClientParams struct {
	EmbeddingModel string
	NarrativeModel string

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxParallelEmbeddings int64
	TimeoutMin            int
}

// NewOpenAIClient creates a client with separate OpenAI clients for
// embeddings and chat completions. A client whose key is empty is nil and
// calls that need it fail.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		NarrativeModel: "gpt-4o-mini",
//		EmbeddingKey:   os.Getenv("AI_EMBED_KEY"),
//		ChatKey:        os.Getenv("AI_CHAT_KEY"),
//	})
func NewOpenAIClient(params NewOpenAIClientParams) *OpenAIClient {
	parallel := params.MaxParallelEmbeddings
	if parallel <= 0 {
		parallel = 4
	}
	timeout := params.TimeoutMin
	if timeout <= 0 {
		timeout = 5
	}

	return &OpenAIClient{
		embeddingModel: params.EmbeddingModel,
		narrativeModel: params.NarrativeModel,

		chatURL:    params.ChatURL,
		timeoutMin: timeout,

		embeddingLock: semaphore.NewWeighted(parallel),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// ResetMetrics clears all accumulated token and timing metrics.
func (c *OpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the token usage and timing accumulated since the last reset.
func (c *OpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *OpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}

var _ ai.Client = (*OpenAIClient)(nil)
