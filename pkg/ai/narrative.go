package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/cluster"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sony/gobreaker"
)

const (
	defaultNarrativeRetries = 2
	defaultPromptTokens     = 2000
	excerptRunes            = 300
)

var ErrNoClient = errors.New("narrative generator has no ai client")

type summaryResponse struct {
	Summary string `json:"summary" jsonschema_description:"One or two sentences describing the shared regulatory theme."`
}

type nameResponse struct {
	Name string `json:"name" jsonschema_description:"A short descriptive name of 3 to 6 words."`
}

type explanationResponse struct {
	Explanation string `json:"explanation" jsonschema_description:"At most three sentences explaining the classification."`
}

// NarrativeGenerator writes cluster summaries, cluster names and pair
// explanations with a chat model. Calls run through a circuit breaker so a
// failing model degrades to the caller's fallbacks quickly.
type NarrativeGenerator struct {
	client          Client
	maxRetries      int
	maxPromptTokens int
	opts            []GenerateOption
	breaker         *gobreaker.CircuitBreaker

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
}

// NewNarrativeGeneratorParams configures a NarrativeGenerator.
//
// MaxRetries bounds attempts per call (default 2). MaxPromptTokens bounds the
// excerpt block of a prompt (default 2000). Options are passed to every
// completion, e.g. WithModel.
type NewNarrativeGeneratorParams struct {
	Client          Client
	MaxRetries      int
	MaxPromptTokens int
	Options         []GenerateOption
}

func NewNarrativeGenerator(params NewNarrativeGeneratorParams) *NarrativeGenerator {
	retries := params.MaxRetries
	if retries <= 0 {
		retries = defaultNarrativeRetries
	}
	budget := params.MaxPromptTokens
	if budget <= 0 {
		budget = defaultPromptTokens
	}

	st := gobreaker.Settings{
		Name:        "narrative",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("[Narrative] circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &NarrativeGenerator{
		client:          params.Client,
		maxRetries:      retries,
		maxPromptTokens: budget,
		opts:            params.Options,
		breaker:         gobreaker.NewCircuitBreaker(st),
	}
}

// generate runs one structured completion through the breaker.
func (g *NarrativeGenerator) generate(ctx context.Context, name, description, prompt string, out any) error {
	if g.client == nil {
		return ErrNoClient
	}
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, util.RetryErrWithContext(ctx, g.maxRetries, func(ctx context.Context) error {
			return g.client.GenerateCompletionWithFormat(ctx, name, description, prompt, out, g.opts...)
		})
	})
	return err
}

// fitTokens cuts text to the prompt token budget.
func (g *NarrativeGenerator) fitTokens(text string) string {
	// a token spans at least one byte
	if len(text) <= g.maxPromptTokens {
		return text
	}
	g.encOnce.Do(func() {
		g.enc, g.encErr = tiktoken.GetEncoding("o200k_base")
	})
	if g.encErr != nil {
		// rough estimate of four bytes per token
		limit := g.maxPromptTokens * 4
		if len(text) <= limit {
			return text
		}
		return strings.ToValidUTF8(text[:limit], "")
	}
	tokens := g.enc.Encode(text, nil, nil)
	if len(tokens) <= g.maxPromptTokens {
		return text
	}
	return g.enc.Decode(tokens[:g.maxPromptTokens])
}

func plural(level common.Level) string {
	return level.String() + "s"
}

// Summarize implements cluster.Narrator.
func (g *NarrativeGenerator) Summarize(ctx context.Context, level common.Level, size int, items []cluster.NarrativeItem) (string, error) {
	var b strings.Builder
	for _, it := range items {
		text := util.Snippet(it.Text, excerptRunes)
		if text == "" {
			text = "(no text)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", it.Name, text)
	}

	prompt := fmt.Sprintf(ClusterSummaryPrompt, size, plural(level), g.fitTokens(b.String()))
	var res summaryResponse
	if err := g.generate(ctx, "cluster_summary", "Summarize a cluster of regulatory items.", prompt, &res); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Summary), nil
}

// Name implements cluster.Narrator.
func (g *NarrativeGenerator) Name(ctx context.Context, level common.Level, size int, items []cluster.NarrativeItem, summary string) (string, error) {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s\n", it.Name)
	}

	prompt := fmt.Sprintf(ClusterNamePrompt, plural(level), util.Snippet(summary, 200), g.fitTokens(b.String()))
	var res nameResponse
	if err := g.generate(ctx, "cluster_name", "Name a cluster of regulatory items.", prompt, &res); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Name), nil
}

// ExplainPair explains why two items received their similarity class.
func (g *NarrativeGenerator) ExplainPair(ctx context.Context, name1, name2 string, score float64, class common.SimilarityClass) (string, error) {
	percent := int(math.Round(score * 100))
	prompt := fmt.Sprintf(PairExplanationPrompt, util.Snippet(name1, 200), util.Snippet(name2, 200), percent, class)

	var res explanationResponse
	if err := g.generate(ctx, "pair_explanation", "Explain a similarity classification.", prompt, &res); err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Explanation), nil
}

var _ cluster.Narrator = (*NarrativeGenerator)(nil)
