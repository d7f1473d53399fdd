package ai

import (
	"context"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Add accumulates m into the receiver and refreshes the throughput figure.
func (mm *ModelMetrics) Add(m ModelMetrics) {
	mm.InputTokens += m.InputTokens
	mm.OutputTokens += m.OutputTokens
	mm.TotalTokens += m.TotalTokens
	mm.DurationMs += m.DurationMs
	if mm.DurationMs > 0 {
		tps := (float64(mm.TotalTokens) * 1000.0) / float64(mm.DurationMs)
		mm.TokenPerSecond = float32(int(tps*100+0.5)) / 100
	}
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
// Higher values (e.g., 1.0) produce more random outputs, while lower values
// (e.g., 0.2) make outputs more focused and deterministic.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking returns a GenerateOption that enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// ApplyOptions folds opts over defaults.
func ApplyOptions(defaults GenerateOptions, opts ...GenerateOption) GenerateOptions {
	for _, o := range opts {
		o(&defaults)
	}
	return defaults
}

// Client is the model backend of the analysis engine: section embeddings and
// short structured completions for cluster narratives. The OpenAI and Ollama
// adapters implement it.
type Client interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}
