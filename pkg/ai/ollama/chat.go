package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultContext   = 4096
	responseHeadroom = 200
)

// contextWindow returns the num_ctx needed for prompt, or 0 when the server
// default suffices.
func contextWindow(prompt string) (int, error) {
	// a token spans at least one byte
	if len(prompt)+responseHeadroom <= defaultContext {
		return 0, nil
	}
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0, err
	}
	tokens := responseHeadroom + len(enc.Encode(prompt, nil, nil))
	if tokens > defaultContext {
		return tokens, nil
	}
	return 0, nil
}

func (c *OllamaClient) chatRequest(prompt string, options ai.GenerateOptions) (*api.ChatRequest, error) {
	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{
			Value: options.Thinking,
		}
	}

	numCtx, err := contextWindow(prompt)
	if err != nil {
		return nil, err
	}
	if numCtx > 0 {
		req.Options["num_ctx"] = numCtx
	}
	return req, nil
}

func (c *OllamaClient) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})
	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *OllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.narrativeModel,
		Temperature: 0.3,
	}, opts...)

	req, err := c.chatRequest(prompt, options)
	if err != nil {
		return "", err
	}
	return c.chat(ctx, req)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *OllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	if out == nil {
		return errors.New("out must be a non-nil pointer")
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.narrativeModel,
		Temperature: 0.1,
	}, opts...)

	req, err := c.chatRequest(prompt, options)
	if err != nil {
		return err
	}
	req.Format = json.RawMessage(formatBytes)

	content, err := c.chat(ctx, req)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}
