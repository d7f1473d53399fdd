package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

var errNoChatClient = errors.New("openai chat client is not configured")

func (c *OpenAIClient) chatBody(prompt string, options ai.GenerateOptions) openai.ChatCompletionNewParams {
	msgs := []openai.ChatCompletionMessageParamUnion{}
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}

	if options.Thinking != "" {
		// reasoning models on the hosted API only accept temperature 1.0
		if c.chatURL == "" {
			body.Temperature = openai.Float(1.0)
		}
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}
	return body
}

func (c *OpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (string, error) {
	if c.ChatClient == nil {
		return "", errNoChatClient
	}
	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", err
	}
	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	message := response.Choices[0].Message.Content
	if message == "" {
		return "", fmt.Errorf("empty response from model (finish_reason: %s)", response.Choices[0].FinishReason)
	}
	return message, nil
}

// GenerateCompletion sends a single-turn prompt to the chat model and
// returns the completion as plain text.
func (c *OpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.narrativeModel,
		Temperature: 0.3,
	}, opts...)

	return c.complete(ctx, c.chatBody(prompt, options))
}

// GenerateCompletionWithFormat sends a prompt to the chat model and
// unmarshals the answer into out, enforcing the JSON schema derived from
// out's type.
//
// Example:
//
//	var out struct {
//		Name string `json:"name"`
//	}
//	err := client.GenerateCompletionWithFormat(ctx, "cluster_name", "Cluster name", prompt, &out)
func (c *OpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.ApplyOptions(ai.GenerateOptions{
		Model:       c.narrativeModel,
		Temperature: 0.1,
	}, opts...)

	body := c.chatBody(prompt, options)
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Schema:      ai.GenerateSchema(out),
				Strict:      openai.Bool(true),
			},
		},
	}

	message, err := c.complete(ctx, body)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(message, out)
}
