// Package aiclient selects the model backend from the environment.
package aiclient

import (
	"fmt"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/ai"
	oai "github.com/OFFIS-RIT/regnet/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/regnet/pkg/ai/openai"
)

// FromEnv builds the client named by AI_ADAPTER ("openai" by default, or
// "ollama"). It returns nil without error when AI_ADAPTER is "none" or no
// model is configured, in which case passes run without embedding missing
// sections and clusters get templated names.
func FromEnv() (ai.Client, error) {
	adapter := util.GetEnvString("AI_ADAPTER", "openai")
	embedModel := util.GetEnv("AI_EMBED_MODEL")
	chatModel := util.GetEnv("AI_CHAT_MODEL")
	if adapter == "none" || (embedModel == "" && chatModel == "") {
		return nil, nil
	}

	switch adapter {
	case "ollama":
		client, err := oai.NewOllamaClient(oai.NewOllamaClientParams{
			EmbeddingModel: embedModel,
			NarrativeModel: chatModel,

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 2)),
			TimeoutMin:            int(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	case "openai", "":
		return gai.NewOpenAIClient(gai.NewOpenAIClientParams{
			EmbeddingModel: embedModel,
			NarrativeModel: chatModel,

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			MaxParallelEmbeddings: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
			TimeoutMin:            int(util.GetEnvNumeric("AI_TIMEOUT_MIN", 5)),
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// Collaborators are the analysis roles a model client can fill. Nil fields
// mean the role is not available.
type Collaborators struct {
	Client    ai.Client
	Narrative *ai.NarrativeGenerator
}

// CollaboratorsFromEnv wraps FromEnv and adds the narrative generator when a
// chat model is configured.
func CollaboratorsFromEnv() (Collaborators, error) {
	client, err := FromEnv()
	if err != nil || client == nil {
		return Collaborators{}, err
	}
	c := Collaborators{Client: client}
	if util.GetEnv("AI_CHAT_MODEL") != "" {
		c.Narrative = ai.NewNarrativeGenerator(ai.NewNarrativeGeneratorParams{
			Client:          client,
			MaxRetries:      int(util.GetEnvNumeric("AI_NARRATIVE_RETRIES", 2)),
			MaxPromptTokens: int(util.GetEnvNumeric("AI_PROMPT_TOKENS", 2000)),
		})
	}
	return c, nil
}
