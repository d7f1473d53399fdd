package aiclient

import (
	"testing"

	oai "github.com/OFFIS-RIT/regnet/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/regnet/pkg/ai/openai"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, client any)
		wantErr bool
	}{
		{
			name: "no models",
			env:  map[string]string{"AI_ADAPTER": "openai"},
			check: func(t *testing.T, client any) {
				if client != nil {
					t.Fatalf("expected no client, got %T", client)
				}
			},
		},
		{
			name: "disabled",
			env:  map[string]string{"AI_ADAPTER": "none", "AI_EMBED_MODEL": "nomic-embed-text"},
			check: func(t *testing.T, client any) {
				if client != nil {
					t.Fatalf("expected no client, got %T", client)
				}
			},
		},
		{
			name: "ollama",
			env:  map[string]string{"AI_ADAPTER": "ollama", "AI_EMBED_MODEL": "nomic-embed-text", "AI_CHAT_URL": "http://localhost:11434"},
			check: func(t *testing.T, client any) {
				if _, ok := client.(*oai.OllamaClient); !ok {
					t.Fatalf("expected ollama client, got %T", client)
				}
			},
		},
		{
			name: "openai default",
			env:  map[string]string{"AI_ADAPTER": "", "AI_EMBED_MODEL": "text-embedding-3-small", "AI_EMBED_KEY": "sk-test"},
			check: func(t *testing.T, client any) {
				if _, ok := client.(*gai.OpenAIClient); !ok {
					t.Fatalf("expected openai client, got %T", client)
				}
			},
		},
		{
			name:    "unknown adapter",
			env:     map[string]string{"AI_ADAPTER": "bard", "AI_CHAT_MODEL": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"AI_ADAPTER", "AI_EMBED_MODEL", "AI_CHAT_MODEL", "AI_CHAT_URL", "AI_EMBED_KEY"} {
				t.Setenv(k, tt.env[k])
			}
			client, err := FromEnv()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, client)
		})
	}
}

func TestCollaboratorsFromEnv_Narrative(t *testing.T) {
	t.Setenv("AI_ADAPTER", "ollama")
	t.Setenv("AI_EMBED_MODEL", "")
	t.Setenv("AI_CHAT_MODEL", "llama3")

	c, err := CollaboratorsFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Client == nil || c.Narrative == nil {
		t.Fatalf("collaborators = %+v", c)
	}
}
