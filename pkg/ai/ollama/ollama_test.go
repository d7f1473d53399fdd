package ollama

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestContextWindow(t *testing.T) {
	n, err := contextWindow("short prompt")
	if err != nil {
		t.Fatalf("contextWindow: %v", err)
	}
	if n != 0 {
		t.Fatalf("short prompts keep the server default, got %d", n)
	}
}

func TestHeaderTransport_DoesNotOverwrite(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{
		headers: map[string]string{"Authorization": "Bearer key"},
		rt:      http.DefaultTransport,
	}}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := client.Do(req); err != nil {
		t.Fatalf("request: %v", err)
	}
	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req2.Header.Set("Authorization", "Bearer other")
	if _, err := client.Do(req2); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got[0] != "Bearer key" || got[1] != "Bearer other" {
		t.Fatalf("headers = %v", got)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("original request was modified")
	}
}

func TestGenerateEmbedding_BlankSkipsServer(t *testing.T) {
	t.Setenv("AI_EMBED_DIM", "8")
	c, err := NewOllamaClient(NewOllamaClientParams{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewOllamaClient: %v", err)
	}
	v, err := c.GenerateEmbedding(context.Background(), []byte("   "))
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(v) != 8 {
		t.Fatalf("expected zero vector of dimension 8, got %d", len(v))
	}
}

func TestGenerateCompletionWithFormat_RejectsNonPointer(t *testing.T) {
	c, _ := NewOllamaClient(NewOllamaClientParams{})
	var out struct{ Name string }
	if err := c.GenerateCompletionWithFormat(context.Background(), "n", "d", "p", out); err == nil {
		t.Fatal("expected error for non-pointer out")
	}
}
