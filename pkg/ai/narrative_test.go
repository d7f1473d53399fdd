package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/regnet/pkg/cluster"
	"github.com/OFFIS-RIT/regnet/pkg/common"

	"github.com/sony/gobreaker"
)

type fakeClient struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []string
	names   []string
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return f.answer, f.err
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.names = append(f.names, name)
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.answer), out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) ResetMetrics()            {}
func (f *fakeClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestNarrativeGenerator_Summarize(t *testing.T) {
	fc := &fakeClient{answer: `{"summary":"  Flammability standards for children's sleepwear. "}`}
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{Client: fc})

	items := []cluster.NarrativeItem{
		{ID: "e1", Name: "Scope", Text: "This part applies to\n\nchildren's sleepwear."},
		{ID: "e2", Name: "Test procedure", Text: ""},
	}
	got, err := g.Summarize(context.Background(), common.LevelPart, 4, items)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Flammability standards for children's sleepwear." {
		t.Fatalf("summary = %q", got)
	}
	p := fc.prompts[0]
	for _, want := range []string{"4 parts", "- Scope: This part applies to children's sleepwear.", "- Test procedure: (no text)"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt misses %q:\n%s", want, p)
		}
	}
	if fc.names[0] != "cluster_summary" {
		t.Fatalf("schema name = %q", fc.names[0])
	}
}

func TestNarrativeGenerator_Name(t *testing.T) {
	fc := &fakeClient{answer: `{"name":"Sleepwear Flammability"}`}
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{Client: fc})
	got, err := g.Name(context.Background(), common.LevelSection, 2,
		[]cluster.NarrativeItem{{Name: "Definitions"}, {Name: "Labeling"}}, "A summary.")
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if got != "Sleepwear Flammability" {
		t.Fatalf("name = %q", got)
	}
	if !strings.Contains(fc.prompts[0], "regulatory sections") || !strings.Contains(fc.prompts[0], "- Labeling") {
		t.Fatalf("prompt = %s", fc.prompts[0])
	}
}

func TestNarrativeGenerator_ExplainPair(t *testing.T) {
	fc := &fakeClient{answer: `{"explanation":"Both define the same test."}`}
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{Client: fc})
	got, err := g.ExplainPair(context.Background(), "§ 1610.1", "§ 1611.1", 0.874, common.SimilarityRedundant)
	if err != nil || got != "Both define the same test." {
		t.Fatalf("ExplainPair = %q, %v", got, err)
	}
	if !strings.Contains(fc.prompts[0], "87%") || !strings.Contains(fc.prompts[0], "REDUNDANT") {
		t.Fatalf("prompt = %s", fc.prompts[0])
	}
}

func TestNarrativeGenerator_RetriesThenFails(t *testing.T) {
	fc := &fakeClient{err: errors.New("model unavailable")}
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{Client: fc, MaxRetries: 3})
	if _, err := g.Summarize(context.Background(), common.LevelChapter, 1, nil); err == nil {
		t.Fatal("expected error")
	}
	if fc.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fc.calls)
	}
}

func TestNarrativeGenerator_BreakerOpens(t *testing.T) {
	fc := &fakeClient{err: errors.New("model unavailable")}
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{Client: fc, MaxRetries: 1})

	for range 3 {
		_, _ = g.Name(context.Background(), common.LevelPart, 1, nil, "")
	}
	_, err := g.Name(context.Background(), common.LevelPart, 1, nil, "")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if fc.calls != 3 {
		t.Fatalf("open breaker must not reach the client, calls = %d", fc.calls)
	}
}

func TestNarrativeGenerator_NoClient(t *testing.T) {
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{})
	if _, err := g.Summarize(context.Background(), common.LevelPart, 1, nil); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
}

func TestNarrativeGenerator_FitTokensShortTextUntouched(t *testing.T) {
	g := NewNarrativeGenerator(NewNarrativeGeneratorParams{MaxPromptTokens: 50})
	text := "short excerpt"
	if got := g.fitTokens(text); got != text {
		t.Fatalf("fitTokens = %q", got)
	}
}

func TestApplyOptions(t *testing.T) {
	got := ApplyOptions(GenerateOptions{Model: "a", Temperature: 0.3},
		WithModel("b"), WithTemperature(0.7), WithSystemPrompts("s1", "s2"), WithThinking("low"))
	if got.Model != "b" || got.Temperature != 0.7 || len(got.SystemPrompts) != 2 || got.Thinking != "low" {
		t.Fatalf("options = %+v", got)
	}
}
