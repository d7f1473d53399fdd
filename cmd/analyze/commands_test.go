package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
)

const corpusJSON = `[
  {"id": "p1", "level": "part", "number": "1500", "name": "Hazardous Substances"},
  {"id": "s1", "level": "section", "number": "1500.1", "parent_id": "p1", "text": "See § 1500.2.", "embedding": [1, 0, 0]},
  {"id": "s2", "level": "section", "number": "1500.2", "parent_id": "p1", "text": "Definitions.", "embedding": [0.98, 0.1, 0]},
  {"id": "s3", "level": "section", "number": "1500.3", "parent_id": "p1", "text": "Labeling per section 1500.2.", "embedding": [0, 1, 0]}
]`

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.json")
	if err := os.WriteFile(path, []byte(corpusJSON), 0o600); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPassCommand(t *testing.T) {
	corpus := writeCorpus(t)

	out, err := run(t, "pass", "--corpus", corpus, "--kind", "citation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res analysis.PassResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Progress.State != analysis.StateCompleted || res.Citations == nil {
		t.Fatalf("result = %+v", res.Progress)
	}
	if got := len(res.Citations.Edges); got != 2 {
		t.Fatalf("citation edges = %d, want 2", got)
	}
}

func TestPassCommand_Errors(t *testing.T) {
	corpus := writeCorpus(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no source", args: []string{"pass", "--kind", "citation"}, want: "--corpus or --db"},
		{name: "both sources", args: []string{"pass", "--corpus", corpus, "--db"}, want: "mutually exclusive"},
		{name: "invalid kind", args: []string{"pass", "--corpus", corpus, "--kind", "magic"}, want: "invalid pass kind"},
		{name: "invalid level", args: []string{"pass", "--corpus", corpus, "--kind", "cluster", "--level", "title"}, want: "invalid level"},
		{name: "missing level", args: []string{"pass", "--corpus", corpus, "--kind", "similarity"}, want: "invalid level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPathCommand(t *testing.T) {
	corpus := writeCorpus(t)

	out, err := run(t, "path", "1500.1", "1500.3", "--corpus", corpus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var path []string
	if err := json.Unmarshal([]byte(out), &path); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := []string{"1500.1", "1500.2", "1500.3"}; !reflect.DeepEqual(path, want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
}

func TestEgoCommand(t *testing.T) {
	corpus := writeCorpus(t)

	out, err := run(t, "ego", "1500.3", "--corpus", corpus, "--radius", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ego struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(out), &ego); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ego.Nodes) != 2 {
		t.Fatalf("ego nodes = %+v", ego.Nodes)
	}

	if _, err := run(t, "ego", "9999.9", "--corpus", corpus); err == nil {
		t.Fatal("expected error for unknown section")
	}
}
