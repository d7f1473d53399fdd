package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/queue"
	mid "github.com/OFFIS-RIT/regnet/internal/server/middleware"
	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	bodies [][]byte
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	p.bodies = append(p.bodies, msg.Body)
	return nil
}

type fakeLinker struct{}

func (fakeLinker) DownloadLink(ctx context.Context, key string) (string, error) {
	return "https://files.example.com/" + key + "?sig=1", nil
}

func testCorpus() *common.Corpus {
	return common.NewCorpus([]common.Entity{
		{ID: "c1", Level: common.LevelChapter, Number: "II", Name: "Consumer Product Safety Commission"},
		{ID: "sc1", Level: common.LevelSubchapter, Number: "C", Name: "Federal Hazardous Substances Act", ParentID: "c1"},
		{ID: "p1", Level: common.LevelPart, Number: "1500", Name: "Hazardous Substances", ParentID: "sc1"},
		{ID: "s1", Level: common.LevelSection, Number: "1500.1", Name: "Scope", ParentID: "p1",
			Text: "This part applies as described in § 1500.2.", Embedding: common.Vector{1, 0, 0}},
		{ID: "s2", Level: common.LevelSection, Number: "1500.2", Name: "Definitions", ParentID: "p1",
			Text: "Terms used in this part.", Embedding: common.Vector{0.98, 0.1, 0}},
		{ID: "s3", Level: common.LevelSection, Number: "1500.3", Name: "Labeling", ParentID: "p1",
			Text: "Labels follow § 1500.2 and § 1500.1.", Embedding: common.Vector{0, 1, 0}},
		{ID: "s4", Level: common.LevelSection, Number: "1500.4", Name: "Reserved", ParentID: "p1",
			Text: "Reserved."},
	})
}

type testServer struct {
	storage *memory.Storage
	queue   *fakePublisher
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := analysis.NewEngine(analysis.NewEngineParams{Config: analysis.DefaultConfig()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	ts := &testServer{storage: memory.New(testCorpus()), queue: &fakePublisher{}}
	ts.handler = New(&mid.App{
		Storage: ts.storage,
		Engine:  engine,
		Queue:   ts.queue,
		Reports: fakeLinker{},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "similarity", target: "/api/similarity/section", want: http.StatusOK},
		{name: "similarity level case", target: "/api/similarity/PART", want: http.StatusOK},
		{name: "similarity invalid level", target: "/api/similarity/paragraph", want: http.StatusBadRequest},
		{name: "similarity invalid limit", target: "/api/similarity/section?limit=0", want: http.StatusBadRequest},
		{name: "clusters invalid level", target: "/api/clusters/title", want: http.StatusBadRequest},
		{name: "citations", target: "/api/citations", want: http.StatusOK},
		{name: "unknown section", target: "/api/citations/9999.9", want: http.StatusNotFound},
		{name: "pagerank", target: "/api/pagerank?damping=0.9", want: http.StatusOK},
		{name: "pagerank invalid damping", target: "/api/pagerank?damping=2", want: http.StatusBadRequest},
		{name: "network", target: "/api/network", want: http.StatusOK},
		{name: "network invalid threshold", target: "/api/network?threshold=abc", want: http.StatusBadRequest},
		{name: "network nan threshold", target: "/api/network?threshold=NaN", want: http.StatusBadRequest},
		{name: "pagerank nan damping", target: "/api/pagerank?damping=NaN", want: http.StatusBadRequest},
		{name: "ego unknown", target: "/api/network/ego/9999.9", want: http.StatusNotFound},
		{name: "path missing target", target: "/api/network/path?source=1500.1", want: http.StatusBadRequest},
		{name: "authorities invalid k", target: "/api/network/authorities?k=0", want: http.StatusBadRequest},
		{name: "stats", target: "/api/network/stats", want: http.StatusOK},
		{name: "unknown pass", target: "/api/passes/nope", want: http.StatusNotFound},
		{name: "unknown report", target: "/api/passes/nope/report", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.target, "")
			if rec.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d (%s)", tt.target, rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	ts := newTestServer(t)
	res := decode[struct {
		Source string                  `json:"source"`
		Edges  []common.SimilarityEdge `json:"edges"`
	}](t, ts.do(t, http.MethodGet, "/api/similarity/section", ""))

	if res.Source != "computed" || len(res.Edges) != 1 {
		t.Fatalf("response = %+v", res)
	}
	if e := res.Edges[0]; e.Entity1 != "s1" || e.Entity2 != "s2" || e.Class != common.SimilarityRedundant {
		t.Fatalf("edge = %+v", e)
	}

	stored := decode[struct {
		Source string                  `json:"source"`
		Edges  []common.SimilarityEdge `json:"edges"`
	}](t, ts.do(t, http.MethodGet, "/api/similarity/section?source=stored", ""))
	if stored.Source != "stored" || len(stored.Edges) != 0 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestSectionCitations(t *testing.T) {
	ts := newTestServer(t)
	res := decode[struct {
		Section string   `json:"section"`
		Cites   []string `json:"cites"`
		CitedBy []string `json:"cited_by"`
	}](t, ts.do(t, http.MethodGet, "/api/citations/1500.2", ""))

	if res.Section != "1500.2" || len(res.Cites) != 0 {
		t.Fatalf("response = %+v", res)
	}
	if want := []string{"1500.1", "1500.3"}; !reflect.DeepEqual(res.CitedBy, want) {
		t.Fatalf("cited_by = %v, want %v", res.CitedBy, want)
	}
}

func TestNetworkQueries(t *testing.T) {
	ts := newTestServer(t)

	path := decode[struct {
		Found bool     `json:"found"`
		Hops  int      `json:"hops"`
		Path  []string `json:"path"`
	}](t, ts.do(t, http.MethodGet, "/api/network/path?source=1500.3&target=1500.2", ""))
	if !path.Found || path.Hops != 1 || !reflect.DeepEqual(path.Path, []string{"1500.3", "1500.2"}) {
		t.Fatalf("path = %+v", path)
	}

	none := decode[struct {
		Found bool     `json:"found"`
		Path  []string `json:"path"`
	}](t, ts.do(t, http.MethodGet, "/api/network/path?source=1500.1&target=1500.4", ""))
	if none.Found || len(none.Path) != 0 {
		t.Fatalf("unreachable path = %+v", none)
	}

	authorities := decode[[]struct {
		ID          string `json:"id"`
		CitationsIn int    `json:"citations_in"`
	}](t, ts.do(t, http.MethodGet, "/api/network/authorities?k=1", ""))
	if len(authorities) != 1 || authorities[0].ID != "1500.2" || authorities[0].CitationsIn != 2 {
		t.Fatalf("authorities = %+v", authorities)
	}

	hubs := decode[[]struct {
		ID           string `json:"id"`
		CitationsOut int    `json:"citations_out"`
	}](t, ts.do(t, http.MethodGet, "/api/network/hubs?k=1", ""))
	if len(hubs) != 1 || hubs[0].ID != "1500.3" || hubs[0].CitationsOut != 2 {
		t.Fatalf("hubs = %+v", hubs)
	}

	ego := decode[struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
	}](t, ts.do(t, http.MethodGet, "/api/network/ego/1500.4?radius=2", ""))
	if len(ego.Nodes) != 1 || ego.Nodes[0].ID != "1500.4" {
		t.Fatalf("isolated ego = %+v", ego)
	}
}

func TestCreatePass(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/passes", `{"kind":"cluster","level":"Part","k":2}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST = %d (%s)", rec.Code, rec.Body.String())
	}
	p := decode[analysis.Progress](t, rec)
	if p.ID == "" || p.State != analysis.StatePending || p.Level != common.LevelPart {
		t.Fatalf("progress = %+v", p)
	}
	if len(ts.queue.bodies) != 1 {
		t.Fatalf("published %d messages", len(ts.queue.bodies))
	}
	msg, err := queue.DecodePassMessage(ts.queue.bodies[0])
	if err != nil || msg.Request.ID != p.ID || msg.Request.K != 2 {
		t.Fatalf("message = %+v, %v", msg, err)
	}

	got := decode[analysis.Progress](t, ts.do(t, http.MethodGet, "/api/passes/"+p.ID, ""))
	if got.ID != p.ID || got.State != analysis.StatePending {
		t.Fatalf("GET progress = %+v", got)
	}

	// no report before the pass ran
	if rec := ts.do(t, http.MethodGet, "/api/passes/"+p.ID+"/report", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("report = %d", rec.Code)
	}
}

func TestCreatePass_Invalid(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown kind", body: `{"kind":"magic"}`},
		{name: "missing kind", body: `{}`},
		{name: "similarity without level", body: `{"kind":"similarity"}`},
		{name: "invalid level", body: `{"kind":"cluster","level":"paragraph"}`},
		{name: "threshold out of range", body: `{"kind":"network","threshold":1.5}`},
		{name: "negative k", body: `{"kind":"cluster","level":"part","k":-1}`},
		{name: "not json", body: `kind=cluster`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/passes", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("POST %s = %d (%s)", tt.body, rec.Code, rec.Body.String())
			}
		})
	}
	if len(ts.queue.bodies) != 0 {
		t.Fatal("invalid passes must not be published")
	}
}

func TestPassReport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	p := analysis.NewProgress("done-1", analysis.KindCitation, "", testNow)
	if err := ts.storage.SaveProgress(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := ts.storage.SetReportKey(ctx, "done-1", "reports/done-1.json"); err != nil {
		t.Fatalf("report key: %v", err)
	}

	res := decode[struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}](t, ts.do(t, http.MethodGet, "/api/passes/done-1/report", ""))
	if res.Key != "reports/done-1.json" || !strings.HasPrefix(res.URL, "https://files.example.com/reports/done-1.json") {
		t.Fatalf("report = %+v", res)
	}
}

func TestClusters(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	err := ts.storage.SavePass(ctx, analysis.PassResult{
		Progress: analysis.Progress{ID: "cl-1", Kind: analysis.KindCluster},
		Levels: []analysis.LevelReport{{
			Level:    common.LevelSection,
			Clusters: []common.Cluster{{Level: common.LevelSection, Label: 0, Members: []string{"s1", "s2"}, Size: 2, Name: "Scope"}},
		}},
	})
	if err != nil {
		t.Fatalf("save pass: %v", err)
	}

	clusters := decode[[]common.Cluster](t, ts.do(t, http.MethodGet, "/api/clusters/section", ""))
	if len(clusters) != 1 || clusters[0].Size != 2 {
		t.Fatalf("clusters = %+v", clusters)
	}
	empty := decode[[]common.Cluster](t, ts.do(t, http.MethodGet, "/api/clusters/part", ""))
	if len(empty) != 0 {
		t.Fatalf("part clusters = %+v", empty)
	}
}
