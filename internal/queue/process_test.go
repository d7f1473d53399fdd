package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/leaselock"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	"github.com/OFFIS-RIT/regnet/pkg/store/memory"
	"github.com/rabbitmq/amqp091-go"
)

type fakeLocker struct {
	keys []string
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

type fakeReports struct {
	uploads map[string][]byte
}

func (r *fakeReports) UploadReport(ctx context.Context, passID string, data []byte) (string, error) {
	if r.uploads == nil {
		r.uploads = map[string][]byte{}
	}
	r.uploads[passID] = data
	return "reports/" + passID + ".json", nil
}

type fakeCache struct{ invalidated int }

func (c *fakeCache) Invalidate(ctx context.Context) error {
	c.invalidated++
	return nil
}

type fakeExporter struct{ exported []string }

func (e *fakeExporter) ExportNetwork(ctx context.Context, passID string, g *network.Graph) error {
	e.exported = append(e.exported, passID)
	return nil
}

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.calls++
	return []float32{0, 0, 1}, nil
}

func testCorpus() *common.Corpus {
	return common.NewCorpus([]common.Entity{
		{ID: "p1", Level: common.LevelPart, Number: "1500", Name: "Hazardous Substances"},
		{ID: "s1", Level: common.LevelSection, Number: "1500.1", ParentID: "p1",
			Text: "See § 1500.2.", Embedding: common.Vector{1, 0, 0}},
		{ID: "s2", Level: common.LevelSection, Number: "1500.2", ParentID: "p1",
			Text: "Definitions.", Embedding: common.Vector{0.98, 0.1, 0}},
		{ID: "s3", Level: common.LevelSection, Number: "1500.3", ParentID: "p1",
			Text: "Labeling under section 1500.1."},
	})
}

type harness struct {
	storage  *memory.Storage
	locks    *fakeLocker
	reports  *fakeReports
	cache    *fakeCache
	exporter *fakeExporter
	proc     *Processor
}

func newHarness(t *testing.T, embedder *fakeEmbedder) *harness {
	t.Helper()
	engine, err := analysis.NewEngine(analysis.NewEngineParams{Config: analysis.DefaultConfig()})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	h := &harness{
		storage:  memory.New(testCorpus()),
		locks:    &fakeLocker{},
		reports:  &fakeReports{},
		cache:    &fakeCache{},
		exporter: &fakeExporter{},
	}
	params := NewProcessorParams{
		Storage: h.storage,
		Engine:  engine,
		Locks:   h.locks,
		Reports: h.reports,
		Cache:   h.cache,
		Graph:   h.exporter,
	}
	if embedder != nil {
		params.Embedder = embedder
		params.EmbeddingDim = 3
	}
	h.proc, err = NewProcessor(params)
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	return h
}

func passBody(t *testing.T, req analysis.PassRequest) []byte {
	t.Helper()
	body, err := json.Marshal(PassMessage{Request: req, Trigger: TriggerAPI})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestProcessPassMessage_Network(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.proc.ProcessPassMessage(ctx, passBody(t, analysis.PassRequest{ID: "net-1", Kind: analysis.KindNetwork}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := h.storage.GetProgress(ctx, "net-1")
	if err != nil || p.State != analysis.StateCompleted || p.Percent != 100 {
		t.Fatalf("progress = %+v, %v", p, err)
	}
	if len(h.locks.keys) != 1 || h.locks.keys[0] != "analysis:network" {
		t.Fatalf("lease keys = %v", h.locks.keys)
	}
	if _, ok := h.reports.uploads["net-1"]; !ok {
		t.Fatal("report not uploaded")
	}
	if key, _ := h.storage.GetReportKey(ctx, "net-1"); key != "reports/net-1.json" {
		t.Fatalf("report key = %q", key)
	}
	if h.cache.invalidated != 1 {
		t.Fatalf("cache invalidated %d times", h.cache.invalidated)
	}
	if len(h.exporter.exported) != 1 {
		t.Fatalf("exported = %v", h.exporter.exported)
	}
	if len(h.storage.Passes()) != 1 {
		t.Fatalf("saved passes = %d", len(h.storage.Passes()))
	}
}

func TestProcessPassMessage_SimilarityLeavesCacheAlone(t *testing.T) {
	h := newHarness(t, nil)
	req := analysis.PassRequest{ID: "sim-1", Kind: analysis.KindSimilarity, Level: common.LevelSection}

	if err := h.proc.ProcessPassMessage(context.Background(), passBody(t, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.locks.keys[0] != "analysis:similarity:section" {
		t.Fatalf("lease key = %q", h.locks.keys[0])
	}
	if h.cache.invalidated != 0 || len(h.exporter.exported) != 0 {
		t.Fatalf("similarity pass touched cache or graph export")
	}
	edges, _ := h.storage.GetSimilarity(context.Background(), common.LevelSection, 0)
	if len(edges) != 1 || edges[0].Entity1 != "s1" || edges[0].Entity2 != "s2" {
		t.Fatalf("stored edges = %+v", edges)
	}
}

func TestProcessPassMessage_SkipsCompleted(t *testing.T) {
	h := newHarness(t, nil)
	body := passBody(t, analysis.PassRequest{ID: "cit-1", Kind: analysis.KindCitation})

	for range 2 {
		if err := h.proc.ProcessPassMessage(context.Background(), body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(h.storage.Passes()) != 1 || len(h.locks.keys) != 1 {
		t.Fatalf("redelivered completed pass ran again")
	}
}

func TestProcessPassMessage_InvalidRequestFails(t *testing.T) {
	h := newHarness(t, nil)
	body := passBody(t, analysis.PassRequest{ID: "bad-1", Kind: analysis.KindCluster, Level: "paragraph"})

	err := h.proc.ProcessPassMessage(context.Background(), body)
	if !errors.Is(err, common.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	p, _ := h.storage.GetProgress(context.Background(), "bad-1")
	if p.State != analysis.StateFailed || p.Error == "" {
		t.Fatalf("progress = %+v", p)
	}
}

func TestProcessPassMessage_EmbedsMissingSections(t *testing.T) {
	emb := &fakeEmbedder{}
	h := newHarness(t, emb)
	req := analysis.PassRequest{ID: "sim-2", Kind: analysis.KindSimilarity, Level: common.LevelSection}

	if err := h.proc.ProcessPassMessage(context.Background(), passBody(t, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("embedder calls = %d, want 1 (only s3 lacks a vector)", emb.calls)
	}
	corpus, _ := h.storage.LoadCorpus(context.Background())
	if s3, _ := corpus.Get("s3"); !s3.HasEmbedding() {
		t.Fatal("new embedding was not stored")
	}
}

func TestMarkDeadLettered(t *testing.T) {
	h := newHarness(t, nil)
	body := passBody(t, analysis.PassRequest{ID: "dead-1", Kind: analysis.KindCitation})

	h.proc.MarkDeadLettered(context.Background(), body, errors.New("corpus unavailable"))
	p, err := h.storage.GetProgress(context.Background(), "dead-1")
	if err != nil || p.State != analysis.StateFailed {
		t.Fatalf("progress = %+v, %v", p, err)
	}
}

func TestHandleFailure_InvalidLevelSkipsRetry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	body := passBody(t, analysis.PassRequest{ID: "bogus-1", Kind: analysis.KindSimilarity, Level: "bogus"})

	err := h.proc.ProcessPassMessage(ctx, body)
	if !errors.Is(err, common.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}

	ch := &fakeChannel{}
	ack := &fakeAck{}
	h.proc.HandleFailure(ctx, ch, amqp091.Delivery{Acknowledger: ack, Body: body}, PassQueue, err)

	if len(ch.published) != 1 || ch.published[0].key != "analysis_queue_dlq" {
		t.Fatalf("published = %+v, want one message on the DLQ", ch.published)
	}
	if !ack.acked || ack.nacked {
		t.Fatalf("ack = %+v", ack)
	}
	p, _ := h.storage.GetProgress(ctx, "bogus-1")
	if p.State != analysis.StateFailed {
		t.Fatalf("progress = %+v", p)
	}
}

func TestHandleFailure_UndecodableBody(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	body := []byte("{not json")

	err := h.proc.ProcessPassMessage(ctx, body)
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	ch := &fakeChannel{}
	ack := &fakeAck{}
	h.proc.HandleFailure(ctx, ch, amqp091.Delivery{Acknowledger: ack, Body: body}, PassQueue, err)
	if len(ch.published) != 1 || ch.published[0].key != "analysis_queue_dlq" || !ack.acked {
		t.Fatalf("published = %+v, acked = %v", ch.published, ack.acked)
	}
}

func TestHandleFailure_TransientRetries(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	body := passBody(t, analysis.PassRequest{ID: "flaky-1", Kind: analysis.KindCitation})

	ch := &fakeChannel{}
	ack := &fakeAck{}
	h.proc.HandleFailure(ctx, ch, amqp091.Delivery{Acknowledger: ack, Body: body}, PassQueue, errors.New("connection reset"))

	if len(ch.published) != 1 || ch.published[0].key != "analysis_queue_retry" {
		t.Fatalf("published = %+v, want one message on the retry queue", ch.published)
	}
	if _, err := h.storage.GetProgress(ctx, "flaky-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("retried pass must not be marked failed, got %v", err)
	}
}

func TestHandleFailure_RetriesExhausted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	body := passBody(t, analysis.PassRequest{ID: "flaky-2", Kind: analysis.KindCitation})
	msg := amqp091.Delivery{
		Acknowledger: &fakeAck{},
		Body:         body,
		Headers:      amqp091.Table{"x-retries": int32(MaxRetries)},
	}

	ch := &fakeChannel{}
	h.proc.HandleFailure(ctx, ch, msg, PassQueue, errors.New("connection reset"))

	if len(ch.published) != 1 || ch.published[0].key != "analysis_queue_dlq" {
		t.Fatalf("published = %+v", ch.published)
	}
	p, err := h.storage.GetProgress(ctx, "flaky-2")
	if err != nil || p.State != analysis.StateFailed {
		t.Fatalf("progress = %+v, %v", p, err)
	}
}
