package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/embedding"
	"github.com/OFFIS-RIT/regnet/pkg/leaselock"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

// Locker serializes passes; *leaselock.Client satisfies it.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// ReportUploader stores JSON pass reports and returns their key.
type ReportUploader interface {
	UploadReport(ctx context.Context, passID string, data []byte) (string, error)
}

// NetworkInvalidator drops cached networks after a pass changed the inputs.
type NetworkInvalidator interface {
	Invalidate(ctx context.Context) error
}

// NetworkExporter projects a network into an external graph store.
type NetworkExporter interface {
	ExportNetwork(ctx context.Context, passID string, g *network.Graph) error
}

type NewProcessorParams struct {
	Storage store.AnalysisStorage
	Engine  *analysis.Engine
	Locks   Locker
	// Embedder, if set, embeds sections that have no vector before a pass.
	Embedder     embedding.Provider
	EmbeddingDim int
	Reports      ReportUploader
	Cache        NetworkInvalidator
	Graph        NetworkExporter
	LeaseTTL     time.Duration
}

// Processor executes queued analysis passes.
type Processor struct {
	storage      store.AnalysisStorage
	engine       *analysis.Engine
	locks        Locker
	embedder     embedding.Provider
	embeddingDim int
	reports      ReportUploader
	cache        NetworkInvalidator
	graph        NetworkExporter
	leaseTTL     time.Duration
}

func NewProcessor(params NewProcessorParams) (*Processor, error) {
	if params.Storage == nil || params.Engine == nil {
		return nil, fmt.Errorf("processor needs storage and an engine")
	}
	return &Processor{
		storage:      params.Storage,
		engine:       params.Engine,
		locks:        params.Locks,
		embedder:     params.Embedder,
		embeddingDim: params.EmbeddingDim,
		reports:      params.Reports,
		cache:        params.Cache,
		graph:        params.Graph,
		leaseTTL:     params.LeaseTTL,
	}, nil
}

// ProcessPassMessage runs the pass of a PassQueue message. A pass that
// already completed is acknowledged without running again.
func (p *Processor) ProcessPassMessage(ctx context.Context, body []byte) error {
	msg, err := DecodePassMessage(body)
	if err != nil {
		return err
	}
	req := msg.Request

	prev, err := p.storage.GetProgress(ctx, req.ID)
	switch {
	case err == nil && prev.State == analysis.StateCompleted:
		logger.Info("[Worker] pass already completed, skipping", "id", req.ID)
		return nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}

	run := func(ctx context.Context) error {
		return p.runPass(ctx, req)
	}
	if p.locks == nil {
		return run(ctx)
	}
	key := leaselock.KeyFor(string(req.Kind), string(req.Level))
	return p.locks.WithLease(ctx, key, leaselock.Options{
		TTL:          p.leaseTTL,
		Wait:         true,
		WaitInterval: time.Second,
		WaitJitter:   500 * time.Millisecond,
		TokenPrefix:  "worker-",
	}, run)
}

func (p *Processor) runPass(ctx context.Context, req analysis.PassRequest) error {
	corpus, err := p.storage.LoadCorpus(ctx)
	if err != nil {
		return err
	}
	if corpus, err = p.embedMissing(ctx, corpus); err != nil {
		return err
	}

	observe := func(pr analysis.Progress) {
		if err := p.storage.SaveProgress(ctx, pr); err != nil {
			logger.Warn("[Worker] failed to save progress", "id", pr.ID, "state", pr.State, "err", err)
		}
	}
	result, err := p.engine.Run(ctx, corpus, req, p.storage, observe)
	if err != nil {
		return err
	}

	p.publishReport(ctx, result)
	if result.PageRank != nil || result.Network != nil {
		if p.cache != nil {
			if err := p.cache.Invalidate(ctx); err != nil {
				logger.Warn("[Worker] failed to invalidate network cache", "err", err)
			}
		}
	}
	if result.Network != nil && p.graph != nil {
		if err := p.graph.ExportNetwork(ctx, req.ID, result.Network); err != nil {
			logger.Warn("[Worker] failed to export network", "id", req.ID, "err", err)
		}
	}
	return nil
}

// embedMissing embeds sections without a vector and stores the new ones.
func (p *Processor) embedMissing(ctx context.Context, corpus *common.Corpus) (*common.Corpus, error) {
	if p.embedder == nil {
		return corpus, nil
	}
	res, err := embedding.EmbedMissing(ctx, p.embedder, corpus, embedding.EmbedMissingParams{Dimension: p.embeddingDim})
	if err != nil {
		return nil, err
	}
	if res.Embedded == 0 {
		return res.Corpus, nil
	}

	fresh := make(map[string]common.Vector, res.Embedded)
	for _, s := range res.Corpus.Sections() {
		if old, ok := corpus.Get(s.ID); ok && !old.HasEmbedding() && s.HasEmbedding() {
			fresh[s.ID] = s.Embedding
		}
	}
	if err := p.storage.SaveEmbeddings(ctx, fresh); err != nil {
		return nil, err
	}
	return res.Corpus, nil
}

// publishReport uploads the pass result. Failures are logged; the pass
// itself already completed.
func (p *Processor) publishReport(ctx context.Context, result analysis.PassResult) {
	if p.reports == nil {
		return
	}
	id := result.Progress.ID
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warn("[Worker] failed to encode report", "id", id, "err", err)
		return
	}
	key, err := p.reports.UploadReport(ctx, id, data)
	if err != nil {
		logger.Warn("[Worker] failed to upload report", "id", id, "err", err)
		return
	}
	if err := p.storage.SetReportKey(ctx, id, key); err != nil {
		logger.Warn("[Worker] failed to record report", "id", id, "err", err)
	}
}

// HandleFailure routes a delivery whose pass failed. Permanent failures go
// straight to the DLQ; others take the retry queue until MaxRetries. A pass
// whose message ends up dead-lettered is marked failed.
func (p *Processor) HandleFailure(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	var dead bool
	if IsPermanent(cause) {
		logger.Warn("[Worker] permanent failure, not retrying", "queue", queueName, "err", cause)
		dead = DeadLetter(ch, msg, queueName)
	} else {
		dead = HandleProcessingError(ch, msg, queueName)
		cause = fmt.Errorf("after %d retries: %w", MaxRetries, cause)
	}
	if dead {
		p.MarkDeadLettered(ctx, msg.Body, cause)
	}
}

// MarkDeadLettered records the final failure of a pass whose message was
// dead-lettered. Bodies without a pass id are only logged.
func (p *Processor) MarkDeadLettered(ctx context.Context, body []byte, cause error) {
	msg, err := DecodePassMessage(body)
	if err != nil {
		logger.Warn("[Worker] dead-lettered message has no pass", "err", err)
		return
	}
	prev, err := p.storage.GetProgress(ctx, msg.Request.ID)
	if err != nil {
		prev = analysis.NewProgress(msg.Request.ID, msg.Request.Kind, msg.Request.Level, time.Now().UTC())
	}
	failed, err := prev.Fail(fmt.Errorf("dead-lettered: %w", cause), time.Now().UTC())
	if err != nil {
		// already terminal
		return
	}
	if err := p.storage.SaveProgress(ctx, failed); err != nil {
		logger.Error("[Worker] failed to mark pass failed", "id", msg.Request.ID, "err", err)
	}
}
