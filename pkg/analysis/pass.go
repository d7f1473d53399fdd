package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/pkg/citation"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/OFFIS-RIT/regnet/pkg/rank"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"
)

// ErrInvalidRequest marks pass parameters outside their allowed range.
var ErrInvalidRequest = errors.New("invalid pass request")

// PassRequest describes one pass. Level is required for similarity and
// cluster passes and ignored otherwise.
type PassRequest struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Level       common.Level `json:"level,omitempty"`
	K           int          `json:"k,omitempty"`
	Threshold   float64      `json:"threshold,omitempty"`
	MaxSections int          `json:"max_sections,omitempty"`
	Damping     float64      `json:"damping,omitempty"`
	// Explain asks the explainer to justify up to this many redundant pairs.
	Explain int `json:"explain,omitempty"`
}

func (r PassRequest) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Kind.NeedsLevel() && !r.Level.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidLevel, r.Level)
	}
	if !(r.Threshold >= 0 && r.Threshold <= 1) {
		return fmt.Errorf("%w: threshold %v outside [0,1]", ErrInvalidRequest, r.Threshold)
	}
	if !(r.Damping >= 0 && r.Damping <= 1) {
		return fmt.Errorf("%w: damping %v outside [0,1]", ErrInvalidRequest, r.Damping)
	}
	return nil
}

// LevelReport collects the per-level results of a pass.
type LevelReport struct {
	Level        common.Level       `json:"level"`
	Similarity   *similarity.Result `json:"similarity,omitempty"`
	Explanations []PairExplanation  `json:"explanations,omitempty"`
	Clusters     []common.Cluster   `json:"clusters,omitempty"`
	Parity       []ParityCheck      `json:"parity,omitempty"`
	Summary      Summary            `json:"summary"`
}

// PassResult is everything a pass computed. Fields not produced by the
// pass kind stay empty.
type PassResult struct {
	Progress  Progress            `json:"progress"`
	Levels    []LevelReport       `json:"levels,omitempty"`
	Citations *citation.Graph     `json:"citations,omitempty"`
	PageRank  *rank.Result        `json:"pagerank,omitempty"`
	Network   *network.Graph      `json:"network,omitempty"`
	Stats     *network.Statistics `json:"stats,omitempty"`
}

// Sink persists the result of a pass during its store step.
type Sink interface {
	SavePass(ctx context.Context, result PassResult) error
}

// Observer is told about every progress transition.
type Observer func(Progress)

type passRun struct {
	progress Progress
	observe  Observer
	now      func() time.Time
}

func (r *passRun) set(p Progress, err error) error {
	if err != nil {
		return err
	}
	r.progress = p
	if r.observe != nil {
		r.observe(p)
	}
	return nil
}

func (r *passRun) advance(step string) error {
	return r.set(r.progress.Advance(step, r.now()))
}

// Run executes a pass over corpus and reports each step to observe. The
// final store step hands the result to sink when one is given. On error the
// returned result carries the failed progress.
func (e *Engine) Run(ctx context.Context, corpus *common.Corpus, req PassRequest, sink Sink, observe Observer) (PassResult, error) {
	run := &passRun{
		progress: NewProgress(req.ID, req.Kind, req.Level, time.Now().UTC()),
		observe:  observe,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if observe != nil {
		observe(run.progress)
	}

	fail := func(err error) (PassResult, error) {
		if p, ferr := run.progress.Fail(err, run.now()); ferr == nil {
			_ = run.set(p, nil)
		}
		logger.Error("[Analysis] pass failed", "id", req.ID, "kind", req.Kind, "err", err)
		return PassResult{Progress: run.progress}, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}
	if err := run.set(run.progress.Start(run.now())); err != nil {
		return fail(err)
	}
	logger.Info("[Analysis] pass started", "id", req.ID, "kind", req.Kind, "level", req.Level)

	var (
		result PassResult
		err    error
	)
	switch req.Kind {
	case KindSimilarity:
		err = e.runSimilarity(ctx, corpus, req, run, &result)
	case KindCluster:
		err = e.runCluster(ctx, corpus, req, run, &result)
	case KindCitation:
		err = e.runCitation(corpus, req, run, &result)
	case KindNetwork:
		err = e.runNetwork(ctx, corpus, req, run, &result)
	case KindFull:
		err = e.runFull(ctx, corpus, req, run, &result)
	}
	if err != nil {
		return fail(err)
	}

	// every kind ends on the store step
	if err := run.advance("store"); err != nil {
		return fail(err)
	}
	result.Progress = run.progress
	if sink != nil {
		if err := sink.SavePass(ctx, result); err != nil {
			return fail(fmt.Errorf("failed to store pass: %w", err))
		}
	}
	if err := run.set(run.progress.Complete(run.now())); err != nil {
		return fail(err)
	}
	result.Progress = run.progress

	logger.Info("[Analysis] pass completed", "id", req.ID, "kind", req.Kind)
	return result, nil
}

func (e *Engine) levelSimilarity(ctx context.Context, corpus *common.Corpus, level common.Level, explain int) (LevelReport, error) {
	sim, err := e.AnalyzeSimilarity(ctx, corpus, level)
	if err != nil {
		return LevelReport{}, err
	}
	parity, err := ParityChecks(corpus, level)
	if err != nil {
		return LevelReport{}, err
	}
	rep := LevelReport{Level: level, Similarity: &sim, Parity: parity}
	if explain > 0 {
		rep.Explanations = e.ExplainPairs(ctx, corpus, similarity.Redundancies(sim.Edges), explain)
	}
	rep.Summary = Summarize(corpus, level, sim, parity, nil)
	return rep, nil
}

func (e *Engine) runSimilarity(ctx context.Context, corpus *common.Corpus, req PassRequest, run *passRun, result *PassResult) error {
	if _, err := levelVectors(corpus, req.Level); err != nil {
		return err
	}
	if err := run.advance("compare"); err != nil {
		return err
	}
	rep, err := e.levelSimilarity(ctx, corpus, req.Level, req.Explain)
	if err != nil {
		return err
	}
	result.Levels = []LevelReport{rep}
	return nil
}

func (e *Engine) runCluster(ctx context.Context, corpus *common.Corpus, req PassRequest, run *passRun, result *PassResult) error {
	if _, err := levelVectors(corpus, req.Level); err != nil {
		return err
	}
	if err := run.advance("cluster"); err != nil {
		return err
	}
	clusters, err := e.Cluster(ctx, corpus, req.Level, req.K)
	if err != nil {
		return err
	}
	result.Levels = []LevelReport{{
		Level:    req.Level,
		Clusters: clusters,
		Summary:  Summarize(corpus, req.Level, similarity.Result{}, nil, clusters),
	}}
	return nil
}

func (e *Engine) runCitation(corpus *common.Corpus, req PassRequest, run *passRun, result *PassResult) error {
	cit := e.BuildCitationGraph(corpus)
	if err := run.advance("rank"); err != nil {
		return err
	}
	pr, err := e.CalculatePageRank(cit, req.Damping)
	if err != nil {
		return err
	}
	result.Citations = cit
	result.PageRank = &pr
	return nil
}

func (e *Engine) runNetwork(ctx context.Context, corpus *common.Corpus, req PassRequest, run *passRun, result *PassResult) error {
	cit := e.BuildCitationGraph(corpus)
	if err := run.advance("rank"); err != nil {
		return err
	}
	pr, err := e.CalculatePageRank(cit, req.Damping)
	if err != nil {
		return err
	}
	if err := run.advance("compare"); err != nil {
		return err
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = e.cfg.Thresholds.Similarity
	}
	sim, err := e.sectionSimilarity(ctx, corpus, threshold)
	if err != nil {
		return err
	}
	if err := run.advance("assemble"); err != nil {
		return err
	}
	g := network.Build(cit, sim.Edges, pr.Scores, network.BuildParams{Threshold: threshold, MaxSections: req.MaxSections})
	stats := g.Stats(network.DefaultTopK)

	result.Citations = cit
	result.PageRank = &pr
	result.Network = g
	result.Stats = &stats
	return nil
}

func (e *Engine) runFull(ctx context.Context, corpus *common.Corpus, req PassRequest, run *passRun, result *PassResult) error {
	reports := make(map[common.Level]*LevelReport, len(common.Levels()))
	for _, level := range common.Levels() {
		rep, err := e.levelSimilarity(ctx, corpus, level, req.Explain)
		if err != nil {
			return fmt.Errorf("similarity of %s: %w", level, err)
		}
		reports[level] = &rep
	}

	if err := run.advance("cluster"); err != nil {
		return err
	}
	for _, level := range common.Levels() {
		clusters, err := e.Cluster(ctx, corpus, level, 0)
		if err != nil {
			return fmt.Errorf("clustering of %s: %w", level, err)
		}
		rep := reports[level]
		rep.Clusters = clusters
		rep.Summary = Summarize(corpus, level, *rep.Similarity, rep.Parity, clusters)
	}

	if err := run.advance("citation"); err != nil {
		return err
	}
	cit := e.BuildCitationGraph(corpus)
	pr, err := e.CalculatePageRank(cit, req.Damping)
	if err != nil {
		return err
	}

	if err := run.advance("network"); err != nil {
		return err
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = e.cfg.Thresholds.Similarity
	}
	sectionSim := reports[common.LevelSection].Similarity
	if threshold < e.cfg.Thresholds.Similarity {
		lowered, err := e.sectionSimilarity(ctx, corpus, threshold)
		if err != nil {
			return err
		}
		sectionSim = &lowered
	}
	g := network.Build(cit, sectionSim.Edges, pr.Scores, network.BuildParams{Threshold: threshold, MaxSections: req.MaxSections})
	stats := g.Stats(network.DefaultTopK)

	for _, level := range common.Levels() {
		result.Levels = append(result.Levels, *reports[level])
	}
	result.Citations = cit
	result.PageRank = &pr
	result.Network = g
	result.Stats = &stats
	return nil
}
