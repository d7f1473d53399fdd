package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/regnet/pkg/analysis"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/rank"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const (
	deleteSimilaritySQL = `DELETE FROM similarity_results WHERE level = $1`
	insertSimilaritySQL = `
INSERT INTO similarity_results (pass_id, level, entity1, entity2, score, class)
SELECT $1, $2, u.entity1, u.entity2, u.score, u.class
FROM unnest($3::text[], $4::text[], $5::float8[], $6::text[]) AS u(entity1, entity2, score, class)`

	deleteClustersSQL = `DELETE FROM analysis_clusters WHERE level = $1`
	insertClusterSQL  = `
INSERT INTO analysis_clusters (pass_id, level, label, name, summary, size, members, representatives, centroid)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	deletePageRankSQL = `DELETE FROM section_pagerank`
	insertPageRankSQL = `
INSERT INTO section_pagerank (pass_id, section, score)
SELECT $1, u.section, u.score
FROM unnest($2::text[], $3::float8[]) AS u(section, score)`

	upsertSummarySQL = `
INSERT INTO analysis_summaries (pass_id, level, summary)
VALUES ($1, $2, $3)
ON CONFLICT (pass_id, level) DO UPDATE SET summary = EXCLUDED.summary`

	getClustersSQL = `
SELECT label, name, summary, size, members, representatives, COALESCE(centroid::text, '')
FROM analysis_clusters
WHERE level = $1
ORDER BY size DESC, label`

	getSimilaritySQL = `
SELECT entity1, entity2, score, class
FROM similarity_results
WHERE level = $1
ORDER BY score DESC, entity1, entity2
LIMIT $2`
)

// SavePass stores the results of a pass in one transaction. Similarity
// edges and clusters replace the previous set of their level, PageRank
// scores replace the previous scores.
func (s *AnalysisDBStorage) SavePass(ctx context.Context, result analysis.PassResult) error {
	passID := result.Progress.ID
	replaceClusters := result.Progress.Kind == analysis.KindCluster || result.Progress.Kind == analysis.KindFull

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, rep := range result.Levels {
		if rep.Similarity != nil {
			if err := saveSimilarity(ctx, tx, passID, rep.Level, rep.Similarity.Edges); err != nil {
				return err
			}
		}
		if replaceClusters {
			if err := saveClusters(ctx, tx, passID, rep.Level, rep.Clusters); err != nil {
				return err
			}
		}
		summary, err := json.Marshal(rep.Summary)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertSummarySQL, passID, string(rep.Level), summary); err != nil {
			return fmt.Errorf("failed to save %s summary: %w", rep.Level, err)
		}
	}

	if result.PageRank != nil {
		if err := savePageRank(ctx, tx, passID, *result.PageRank); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	logger.Debug("[Store] pass results saved", "pass", passID, "levels", len(result.Levels))
	return nil
}

func saveSimilarity(ctx context.Context, tx pgxv5.Tx, passID string, level common.Level, edges []common.SimilarityEdge) error {
	if _, err := tx.Exec(ctx, deleteSimilaritySQL, string(level)); err != nil {
		return fmt.Errorf("failed to clear %s similarity: %w", level, err)
	}
	return store.ChunkRange(len(edges), edgeChunk, func(start, end int) error {
		part := edges[start:end]
		e1 := make([]string, len(part))
		e2 := make([]string, len(part))
		scores := make([]float64, len(part))
		classes := make([]string, len(part))
		for i, e := range part {
			e1[i], e2[i], scores[i], classes[i] = e.Entity1, e.Entity2, e.Score, string(e.Class)
		}
		if _, err := tx.Exec(ctx, insertSimilaritySQL, passID, string(level), e1, e2, scores, classes); err != nil {
			return fmt.Errorf("failed to save %s similarity: %w", level, err)
		}
		return nil
	})
}

func saveClusters(ctx context.Context, tx pgxv5.Tx, passID string, level common.Level, clusters []common.Cluster) error {
	if _, err := tx.Exec(ctx, deleteClustersSQL, string(level)); err != nil {
		return fmt.Errorf("failed to clear %s clusters: %w", level, err)
	}
	for _, c := range clusters {
		_, err := tx.Exec(ctx, insertClusterSQL,
			passID, string(level), c.Label, c.Name, c.Summary, c.Size,
			c.Members, c.Representatives, pgvector.NewVector(c.Centroid),
		)
		if err != nil {
			return fmt.Errorf("failed to save %s cluster %d: %w", level, c.Label, err)
		}
	}
	return nil
}

func savePageRank(ctx context.Context, tx pgxv5.Tx, passID string, pr rank.Result) error {
	if _, err := tx.Exec(ctx, deletePageRankSQL); err != nil {
		return fmt.Errorf("failed to clear pagerank: %w", err)
	}
	sections := store.SortedKeys(pr.Scores)
	scores := make([]float64, len(sections))
	for i, id := range sections {
		scores[i] = pr.Scores[id]
	}
	return store.ChunkRange(len(sections), edgeChunk, func(start, end int) error {
		if _, err := tx.Exec(ctx, insertPageRankSQL, passID, sections[start:end], scores[start:end]); err != nil {
			return fmt.Errorf("failed to save pagerank: %w", err)
		}
		return nil
	})
}

// GetClusters returns the last stored clusters of a level, largest first.
func (s *AnalysisDBStorage) GetClusters(ctx context.Context, level common.Level) ([]common.Cluster, error) {
	rows, err := s.conn.Query(ctx, getClustersSQL, string(level))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s clusters: %w", level, err)
	}
	defer rows.Close()

	out := []common.Cluster{}
	for rows.Next() {
		c := common.Cluster{Level: level}
		var centroid string
		if err := rows.Scan(&c.Label, &c.Name, &c.Summary, &c.Size, &c.Members, &c.Representatives, &centroid); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if c.Centroid, err = parseVector(centroid); err != nil {
			return nil, fmt.Errorf("failed to read centroid of cluster %d: %w", c.Label, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetSimilarity returns the last stored similarity edges of a level in
// score order. limit <= 0 returns all of them.
func (s *AnalysisDBStorage) GetSimilarity(ctx context.Context, level common.Level, limit int) ([]common.SimilarityEdge, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.conn.Query(ctx, getSimilaritySQL, string(level), lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s similarity: %w", level, err)
	}
	defer rows.Close()

	out := []common.SimilarityEdge{}
	for rows.Next() {
		var (
			e     common.SimilarityEdge
			class string
		)
		if err := rows.Scan(&e.Entity1, &e.Entity2, &e.Score, &class); err != nil {
			return nil, fmt.Errorf("failed to scan similarity edge: %w", err)
		}
		e.Class = common.SimilarityClass(class)
		out = append(out, e)
	}
	return out, rows.Err()
}
