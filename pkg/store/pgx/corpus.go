package pgx

import (
	"context"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/store"
	"github.com/pgvector/pgvector-go"
)

const loadCorpusSQL = `
SELECT id, level, number, name, citation, body,
       COALESCE(parent_id, ''), COALESCE(embedding::text, '')
FROM regulation_entities
ORDER BY position, id`

const saveEmbeddingsSQL = `
UPDATE regulation_entities AS e
SET embedding = u.embedding, updated_at = now()
FROM unnest($1::text[], $2::vector[]) AS u(id, embedding)
WHERE e.id = u.id AND e.level = 'section'`

// LoadCorpus reads every entity in ingestion order. Rows with an unknown
// level are skipped and logged.
func (s *AnalysisDBStorage) LoadCorpus(ctx context.Context) (*common.Corpus, error) {
	rows, err := s.conn.Query(ctx, loadCorpusSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	var entities []common.Entity
	for rows.Next() {
		var (
			e         common.Entity
			level     string
			embedding string
		)
		if err := rows.Scan(&e.ID, &level, &e.Number, &e.Name, &e.Citation, &e.Text, &e.ParentID, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Level, err = common.ParseLevel(level)
		if err != nil {
			logger.Warn("[Store] skipping entity", "id", e.ID, "err", err)
			continue
		}
		e.Text = util.SanitizePostgresText(e.Text)
		if e.Embedding, err = parseVector(embedding); err != nil {
			logger.Warn("[Store] unreadable embedding", "id", e.ID, "err", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	logger.Debug("[Store] corpus loaded", "entities", len(entities))
	return common.NewCorpus(entities), nil
}

// parseVector reads the text form of a pgvector column. Empty input means
// no embedding.
func parseVector(s string) (common.Vector, error) {
	if s == "" {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(s); err != nil {
		return nil, err
	}
	return common.Vector(v.Slice()), nil
}

// SaveEmbeddings writes section vectors in chunks, in a single transaction.
func (s *AnalysisDBStorage) SaveEmbeddings(ctx context.Context, vectors map[string]common.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(vectors))
	for id, v := range vectors {
		if v.IsZero() {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = store.ChunkRange(len(ids), embeddingChunk, func(start, end int) error {
		part := ids[start:end]
		vecs := make([]pgvector.Vector, len(part))
		for i, id := range part {
			vecs[i] = pgvector.NewVector(vectors[id])
		}
		if _, err := tx.Exec(ctx, saveEmbeddingsSQL, part, vecs); err != nil {
			return fmt.Errorf("failed to save embeddings: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
