package pgx

import (
	"context"
	"fmt"
	"sync"

	"github.com/OFFIS-RIT/regnet/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// batch sizes of unnest-based bulk writes
const (
	edgeChunk      = 1000
	embeddingChunk = 250
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// AnalysisDBStorage implements store.AnalysisStorage on PostgreSQL with
// pgvector columns for section embeddings and cluster centroids. Writes that
// replace a level's results are serialized with a mutex.
type AnalysisDBStorage struct {
	conn   pgxIConn
	dbLock sync.Mutex
}

var _ store.AnalysisStorage = (*AnalysisDBStorage)(nil)

// NewAnalysisDBStorageWithConnection wraps an existing pool or connection.
func NewAnalysisDBStorageWithConnection(conn pgxIConn) *AnalysisDBStorage {
	return &AnalysisDBStorage{conn: conn}
}

// NewPool opens a pgx pool whose connections know the pgvector types.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgxv5.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}
