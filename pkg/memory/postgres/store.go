// Package postgres provides a PostgreSQL-backed implementation of the
// conversation memory contract.
//
// Exchanges live in a single table with a pgvector column for the exchange
// embedding and an HNSW index for approximate nearest-neighbour recall. The
// pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.RecordExchange(ctx, ex)
//	recent, _ := store.Recent(ctx, sessionID, 10)
//	similar, _ := store.SearchSimilar(ctx, queryVec, 5, sessionID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxloop/voxloop/pkg/memory"
)

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

// defaultRecentLimit applies when Recent is called with limit 0.
const defaultRecentLimit = 20

const ddlExchanges = `
CREATE TABLE IF NOT EXISTS exchanges (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    user_text   TEXT         NOT NULL,
    reply_text  TEXT         NOT NULL,
    embedding   vector(%d),
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_session_timestamp
    ON exchanges (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_exchanges_embedding
    ON exchanges USING hnsw (embedding vector_cosine_ops);
`

// Store is a PostgreSQL-backed [memory.Store] sharing one [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// producing [memory.Exchange.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the vector column
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate creates or ensures the exchanges table, the pgvector extension, and
// all indexes exist. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(ddlExchanges, embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordExchange implements [memory.Store]. An exchange with an existing ID
// is completely replaced.
func (s *Store) RecordExchange(ctx context.Context, ex memory.Exchange) error {
	if ex.ID == "" {
		return fmt.Errorf("postgres store: exchange ID must not be empty")
	}
	if ex.SessionID == "" {
		return fmt.Errorf("postgres store: exchange SessionID must not be empty")
	}

	const q = `
		INSERT INTO exchanges
		    (id, session_id, user_text, reply_text, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    user_text  = EXCLUDED.user_text,
		    reply_text = EXCLUDED.reply_text,
		    embedding  = EXCLUDED.embedding,
		    timestamp  = EXCLUDED.timestamp`

	var vec any
	if ex.Embedding != nil {
		vec = pgvector.NewVector(ex.Embedding)
	}
	_, err := s.pool.Exec(ctx, q,
		ex.ID,
		ex.SessionID,
		ex.UserText,
		ex.ReplyText,
		vec,
		ex.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres store: record exchange: %w", err)
	}
	return nil
}

// Recent implements [memory.Store]. It returns the limit most recent
// exchanges of the session, reordered oldest first for direct prompt use.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]memory.Exchange, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	const q = `
		SELECT id, session_id, user_text, reply_text, embedding, timestamp
		FROM   (SELECT *
		        FROM   exchanges
		        WHERE  session_id = $1
		        ORDER  BY timestamp DESC
		        LIMIT  $2) latest
		ORDER  BY timestamp`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}

	exchanges, err := pgx.CollectRows(rows, scanExchange)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if exchanges == nil {
		exchanges = []memory.Exchange{}
	}
	return exchanges, nil
}

// SearchSimilar implements [memory.Store]. It finds the topK exchanges whose
// embeddings are closest (cosine distance) to the query embedding. Exchanges
// recorded without an embedding are excluded.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int, sessionID string) ([]memory.SimilarExchange, error) {
	queryVec := pgvector.NewVector(embedding)

	q := `
		SELECT id, session_id, user_text, reply_text, embedding, timestamp,
		       embedding <=> $1 AS distance
		FROM   exchanges
		WHERE  embedding IS NOT NULL`
	args := []any{queryVec}
	if sessionID != "" {
		args = append(args, sessionID)
		q += fmt.Sprintf("\n  AND  session_id = $%d", len(args))
	}
	args = append(args, topK)
	q += fmt.Sprintf("\nORDER  BY distance\nLIMIT  $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.SimilarExchange, error) {
		var (
			se  memory.SimilarExchange
			vec pgvector.Vector
		)
		if err := row.Scan(
			&se.Exchange.ID,
			&se.Exchange.SessionID,
			&se.Exchange.UserText,
			&se.Exchange.ReplyText,
			&vec,
			&se.Exchange.Timestamp,
			&se.Distance,
		); err != nil {
			return memory.SimilarExchange{}, err
		}
		se.Exchange.Embedding = vec.Slice()
		return se, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.SimilarExchange{}
	}
	return results, nil
}

// scanExchange scans one exchanges row, tolerating a NULL embedding.
func scanExchange(row pgx.CollectableRow) (memory.Exchange, error) {
	var (
		ex  memory.Exchange
		vec *pgvector.Vector
	)
	if err := row.Scan(
		&ex.ID,
		&ex.SessionID,
		&ex.UserText,
		&ex.ReplyText,
		&vec,
		&ex.Timestamp,
	); err != nil {
		return memory.Exchange{}, err
	}
	if vec != nil {
		ex.Embedding = vec.Slice()
	}
	return ex, nil
}
