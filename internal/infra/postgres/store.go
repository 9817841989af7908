// Package postgres は Postgres + pgvector によるコレクションストアを提供する
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jinford/doc-rag/internal/core/catalog"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/sqlfilter"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"
)

// Store は pgvector 列にベクトルを保存し、距離計算をデータベースに任せる
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewStore はスキーマを用意して Store を返す
func NewStore(ctx context.Context, pool *pgxpool.Pool, dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	s := &Store{pool: pool, dimension: dimension}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS doc_collections (
			name         TEXT PRIMARY KEY,
			generation   BIGINT NOT NULL DEFAULT 0,
			dimension    INT NOT NULL,
			record_count INT NOT NULL DEFAULT 0,
			built_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS doc_records (
			seq        BIGSERIAL PRIMARY KEY,
			collection TEXT NOT NULL REFERENCES doc_collections(name) ON DELETE CASCADE,
			id         UUID NOT NULL,
			chunk_id   TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL,
			embedding  vector(%d) NOT NULL,
			UNIQUE (collection, id)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_doc_records_collection ON doc_records(collection)`,
		`CREATE INDEX IF NOT EXISTS idx_doc_records_source ON doc_records(collection, (metadata->>'source'))`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// ReplaceCollection はコレクションの内容を records で置き換える
func (s *Store) ReplaceCollection(ctx context.Context, name string, records []ingestion.IndexRecord) error {
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.dimension, len(r.Embedding))
		}
	}

	return transact(ctx, s.pool, func(tx pgx.Tx) error {
		// 同じコレクションへの並行した再構築を直列化する
		if err := lockCollection(ctx, tx, name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM doc_records WHERE collection = $1`, name); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doc_collections (name, generation, dimension, record_count, built_at)
			VALUES ($1, 1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				generation = doc_collections.generation + 1,
				dimension = EXCLUDED.dimension,
				record_count = EXCLUDED.record_count,
				built_at = EXCLUDED.built_at
		`, name, s.dimension, len(records), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to save collection: %w", err)
		}

		batch := &pgx.Batch{}
		for _, r := range records {
			metadataJSON, err := json.Marshal(r.MetadataMap())
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			batch.Queue(`
				INSERT INTO doc_records (collection, id, chunk_id, content, metadata, embedding)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6)
			`,
				name,
				pgtype.UUID{Bytes: r.Chunk.ID, Valid: true},
				r.Chunk.ID.String(),
				r.Chunk.Content,
				string(metadataJSON),
				pgvector.NewVector(r.Embedding),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
}

// Search はコサイン距離の昇順で最大 k 件を返す
func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int, filter mo.Option[search.Filter]) ([]search.Match, error) {
	args := []any{collection, pgvector.NewVector(vector), k}
	where := "collection = $1"

	if f, ok := filter.Get(); ok {
		clause, filterArgs, err := sqlfilter.Compile(f, sqlfilter.Postgres, len(args))
		if err != nil {
			return nil, err
		}
		where += " AND (" + clause + ")"
		args = append(args, filterArgs...)
	}

	query := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $2) AS score
		FROM doc_records
		WHERE %s
		ORDER BY embedding <=> $2, seq
		LIMIT $3
	`, where)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()

	matches := []search.Match{}
	for rows.Next() {
		var (
			content      string
			metadataJSON []byte
			score        float64
		)
		if err := rows.Scan(&content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(metadataJSON, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		matches = append(matches, search.Match{
			Content:  content,
			Metadata: search.MetadataFromMap(raw),
			Score:    score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return matches, nil
}

// ListMetadata はコレクション内の全レコードのメタデータを返す
func (s *Store) ListMetadata(ctx context.Context, collection string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, `SELECT metadata FROM doc_records WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var metadataJSON []byte
		if err := rows.Scan(&metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal(metadataJSON, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// CollectionGeneration はコレクションの構築世代を返す。未構築の場合は 0
func (s *Store) CollectionGeneration(ctx context.Context, collection string) (int64, error) {
	var generation int64
	err := s.pool.QueryRow(ctx, `SELECT generation FROM doc_collections WHERE name = $1`, collection).Scan(&generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query collection generation: %w", err)
	}
	return generation, nil
}

// インターフェース実装の確認
var (
	_ ingestion.CollectionWriter = (*Store)(nil)
	_ search.Repository          = (*Store)(nil)
	_ catalog.MetadataReader     = (*Store)(nil)
	_ catalog.GenerationReader   = (*Store)(nil)
)
