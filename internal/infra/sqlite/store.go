// Package sqlite はローカルディレクトリに永続化するコレクションストアを提供する
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jinford/doc-rag/internal/core/catalog"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/sqlfilter"
	"github.com/jinford/doc-rag/internal/infra/sqlite/migrations"
	"github.com/samber/mo"

	_ "modernc.org/sqlite" // SQLite driver
)

// DatabaseFile は永続化ディレクトリ内のデータベースファイル名
const DatabaseFile = "collections.db"

// ErrDimensionMismatch はクエリベクトルと保存済みベクトルの次元が異なる場合のエラー
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// CollectionInfo はコレクションの構築情報
type CollectionInfo struct {
	Name        string
	Generation  int64
	Dimension   int
	RecordCount int
	BuiltAt     time.Time
}

// Store は SQLite に名前付きコレクションを保存する
type Store struct {
	db   *sql.DB
	path string
}

// NewStore は永続化ディレクトリにストアを開く
// ディレクトリが存在しない場合は作成する
func NewStore(persistDir string) (*Store, error) {
	if err := os.MkdirAll(persistDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating persist directory: %w", err)
	}

	dbPath := filepath.Join(persistDir, DatabaseFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close はデータベース接続を閉じる
func (s *Store) Close() error {
	return s.db.Close()
}

// Path はデータベースファイルのパスを返す
func (s *Store) Path() string {
	return s.path
}

// migrate は未適用のマイグレーションを順に実行する
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ReplaceCollection はコレクションの内容を records で置き換える
// 全件を1トランザクションで書き込み、世代番号を進める
func (s *Store) ReplaceCollection(ctx context.Context, name string, records []ingestion.IndexRecord) (err error) {
	dimension := 0
	if len(records) > 0 {
		dimension = len(records[0].Embedding)
	}
	for _, r := range records {
		if len(r.Embedding) != dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dimension, len(r.Embedding))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("clearing collection: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, generation, dimension, record_count, built_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			generation = collections.generation + 1,
			dimension = excluded.dimension,
			record_count = excluded.record_count,
			built_at = excluded.built_at
	`, name, dimension, len(records), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving collection: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, chunk_id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		metadataJSON, mErr := json.Marshal(r.MetadataMap())
		if mErr != nil {
			return fmt.Errorf("marshalling metadata: %w", mErr)
		}
		id := r.Chunk.ID.String()
		if _, err = stmt.ExecContext(ctx, name, id, id, r.Chunk.Content, string(metadataJSON), float32SliceToBytes(r.Embedding)); err != nil {
			return fmt.Errorf("inserting record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing collection: %w", err)
	}
	return nil
}

// Search はコサイン類似度の降順で最大 k 件を返す
// 同点の場合は挿入順を保つ
func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int, filter mo.Option[search.Filter]) ([]search.Match, error) {
	query := `SELECT content, metadata, embedding FROM records WHERE collection = ?`
	args := []any{collection}

	if f, ok := filter.Get(); ok {
		clause, filterArgs, err := sqlfilter.Compile(f, sqlfilter.SQLite, len(args))
		if err != nil {
			return nil, err
		}
		query += " AND (" + clause + ")"
		args = append(args, filterArgs...)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var matches []search.Match
	for rows.Next() {
		var (
			content, metadataJSON string
			blob                  []byte
		)
		if err := rows.Scan(&content, &metadataJSON, &blob); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		embedding := bytesToFloat32Slice(blob)
		if len(embedding) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d, stored has %d", ErrDimensionMismatch, len(vector), len(embedding))
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &raw); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}

		matches = append(matches, search.Match{
			Content:  content,
			Metadata: search.MetadataFromMap(raw),
			Score:    cosineSimilarity(vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	if matches == nil {
		matches = []search.Match{}
	}
	return matches, nil
}

// ListMetadata はコレクション内の全レコードのメタデータを返す
func (s *Store) ListMetadata(ctx context.Context, collection string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metadata FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying metadata: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var metadataJSON string
		if err := rows.Scan(&metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		var raw map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &raw); err != nil {
			return nil, fmt.Errorf("unmarshalling metadata: %w", err)
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}

// GetCollection はコレクションの構築情報を返す
func (s *Store) GetCollection(ctx context.Context, name string) (mo.Option[CollectionInfo], error) {
	var (
		info    CollectionInfo
		builtAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, generation, dimension, record_count, built_at
		FROM collections WHERE name = ?
	`, name).Scan(&info.Name, &info.Generation, &info.Dimension, &info.RecordCount, &builtAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[CollectionInfo](), nil
	}
	if err != nil {
		return mo.None[CollectionInfo](), fmt.Errorf("querying collection: %w", err)
	}
	if builtAt.Valid {
		info.BuiltAt = builtAt.Time
	}
	return mo.Some(info), nil
}

// CollectionGeneration はコレクションの構築世代を返す。未構築の場合は 0
func (s *Store) CollectionGeneration(ctx context.Context, name string) (int64, error) {
	info, err := s.GetCollection(ctx, name)
	if err != nil {
		return 0, err
	}
	if c, ok := info.Get(); ok {
		return c.Generation, nil
	}
	return 0, nil
}

// cosineSimilarity はコサイン類似度を返す。ゼロベクトルの場合は 0
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32SliceToBytes はベクトルをリトルエンディアンのバイト列に変換する
func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice は float32SliceToBytes の逆変換
func bytesToFloat32Slice(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// インターフェース実装の確認
var (
	_ ingestion.CollectionWriter = (*Store)(nil)
	_ search.Repository          = (*Store)(nil)
	_ catalog.MetadataReader     = (*Store)(nil)
	_ catalog.GenerationReader   = (*Store)(nil)
)
