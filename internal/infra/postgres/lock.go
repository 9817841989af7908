package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// collectionLockID はコレクション名からアドバイザリロックIDを生成する
func collectionLockID(collection string) int64 {
	h := sha256.Sum256([]byte("doc-rag:collection:" + collection))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// lockCollection はトランザクションスコープのアドバイザリロックを取得する
// ロックはトランザクション終了時に自動で解放される
func lockCollection(ctx context.Context, tx pgx.Tx, collection string) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", collectionLockID(collection)); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
