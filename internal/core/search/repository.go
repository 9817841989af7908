package search

import (
	"context"

	"github.com/samber/mo"
)

// Repository はベクトルストアに対する検索インターフェース
// テスト時のモック用に消費者側で定義
type Repository interface {
	// Search はコレクション内でベクトルに近いチャンクを類似度の降順で最大 k 件返す
	// フィルタに一致するチャンクのみを対象とする
	Search(ctx context.Context, collection string, vector []float32, k int, filter mo.Option[Filter]) ([]Match, error)
}
