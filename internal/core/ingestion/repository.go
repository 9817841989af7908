package ingestion

import (
	"context"
	"errors"
)

var (
	// ErrSourceDirNotFound は取り込み元ディレクトリが存在しない場合のエラー
	ErrSourceDirNotFound = errors.New("source directory not found")

	// ErrEmbedderNotConfigured は埋め込みプロバイダが設定されていない場合のエラー
	ErrEmbedderNotConfigured = errors.New("embedder not configured")
)

// PageLoader は1ファイルをページ単位のテキストに変換します
type PageLoader interface {
	// Extensions は対象とする拡張子（ドット付き、小文字）を返す
	Extensions() []string
	Load(ctx context.Context, path string) ([]PageUnit, error)
}

// Embedder はテキストのバッチ埋め込みを提供します
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
}

// CollectionWriter は名前付きコレクションを置き換えます
// 実装は全レコードを単一トランザクションで書き込み、既存の内容を破棄する
type CollectionWriter interface {
	ReplaceCollection(ctx context.Context, name string, records []IndexRecord) error
}

// TokenCounter はテキストのトークン数を数えます
type TokenCounter interface {
	CountTokens(text string) int
}
