package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
)

// CompletedHook はインデックス構築の成功後に呼び出される
type CompletedHook func(ctx context.Context, collection string, result *BuildResult)

// IndexService はインデックス構築のユースケースを提供する
type IndexService struct {
	loader       PageLoader
	splitter     *chunk.RecursiveSplitter
	embedder     Embedder
	writer       CollectionWriter
	tokenCounter TokenCounter
	hooks        []CompletedHook
	logger       *slog.Logger
}

type indexServiceOptions struct {
	tokenCounter TokenCounter
	hooks        []CompletedHook
	logger       *slog.Logger
}

// IndexServiceOption は IndexService のオプション設定
type IndexServiceOption func(*indexServiceOptions)

// WithIndexLogger は IndexService にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.logger = logger
	}
}

// WithIndexTokenCounter はトークン数の概算に使うカウンタを設定する
func WithIndexTokenCounter(counter TokenCounter) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.tokenCounter = counter
	}
}

// WithIndexCompletedHook は構築成功後のフックを追加する
func WithIndexCompletedHook(hook CompletedHook) IndexServiceOption {
	return func(o *indexServiceOptions) {
		o.hooks = append(o.hooks, hook)
	}
}

// NewIndexService は新しいIndexServiceを作成する
func NewIndexService(
	loader PageLoader,
	splitter *chunk.RecursiveSplitter,
	embedder Embedder,
	writer CollectionWriter,
	opts ...IndexServiceOption,
) *IndexService {
	options := indexServiceOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &IndexService{
		loader:       loader,
		splitter:     splitter,
		embedder:     embedder,
		writer:       writer,
		tokenCounter: options.tokenCounter,
		hooks:        options.hooks,
		logger:       options.logger,
	}
}

// Build はディレクトリ内のドキュメントから名前付きコレクションを再構築する
// 埋め込みはすべて書き込み前に計算し、途中で失敗した場合は何も書き込まない
func (s *IndexService) Build(ctx context.Context, params BuildParams) (*BuildResult, error) {
	startTime := time.Now()

	if err := s.validateParams(params); err != nil {
		return nil, fmt.Errorf("パラメータのバリデーションエラー: %w", err)
	}
	if s.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}

	s.logger.Info("インデックス構築を開始",
		"dir", params.SourceDir,
		"collection", params.Collection,
		"chunkSize", s.splitter.ChunkSize(),
		"chunkOverlap", s.splitter.Overlap(),
	)

	loaded, err := LoadDirectory(ctx, params.SourceDir, s.loader, s.logger)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{
		Failures: loaded.Failures,
	}

	if len(loaded.Pages) == 0 {
		s.logger.Warn("読み込めるページがありません。コレクションは更新しません",
			"dir", params.SourceDir,
			"failures", len(loaded.Failures),
		)
		result.Duration = time.Since(startTime)
		return result, nil
	}

	chunks := ChunkPages(s.splitter, loaded.Pages)
	result.PageCount = len(loaded.Pages)
	result.ChunkCount = len(chunks)

	if len(chunks) == 0 {
		s.logger.Warn("チャンクが生成されませんでした。コレクションは更新しません",
			"dir", params.SourceDir,
			"pages", result.PageCount,
		)
		result.Duration = time.Since(startTime)
		return result, nil
	}

	if s.tokenCounter != nil {
		for _, c := range chunks {
			result.TokenCount += s.tokenCounter.CountTokens(c.Content)
		}
	}

	s.logger.Info("チャンク分割完了",
		"pages", result.PageCount,
		"chunks", result.ChunkCount,
		"tokens", result.TokenCount,
	)

	records, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := s.writer.ReplaceCollection(ctx, params.Collection, records); err != nil {
		return nil, fmt.Errorf("コレクションの書き込みに失敗: %w", err)
	}

	result.Duration = time.Since(startTime)

	s.logger.Info("インデックス構築完了",
		"collection", params.Collection,
		"pages", result.PageCount,
		"chunks", result.ChunkCount,
		"failures", len(result.Failures),
		"duration", result.Duration,
	)

	for _, hook := range s.hooks {
		hook(ctx, params.Collection, result)
	}

	return result, nil
}

// embedChunks はチャンクをバッチ単位で埋め込みます
func (s *IndexService) embedChunks(ctx context.Context, chunks []Chunk) ([]IndexRecord, error) {
	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	records := make([]IndexRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("埋め込みの生成に失敗: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("埋め込みの件数が一致しません: expected %d, got %d", len(batch), len(vectors))
		}

		for i, c := range batch {
			records = append(records, IndexRecord{Chunk: c, Embedding: vectors[i]})
		}

		s.logger.Debug("埋め込みバッチ完了", "done", end, "total", len(chunks))
	}
	return records, nil
}

func (s *IndexService) validateParams(params BuildParams) error {
	if params.SourceDir == "" {
		return fmt.Errorf("source directory is required")
	}
	if params.Collection == "" {
		return fmt.Errorf("collection name is required")
	}
	return nil
}
