package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
	"github.com/samber/mo"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	corecatalog "github.com/jinford/doc-rag/internal/core/catalog"
	coreingestion "github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
	coresearch "github.com/jinford/doc-rag/internal/core/search"
	"github.com/jinford/doc-rag/internal/infra/openai"
	"github.com/jinford/doc-rag/internal/infra/pdf"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/infra/sqlite"
	"github.com/jinford/doc-rag/internal/platform/config"
)

// Embedder はインデックス構築と検索の両方で使う埋め込みプロバイダ
// 問い合わせ時も構築時と同じモデルを使う必要がある
type Embedder interface {
	coreingestion.Embedder
	coresearch.Embedder
}

// Store はコレクションストアのバックエンドが満たすインターフェース
type Store interface {
	coreingestion.CollectionWriter
	coresearch.Repository
	corecatalog.MetadataReader
	corecatalog.GenerationReader
}

// ServiceContainer はアプリケーションの依存関係を保持する
// 埋め込み/チャットプロバイダが用意できない場合、プロバイダを必要とするサービスは nil になる
type ServiceContainer struct {
	IndexService   *coreingestion.IndexService
	SearchService  *coresearch.SearchService
	AskService     *coreask.AskService
	CatalogService *corecatalog.Service
	Store          Store

	logger  *slog.Logger
	closers []func()
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     Embedder
	llmClient    coreask.LLMClient
	pageLoader   coreingestion.PageLoader
	tokenCounter coreingestion.TokenCounter
	store        Store
	bestEffort   bool
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client coreask.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerPageLoader はドキュメントローダーを差し替える
func WithContainerPageLoader(loader coreingestion.PageLoader) ContainerOption {
	return func(opts *containerOptions) {
		opts.pageLoader = loader
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter coreingestion.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerStore はコレクションストアを差し替える
func WithContainerStore(store Store) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerBestEffortStore はストアを開けない場合もエラーにせず、
// すべての操作が失敗するストアで続行する
func WithContainerBestEffortStore() ContainerOption {
	return func(o *containerOptions) {
		o.bestEffort = true
	}
}

// NewContainer は設定からコンテナを生成する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{logger: options.logger}

	// Store (SQLite or PostgreSQL)
	store := options.store
	if store == nil {
		var err error
		store, err = c.openStore(ctx, cfg)
		if err != nil {
			if !options.bestEffort {
				return nil, err
			}
			options.logger.Warn("ストアを開けないため空のストアで続行します", "backend", cfg.Store.Backend, "error", err)
			store = unavailableStore{err: err}
		}
	}
	c.Store = store

	// Metadata Catalog
	c.CatalogService = corecatalog.NewService(store, cfg.Index.Collection,
		corecatalog.WithTTL(cfg.Retrieval.CatalogTTL),
		corecatalog.WithGenerationReader(store),
		corecatalog.WithCatalogLogger(options.logger),
	)

	// Embedder / LLMClient (OpenAI)
	embedder := options.embedder
	llmClient := options.llmClient
	if cfg.OpenAI.APIKey != "" {
		if embedder == nil {
			embedder = openai.NewEmbedder(
				cfg.OpenAI.APIKey,
				openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
				openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
				openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
				openai.WithRequestsPerSecond(cfg.OpenAI.EmbeddingRPS),
			)
		}
		if llmClient == nil {
			client, err := openai.NewClient(cfg.OpenAI.APIKey,
				openai.WithChatModel(cfg.OpenAI.ChatModel),
				openai.WithBaseURL(cfg.OpenAI.BaseURL),
				openai.WithTimeout(cfg.OpenAI.ChatTimeout),
			)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("OpenAI LLMクライアント初期化に失敗しました: %w", err)
			}
			llmClient = client
		}
	}

	if embedder == nil {
		options.logger.Debug("埋め込みプロバイダ未設定のため検索系サービスを構築しません")
		return c, nil
	}

	// Loader / Chunker / TokenCounter
	pageLoader := options.pageLoader
	if pageLoader == nil {
		pageLoader = pdf.NewLoader(pdf.WithLoaderLogger(options.logger))
	}

	var splitterOpts []chunk.SplitterOption
	if len(cfg.Index.Separators) > 0 {
		splitterOpts = append(splitterOpts, chunk.WithSeparators(cfg.Index.Separators...))
	}
	splitter, err := chunk.NewRecursiveSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap, splitterOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("Chunker 初期化に失敗しました: %w", err)
	}

	tokenCounter := options.tokenCounter
	if tokenCounter == nil {
		counter, err := newTokenCounter()
		if err != nil {
			// 取得できない場合はトークン数を数えない
			options.logger.Warn("TokenCounter 初期化に失敗しました", "error", err)
		} else {
			tokenCounter = counter
		}
	}

	// IndexService
	indexOpts := []coreingestion.IndexServiceOption{
		coreingestion.WithIndexLogger(options.logger),
		coreingestion.WithIndexCompletedHook(func(ctx context.Context, collection string, result *coreingestion.BuildResult) {
			c.CatalogService.Invalidate()
		}),
	}
	if tokenCounter != nil {
		indexOpts = append(indexOpts, coreingestion.WithIndexTokenCounter(tokenCounter))
	}
	c.IndexService = coreingestion.NewIndexService(pageLoader, splitter, embedder, store, indexOpts...)

	// SearchService
	c.SearchService = coresearch.NewSearchService(store, embedder, cfg.Index.Collection,
		coresearch.WithDefaultTopK(cfg.Retrieval.TopK),
		coresearch.WithSearchLogger(options.logger),
	)

	// AskService
	if llmClient != nil {
		c.AskService = coreask.NewAskService(c.SearchService, llmClient,
			coreask.WithTopK(cfg.Retrieval.TopK),
			coreask.WithHistoryTurns(cfg.Retrieval.HistoryTurns),
			coreask.WithSnippetLength(cfg.Retrieval.SnippetLength),
			coreask.WithTemperature(cfg.OpenAI.Temperature),
			coreask.WithAskLogger(options.logger),
		)
	}

	return c, nil
}

func (c *ServiceContainer) openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db := cfg.Store.Database
		pool, err := postgres.NewPool(ctx, postgres.ConnectionParams{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			DBName:   db.DBName,
			SSLMode:  db.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, pool.Close)

		store, err := postgres.NewStore(ctx, pool, cfg.OpenAI.EmbeddingDimension)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("ストア初期化に失敗しました: %w", err)
		}
		return store, nil

	default:
		store, err := sqlite.NewStore(cfg.Index.PersistDir)
		if err != nil {
			return nil, fmt.Errorf("ストア初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, func() { _ = store.Close() })
		c.logger.Debug("ストアを開きました", "backend", config.StoreBackendSQLite, "path", store.Path())
		return store, nil
	}
}

// RequireAskService は回答生成サービスを返す
// プロバイダが未設定の場合は config.ErrMissingAPIKey
func (c *ServiceContainer) RequireAskService() (*coreask.AskService, error) {
	if c == nil || c.AskService == nil {
		return nil, config.ErrMissingAPIKey
	}
	return c.AskService, nil
}

// RequireIndexService はインデックス構築サービスを返す
func (c *ServiceContainer) RequireIndexService() (*coreingestion.IndexService, error) {
	if c == nil || c.IndexService == nil {
		return nil, config.ErrMissingAPIKey
	}
	return c.IndexService, nil
}

// Close は内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// tokenCounter は tiktoken を利用した TokenCounter 実装
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func newTokenCounter() (*tokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &tokenCounter{encoding: enc}, nil
}

func (t *tokenCounter) CountTokens(text string) int {
	if t.encoding == nil {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// unavailableStore は開けなかったストアの代わりに使う
// 読み出しはすべて元のエラーを返す
type unavailableStore struct {
	err error
}

func (u unavailableStore) ReplaceCollection(context.Context, string, []coreingestion.IndexRecord) error {
	return u.err
}

func (u unavailableStore) Search(context.Context, string, []float32, int, mo.Option[coresearch.Filter]) ([]coresearch.Match, error) {
	return nil, u.err
}

func (u unavailableStore) ListMetadata(context.Context, string) ([]map[string]any, error) {
	return nil, u.err
}

func (u unavailableStore) CollectionGeneration(context.Context, string) (int64, error) {
	return 0, u.err
}

var (
	_ Store = unavailableStore{}
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)
