package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/mo"
)

// DefaultTopK は K 未指定時の取得件数
const DefaultTopK = 6

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchService は検索のビジネスロジックを提供する
type SearchService struct {
	repo       Repository
	embedder   Embedder
	collection string
	defaultK   int
	logger     *slog.Logger
}

type searchServiceOptions struct {
	defaultK int
	logger   *slog.Logger
}

// SearchServiceOption は SearchService のオプション設定
type SearchServiceOption func(*searchServiceOptions)

// WithDefaultTopK は K 未指定時の取得件数を設定する
func WithDefaultTopK(k int) SearchServiceOption {
	return func(o *searchServiceOptions) {
		o.defaultK = k
	}
}

// WithSearchLogger は SearchService にロガーを設定する
func WithSearchLogger(logger *slog.Logger) SearchServiceOption {
	return func(o *searchServiceOptions) {
		o.logger = logger
	}
}

// NewSearchService は新しいSearchServiceを作成する
func NewSearchService(repo Repository, embedder Embedder, collection string, opts ...SearchServiceOption) *SearchService {
	options := searchServiceOptions{
		defaultK: DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.defaultK <= 0 {
		options.defaultK = DefaultTopK
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &SearchService{
		repo:       repo,
		embedder:   embedder,
		collection: collection,
		defaultK:   options.defaultK,
		logger:     options.logger,
	}
}

// RetrieveParams は検索パラメータを表す
type RetrieveParams struct {
	Query  string
	K      int
	Filter mo.Option[Filter]
}

// Retrieve はクエリに近いチャンクを類似度順に最大 K 件返す
// 該当がない場合は空のスライスを返す
func (s *SearchService) Retrieve(ctx context.Context, params RetrieveParams) ([]Match, error) {
	// バリデーション
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	// デフォルトのK設定
	k := params.K
	if k <= 0 {
		k = s.defaultK
	}

	// クエリをEmbeddingに変換
	queryVector, err := s.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.repo.Search(ctx, s.collection, queryVector, k, params.Filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	if len(matches) > k {
		matches = matches[:k]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	if matches == nil {
		matches = []Match{}
	}

	s.logger.Debug("retrieval completed",
		"collection", s.collection,
		"k", k,
		"filtered", params.Filter.IsPresent(),
		"matches", len(matches),
	)

	return matches, nil
}
