package catalog

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/mo"
)

// DefaultTTL はカタログのキャッシュ有効期間のデフォルト値
const DefaultTTL = 5 * time.Minute

// Catalog はコレクション内のソース一覧とページ範囲
type Catalog struct {
	Sources []string
	MinPage mo.Option[int]
	MaxPage mo.Option[int]
}

// MetadataReader はコレクション内の全レコードのメタデータを読み出します
type MetadataReader interface {
	ListMetadata(ctx context.Context, collection string) ([]map[string]any, error)
}

// GenerationReader はストアに記録されたコレクションの構築世代を返します
// コレクションが存在しない場合は 0
type GenerationReader interface {
	CollectionGeneration(ctx context.Context, collection string) (int64, error)
}

// Service はメタデータカタログを提供する
// 結果は TTL と世代番号でキャッシュし、Invalidate で破棄する
// GenerationReader を設定した場合、他プロセスでの再構築もストアの世代で検知する
type Service struct {
	reader      MetadataReader
	generations GenerationReader
	collection  string
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu         sync.Mutex
	generation uint64
	cached     *cacheEntry
}

type cacheEntry struct {
	catalog         Catalog
	generation      uint64
	storeGeneration mo.Option[int64]
	expiresAt       time.Time
}

type serviceOptions struct {
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger
	generations GenerationReader
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithTTL はキャッシュ有効期間を設定する。0 以下の場合はキャッシュしない
func WithTTL(ttl time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		o.ttl = ttl
	}
}

// WithClock は現在時刻の取得関数を差し替える
func WithClock(now func() time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.now = now
	}
}

// WithCatalogLogger は Service にロガーを設定する
func WithCatalogLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithGenerationReader はストアの構築世代を読む GenerationReader を設定する
func WithGenerationReader(r GenerationReader) ServiceOption {
	return func(o *serviceOptions) {
		o.generations = r
	}
}

// NewService は新しいServiceを作成する
func NewService(reader MetadataReader, collection string, opts ...ServiceOption) *Service {
	options := serviceOptions{
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.now == nil {
		options.now = time.Now
	}

	return &Service{
		reader:      reader,
		generations: options.generations,
		collection:  collection,
		ttl:         options.ttl,
		now:         options.now,
		logger:      options.logger,
	}
}

// Get はカタログを返す
// 読み出しに失敗した場合は警告を記録して空のカタログを返す
func (s *Service) Get(ctx context.Context) Catalog {
	storeGeneration := s.storeGeneration(ctx)

	s.mu.Lock()
	generation := s.generation
	if c := s.cached; c != nil && c.generation == generation && s.now().Before(c.expiresAt) &&
		c.storeGeneration.IsPresent() == storeGeneration.IsPresent() &&
		c.storeGeneration.OrEmpty() == storeGeneration.OrEmpty() {
		s.mu.Unlock()
		return c.catalog
	}
	s.mu.Unlock()

	records, err := s.reader.ListMetadata(ctx, s.collection)
	if err != nil {
		s.logger.Warn("メタデータカタログの読み出しに失敗", "collection", s.collection, "error", err)
		return Empty()
	}

	catalog := Build(records)

	s.mu.Lock()
	// 読み出し中に Invalidate された場合は結果を保存しない
	if s.ttl > 0 && s.generation == generation {
		s.cached = &cacheEntry{
			catalog:         catalog,
			generation:      generation,
			storeGeneration: storeGeneration,
			expiresAt:       s.now().Add(s.ttl),
		}
	}
	s.mu.Unlock()

	return catalog
}

// storeGeneration はストアの構築世代を読む
// 未設定または読めない場合は None を返す
func (s *Service) storeGeneration(ctx context.Context) mo.Option[int64] {
	if s.generations == nil {
		return mo.None[int64]()
	}
	g, err := s.generations.CollectionGeneration(ctx, s.collection)
	if err != nil {
		s.logger.Warn("コレクションの構築世代の読み出しに失敗", "collection", s.collection, "error", err)
		return mo.None[int64]()
	}
	return mo.Some(g)
}

// Invalidate はキャッシュを破棄する
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cached = nil
}

// Empty は空のカタログを返す
func Empty() Catalog {
	return Catalog{
		Sources: []string{},
		MinPage: mo.None[int](),
		MaxPage: mo.None[int](),
	}
}

// Build はメタデータの一覧からカタログを作る
// 数値として解釈できない page は無視する
func Build(records []map[string]any) Catalog {
	catalog := Empty()
	seen := make(map[string]struct{})

	for _, md := range records {
		if source, ok := md["source"].(string); ok && source != "" {
			if _, dup := seen[source]; !dup {
				seen[source] = struct{}{}
				catalog.Sources = append(catalog.Sources, source)
			}
		}

		page, ok := numericPage(md["page"])
		if !ok {
			continue
		}
		if cur, ok := catalog.MinPage.Get(); !ok || page < cur {
			catalog.MinPage = mo.Some(page)
		}
		if cur, ok := catalog.MaxPage.Get(); !ok || page > cur {
			catalog.MaxPage = mo.Some(page)
		}
	}

	slices.Sort(catalog.Sources)
	return catalog
}

func numericPage(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
