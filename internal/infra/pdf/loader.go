package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/ledongthuc/pdf"
)

// Loader は PDF をページ単位のテキストに変換する
type Loader struct {
	logger *slog.Logger
}

// LoaderOption は Loader のオプション設定
type LoaderOption func(*Loader)

// WithLoaderLogger は Loader にロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader は新しい Loader を作成する
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Extensions は対象とする拡張子を返す
func (l *Loader) Extensions() []string {
	return []string{".pdf"}
}

// Load は PDF の各ページからテキストを抽出する
// テキストが空のページは含めない。ページ番号は1始まり
func (l *Loader) Load(ctx context.Context, path string) (pages []ingestion.PageUnit, err error) {
	// 壊れたPDFでパーサがpanicすることがある
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("failed to parse PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages = make([]ingestion.PageUnit, 0, total)
	for num := 1; num <= total; num++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", num, err)
		}
		if strings.TrimSpace(text) == "" {
			l.logger.Debug("テキストのないページをスキップ", "path", path, "page", num)
			continue
		}

		pages = append(pages, ingestion.PageUnit{
			Content:  text,
			Metadata: ingestion.PageMetadata{Page: num},
		})
	}

	return pages, nil
}

// インターフェース実装の確認
var _ ingestion.PageLoader = (*Loader)(nil)
