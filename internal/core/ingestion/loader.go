package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	maxLoggedFailures     = 10
	maxFailureMessageRune = 160
)

// CheckSourceDir は dir が存在するディレクトリかを確認します
func CheckSourceDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceDirNotFound, dir)
		}
		return fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrSourceDirNotFound, dir)
	}
	return nil
}

// LoadDirectory はディレクトリ直下の対象ファイルをページ単位で読み込みます
// 1ファイルの失敗は LoadFailure として記録し、残りの処理を続ける
func LoadDirectory(ctx context.Context, dir string, loader PageLoader, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := CheckSourceDir(dir); err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	extensions := loader.Extensions()
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if slices.Contains(extensions, ext) {
			files = append(files, entry.Name())
		}
	}
	slices.Sort(files)

	logger.Info("ドキュメントを検出", "dir", absDir, "files", len(files))

	result := &LoadResult{
		Pages:     []PageUnit{},
		Failures:  []LoadFailure{},
		FileCount: len(files),
	}
	loaded := 0

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(absDir, name)
		pages, err := loadOne(ctx, loader, path)
		if err != nil {
			result.Failures = append(result.Failures, LoadFailure{
				FileName: name,
				Message:  err.Error(),
			})
			continue
		}

		for _, page := range pages {
			page.Metadata.Source = name
			page.Metadata.FilePath = path
			result.Pages = append(result.Pages, page)
		}
		loaded++
	}

	logger.Info("ドキュメントの読み込み完了",
		"filesFound", len(files),
		"filesLoaded", loaded,
		"pagesLoaded", len(result.Pages),
		"failures", len(result.Failures),
	)
	for i, f := range result.Failures {
		if i >= maxLoggedFailures {
			logger.Warn("読み込み失敗の表示を省略", "remaining", len(result.Failures)-maxLoggedFailures)
			break
		}
		logger.Warn("ドキュメントの読み込みに失敗", "file", f.FileName, "error", truncate(f.Message, maxFailureMessageRune))
	}

	return result, nil
}

// loadOne はローダーのpanicをエラーに変換して1ファイルを読み込みます
func loadOne(ctx context.Context, loader PageLoader, path string) (pages []PageUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return loader.Load(ctx, path)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
