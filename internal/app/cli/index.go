package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	coreingestion "github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/platform/config"
)

// IndexBuildAction はPDFディレクトリからインデックスを再構築するコマンドのアクション
func IndexBuildAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	sourceDir := cmd.String("dir")

	appCtx, err := NewAppContext(ctx, envFile,
		RequireAPIKey(),
		WithPrecheck(resolveSourceDir(&sourceDir)),
	)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	collection := cmd.String("collection")
	if collection == "" {
		collection = appCtx.Config.Index.Collection
	}

	indexService, err := appCtx.Container.RequireIndexService()
	if err != nil {
		return err
	}

	appCtx.Logger().Info("インデックス構築を開始",
		"dir", sourceDir,
		"collection", collection,
		"backend", appCtx.Config.Store.Backend,
	)

	result, err := indexService.Build(ctx, coreingestion.BuildParams{
		SourceDir:  sourceDir,
		Collection: collection,
	})
	if err != nil {
		appCtx.Logger().Error("インデックス構築に失敗しました", "error", err)
		return err
	}

	if result.ChunkCount == 0 {
		fmt.Printf("No indexable text found in %s (%d pages); the existing index was left unchanged.\n", sourceDir, result.PageCount)
		return nil
	}

	fmt.Printf("Indexed %d pages into %d chunks (collection %q) in %s\n",
		result.PageCount, result.ChunkCount, collection, result.Duration.Round(time.Millisecond))
	if result.TokenCount > 0 {
		fmt.Printf("Embedded tokens: %d\n", result.TokenCount)
	}
	if len(result.Failures) > 0 {
		fmt.Printf("%d file(s) could not be read:\n", len(result.Failures))
		for _, f := range result.Failures {
			fmt.Printf("  - %s: %s\n", f.FileName, f.Message)
		}
	}
	return nil
}

// resolveSourceDir は未指定の場合に RAG_RAW_DIR を補い、存在を確認する
// ストアのディレクトリを作る前に呼ぶ
func resolveSourceDir(dir *string) func(*config.Config) error {
	return func(cfg *config.Config) error {
		if *dir == "" {
			*dir = cfg.Index.RawDir
		}
		return coreingestion.CheckSourceDir(*dir)
	}
}
