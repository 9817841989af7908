package cli

import (
	"context"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
)

// CatalogAction はインデックス済みのソース一覧とページ範囲を表示するコマンドのアクション
// APIキーは不要。ストアを開けない場合は空のカタログを表示する
func CatalogAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	output := strings.ToLower(cmd.String("output"))
	if err := validateOutput(output); err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile, BestEffortStore())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	return WriteCatalog(os.Stdout, output, appCtx.Container.CatalogService.Get(ctx))
}
