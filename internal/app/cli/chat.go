package cli

import (
	"context"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/interface/tui"
)

// ChatAction はターミナルのチャット画面を起動するコマンドのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, RequireAPIKey())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	askService, err := appCtx.Container.RequireAskService()
	if err != nil {
		return err
	}

	return tui.Run(ctx, askService, appCtx.Container.CatalogService, scopeFromFlags(cmd))
}

func scopeFromFlags(cmd *cli.Command) tui.Scope {
	scope := tui.Scope{PageFrom: mo.None[int](), PageTo: mo.None[int]()}
	for _, s := range cmd.StringSlice("source") {
		if s = strings.TrimSpace(s); s != "" {
			scope.Sources = append(scope.Sources, s)
		}
	}
	if cmd.IsSet("page-from") {
		scope.PageFrom = mo.Some(int(cmd.Int("page-from")))
	}
	if cmd.IsSet("page-to") {
		scope.PageTo = mo.Some(int(cmd.Int("page-to")))
	}
	return scope
}
