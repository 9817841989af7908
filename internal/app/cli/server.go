package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/interface/httpapi"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile, RequireAPIKey())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = appCtx.Config.HTTPAddr
	}

	askService, err := appCtx.Container.RequireAskService()
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(askService, appCtx.Container.CatalogService, appCtx.Logger())
	return httpapi.Serve(ctx, addr, handler.Routes(), appCtx.Logger())
}
