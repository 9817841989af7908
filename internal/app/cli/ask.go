package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	coresearch "github.com/jinford/doc-rag/internal/core/search"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	output := strings.ToLower(cmd.String("output"))
	showCitations := !cmd.Bool("no-citations")
	historyFile := cmd.String("history")

	question := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}
	if err := validateOutput(output); err != nil {
		return err
	}
	filter := filterFromFlags(cmd)

	history, err := loadHistory(historyFile)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile, RequireAPIKey())
	if err != nil {
		return err
	}
	defer appCtx.Close()

	appCtx.Logger().Info("質問応答を開始",
		"question", question,
		"historyTurns", len(history),
		"filtered", filter.IsPresent(),
	)

	askService, err := appCtx.Container.RequireAskService()
	if err != nil {
		return err
	}

	result, err := askService.Ask(ctx, coreask.AskParams{
		Question: question,
		History:  history,
		Filter:   filter,
	})
	if err != nil {
		appCtx.Logger().Error("質問応答に失敗しました", "error", err)
		return err
	}

	return WriteAskResult(os.Stdout, output, result, showCitations)
}

// filterFromFlags は --source / --page-from / --page-to から検索フィルタを組み立てます
func filterFromFlags(cmd *cli.Command) mo.Option[coresearch.Filter] {
	return scopeFromFlags(cmd).Filter()
}

// loadHistory は会話履歴ファイル（YAML または JSON の Turn 配列）を読み込みます
func loadHistory(path string) ([]coreask.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("会話履歴ファイルの読み込みに失敗: %w", err)
	}

	var turns []coreask.Turn
	if err := yaml.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("会話履歴ファイルの解析に失敗: %w", err)
	}
	for i, t := range turns {
		if t.Role != coreask.RoleUser && t.Role != coreask.RoleAssistant {
			return nil, fmt.Errorf("会話履歴 %d 件目の role が不正です: %q", i+1, t.Role)
		}
	}
	return turns, nil
}
