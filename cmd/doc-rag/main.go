package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/doc-rag/internal/app/cli"
	"github.com/jinford/doc-rag/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前のログ出力先
	logger.New(logger.DefaultConfig())

	app := &cli.Command{
		Name:  "doc-rag",
		Usage: "PDF文書を根拠に質問へ回答する RAG パイプライン",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "build",
						Usage: "PDFディレクトリからインデックスを再構築",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "dir",
								Usage: "PDFディレクトリ（省略時は RAG_RAW_DIR）",
							},
							&cli.StringFlag{
								Name:  "collection",
								Usage: "コレクション名（省略時は RAG_COLLECTION）",
							},
						},
						Action: appcli.IndexBuildAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "文書に対して質問する",
				ArgsUsage: "QUESTION",
				Flags: append(scopeFlags(),
					envFlag(),
					outputFlag(),
					&cli.BoolFlag{
						Name:  "no-citations",
						Usage: "引用を出力しない",
					},
					&cli.StringFlag{
						Name:  "history",
						Usage: "会話履歴ファイル（role/content の YAML または JSON 配列）",
					},
				),
				Action: appcli.AskAction,
			},
			{
				Name:   "catalog",
				Usage:  "インデックス済みのソース一覧とページ範囲を表示",
				Flags:  []cli.Flag{envFlag(), outputFlag()},
				Action: appcli.CatalogAction,
			},
			{
				Name:   "chat",
				Usage:  "ターミナルでチャットする",
				Flags:  append(scopeFlags(), envFlag()),
				Action: appcli.ChatAction,
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "addr",
								Usage: "待ち受けアドレス（省略時は HTTP_ADDR）",
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("コマンドの実行に失敗しました", "error", err)
		os.Exit(1)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "output",
		Usage: "出力形式（text / json / yaml）",
		Value: "text",
	}
}

func scopeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "source",
			Usage: "検索対象のファイル名（複数指定可）",
		},
		&cli.IntFlag{
			Name:  "page-from",
			Usage: "検索対象の開始ページ",
		},
		&cli.IntFlag{
			Name:  "page-to",
			Usage: "検索対象の終了ページ",
		},
	}
}
