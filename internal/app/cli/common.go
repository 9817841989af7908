package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/container"
	"github.com/jinford/doc-rag/internal/platform/logger"
)

// AppContext はCLIコマンド実行時の共通コンテキスト
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
	logger    *slog.Logger
}

type appOptions struct {
	requireAPIKey   bool
	bestEffortStore bool
	precheck        func(*config.Config) error
}

// AppOption は AppContext 構築時のオプション
type AppOption func(*appOptions)

// RequireAPIKey は I/O を伴う処理の前にAPIキーの有無を確認する
func RequireAPIKey() AppOption {
	return func(o *appOptions) {
		o.requireAPIKey = true
	}
}

// BestEffortStore はストアを開けない場合も空のストアで続行する
func BestEffortStore() AppOption {
	return func(o *appOptions) {
		o.bestEffortStore = true
	}
}

// WithPrecheck はストアを開く前に設定を使った確認を行う
func WithPrecheck(check func(*config.Config) error) AppOption {
	return func(o *appOptions) {
		o.precheck = check
	}
}

// NewAppContext は設定読み込み、ロガー初期化、依存関係の構築を行います
func NewAppContext(ctx context.Context, envFile string, opts ...AppOption) (*AppContext, error) {
	var options appOptions
	for _, opt := range opts {
		opt(&options)
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if options.requireAPIKey {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
	}
	if options.precheck != nil {
		if err := options.precheck(cfg); err != nil {
			return nil, err
		}
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	containerOpts := []container.ContainerOption{container.WithContainerLogger(appLogger)}
	if options.bestEffortStore {
		containerOpts = append(containerOpts, container.WithContainerBestEffortStore())
	}

	c, err := container.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		return nil, fmt.Errorf("依存関係の初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: c,
		logger:    appLogger,
	}, nil
}

// Close はリソースをクリーンアップします
func (a *AppContext) Close() {
	if a.Container != nil {
		a.Container.Close()
	}
}

// Logger はアプリケーションロガーを返します
func (a *AppContext) Logger() *slog.Logger {
	return a.logger
}
