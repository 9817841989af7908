package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingAPIKey は埋め込み/チャットプロバイダの認証情報が未設定の場合のエラー
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY missing: put it in your .env file or environment")

	// ErrInvalidConfig は設定値が不正な場合のエラー
	ErrInvalidConfig = errors.New("invalid config")
)

const (
	// StoreBackendSQLite はローカルディレクトリに永続化するストア
	StoreBackendSQLite = "sqlite"
	// StoreBackendPostgres は Postgres + pgvector を使うストア
	StoreBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// OpenAI設定（Embeddings + Chat）
	OpenAI OpenAIConfig

	// 取り込み・インデックス設定
	Index IndexConfig

	// 検索・回答生成設定
	Retrieval RetrievalConfig

	// ベクトルストア設定
	Store StoreConfig

	// ログ設定
	Log LogConfig

	// HTTPサーバ設定
	HTTPAddr string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingRPS       float64 // 0 の場合はレート制御なし
	ChatModel          string
	Temperature        float64
	ChatTimeout        time.Duration // 0 の場合はプロバイダ側の制限のみ
}

// IndexConfig は取り込みとチャンク分割の設定
type IndexConfig struct {
	RawDir       string
	PersistDir   string
	Collection   string
	ChunkSize    int
	ChunkOverlap int
	Separators   []string // 空の場合は既定の区切り文字
}

// RetrievalConfig は検索と回答生成の設定
type RetrievalConfig struct {
	TopK          int
	HistoryTurns  int
	SnippetLength int
	CatalogTTL    time.Duration
}

// StoreConfig はベクトルストアのバックエンド設定
type StoreConfig struct {
	Backend  string // "sqlite" or "postgres"
	Database DatabaseConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			EmbeddingRPS:       getEnvAsFloat("OPENAI_EMBEDDING_RPS", 0),
			ChatModel:          getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			Temperature:        getEnvAsFloat("OPENAI_CHAT_TEMPERATURE", 0.2),
			ChatTimeout:        getEnvAsDuration("OPENAI_CHAT_TIMEOUT", 0),
		},
		Index: IndexConfig{
			RawDir:       getEnv("RAG_RAW_DIR", "data/raw"),
			PersistDir:   getEnv("RAG_PERSIST_DIR", "data/index"),
			Collection:   getEnv("RAG_COLLECTION", "genpact_rag"),
			ChunkSize:    getEnvAsInt("RAG_CHUNK_SIZE", 1100),
			ChunkOverlap: getEnvAsInt("RAG_CHUNK_OVERLAP", 200),
		},
		Retrieval: RetrievalConfig{
			TopK:          getEnvAsInt("RAG_TOP_K", 6),
			HistoryTurns:  getEnvAsInt("RAG_HISTORY_TURNS", 6),
			SnippetLength: getEnvAsInt("RAG_SNIPPET_LENGTH", 220),
			CatalogTTL:    getEnvAsDuration("RAG_CATALOG_TTL", 5*time.Minute),
		},
		Store: StoreConfig{
			Backend: getEnv("RAG_STORE_BACKEND", StoreBackendSQLite),
			Database: DatabaseConfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvAsInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "docrag"),
				Password: getEnv("DB_PASSWORD", ""),
				DBName:   getEnv("DB_NAME", "docrag"),
				SSLMode:  getEnv("DB_SSLMODE", "disable"),
			},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
	}

	separators, err := getEnvAsSeparators("RAG_CHUNK_SEPARATORS")
	if err != nil {
		return nil, err
	}
	cfg.Index.Separators = separators

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
// APIキーの有無はここでは検証しない（catalog のように不要なコマンドもあるため）
func (c *Config) Validate() error {
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("%w: RAG_CHUNK_SIZE must be positive, got %d", ErrInvalidConfig, c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("%w: RAG_CHUNK_OVERLAP must be in [0, %d), got %d", ErrInvalidConfig, c.Index.ChunkSize, c.Index.ChunkOverlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: RAG_TOP_K must be positive, got %d", ErrInvalidConfig, c.Retrieval.TopK)
	}
	if c.Retrieval.HistoryTurns < 0 {
		return fmt.Errorf("%w: RAG_HISTORY_TURNS must not be negative, got %d", ErrInvalidConfig, c.Retrieval.HistoryTurns)
	}
	if c.Index.Collection == "" {
		return fmt.Errorf("%w: RAG_COLLECTION must not be empty", ErrInvalidConfig)
	}
	switch c.Store.Backend {
	case StoreBackendSQLite, StoreBackendPostgres:
	default:
		return fmt.Errorf("%w: unknown RAG_STORE_BACKEND %q", ErrInvalidConfig, c.Store.Backend)
	}
	return nil
}

// RequireAPIKey は認証情報が設定されているかを確認します
// I/O を伴う処理の前に呼び出すこと
func (c *Config) RequireAPIKey() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeparators は区切り文字の一覧を取得します
// 値は "|" 区切りで、各要素は Go の文字列エスケープ（\n など）を解釈する
func getEnvAsSeparators(key string) ([]string, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil, nil
	}
	items := strings.Split(valueStr, "|")
	separators := make([]string, 0, len(items))
	for _, item := range items {
		sep, err := strconv.Unquote(`"` + item + `"`)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: invalid separator %q", ErrInvalidConfig, key, item)
		}
		separators = append(separators, sep)
	}
	return separators, nil
}
