package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/doc-rag/internal/core/search"
)

const (
	// DefaultHistoryTurns はプロンプトに含める会話履歴の最大件数のデフォルト値
	DefaultHistoryTurns = 6
	// DefaultTemperature は回答生成時の温度のデフォルト値
	DefaultTemperature = 0.2
)

// ChatRole はチャットメッセージの役割
type ChatRole string

const (
	ChatRoleSystem ChatRole = "system"
	ChatRoleUser   ChatRole = "user"
)

// ChatMessage はチャットモデルへ送る1メッセージ
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatRequest はチャットモデルへの1回の呼び出し
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
}

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	GenerateChat(ctx context.Context, req ChatRequest) (string, error)
}

// Retriever は質問に関連するチャンクを取得する
type Retriever interface {
	Retrieve(ctx context.Context, params search.RetrieveParams) ([]search.Match, error)
}

var _ Retriever = (*search.SearchService)(nil)

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	retriever      Retriever
	llm            LLMClient
	topK           int
	historyTurns   int
	historyEnabled bool
	snippetLength  int
	temperature    float64
	logger         *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// WithTopK は検索件数を設定する。0 以下は検索側のデフォルトに従う
func WithTopK(k int) AskServiceOption {
	return func(s *AskService) {
		s.topK = k
	}
}

// WithHistoryTurns はプロンプトに含める会話履歴の件数を設定する
func WithHistoryTurns(n int) AskServiceOption {
	return func(s *AskService) {
		s.historyTurns = n
	}
}

// WithHistoryEnabled は会話履歴を受け付けるかを設定する
func WithHistoryEnabled(enabled bool) AskServiceOption {
	return func(s *AskService) {
		s.historyEnabled = enabled
	}
}

// WithSnippetLength は引用スニペットの最大文字数を設定する
func WithSnippetLength(n int) AskServiceOption {
	return func(s *AskService) {
		s.snippetLength = n
	}
}

// WithTemperature は回答生成時の温度を設定する
func WithTemperature(t float64) AskServiceOption {
	return func(s *AskService) {
		s.temperature = t
	}
}

// NewAskService は新しいAskServiceを作成する
func NewAskService(
	retriever Retriever,
	llm LLMClient,
	opts ...AskServiceOption,
) *AskService {
	svc := &AskService{
		retriever:      retriever,
		llm:            llm,
		historyTurns:   DefaultHistoryTurns,
		historyEnabled: true,
		snippetLength:  DefaultSnippetLength,
		temperature:    DefaultTemperature,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.snippetLength <= 0 {
		svc.snippetLength = DefaultSnippetLength
	}

	return svc
}

// Ask は質問に対して文書のみを根拠とした回答と引用を生成する
// 関連チャンクが見つからない場合はモデルを呼ばずに定型回答を返す
func (s *AskService) Ask(ctx context.Context, params AskParams) (*AskResult, error) {
	// 1. バリデーション
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	// 2. 検索
	s.logger.Info("retrieving context",
		"topK", s.topK,
		"filtered", params.Filter.IsPresent(),
	)

	matches, err := s.retriever.Retrieve(ctx, search.RetrieveParams{
		Query:  question,
		K:      s.topK,
		Filter: params.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	s.logger.Info("retrieval completed", "matches", len(matches))

	if len(matches) == 0 {
		return &AskResult{
			Answer:    NotFoundAnswer,
			Citations: []Citation{},
		}, nil
	}

	// 3. プロンプト構築
	req := ChatRequest{
		Messages:    s.buildMessages(question, params.History, matches),
		Temperature: s.temperature,
	}

	// 4. LLMで回答生成
	s.logger.Info("generating answer with LLM", "messages", len(req.Messages))
	raw, err := s.llm.GenerateChat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := CleanAnswer(raw)
	citations := BuildCitations(matches, s.snippetLength)

	s.logger.Info("ask completed successfully",
		"answerLength", len(answer),
		"citations", len(citations),
	)

	return &AskResult{
		Answer:    answer,
		Citations: citations,
	}, nil
}

func (s *AskService) buildMessages(question string, history []Turn, matches []search.Match) []ChatMessage {
	messages := []ChatMessage{{Role: ChatRoleSystem, Content: SystemPrompt}}

	if s.historyEnabled {
		if msg := BuildHistoryMessage(history, s.historyTurns); msg != "" {
			messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: msg})
		}
	}

	messages = append(messages, ChatMessage{
		Role:    ChatRoleUser,
		Content: BuildUserPrompt(question, BuildContext(matches)),
	})
	return messages
}
