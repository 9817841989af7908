package ask

import (
	"errors"

	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/samber/mo"
)

// NotFoundAnswer は文書から回答できない場合の定型回答
const NotFoundAnswer = "I don't know based on the provided documents."

// ErrEmptyQuestion は質問文が空の場合のエラー
var ErrEmptyQuestion = errors.New("question is required")

// Role は会話履歴の発話者
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn は会話履歴の1発話
// 履歴は呼び出し側が保持し、古い順に渡す
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Question string                   // ユーザーの質問文
	History  []Turn                   // 直前までの会話（任意）
	Filter   mo.Option[search.Filter] // 検索対象の絞り込み（任意）
}

// Citation は回答の根拠となったページ
type Citation struct {
	Source  string `json:"source" yaml:"source"`
	Page    int    `json:"page" yaml:"page"`
	Snippet string `json:"snippet" yaml:"snippet"`
}

// AskResult は質問応答の結果を表す
// 回答と引用は常に組で返す
type AskResult struct {
	Answer    string     `json:"answer" yaml:"answer"`
	Citations []Citation `json:"citations" yaml:"citations"`
}
