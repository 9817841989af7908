package ask

import (
	"strings"

	"github.com/jinford/doc-rag/internal/core/search"
)

// DefaultSnippetLength は引用スニペットの最大文字数のデフォルト値
const DefaultSnippetLength = 220

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// BuildCitations は検索結果から引用を作る
// (source, page) が重複する結果は最初の1件のみ残す
func BuildCitations(matches []search.Match, snippetLength int) []Citation {
	type key struct {
		source string
		page   int
	}

	citations := make([]Citation, 0, len(matches))
	seen := make(map[key]struct{}, len(matches))
	for _, m := range matches {
		k := key{source: m.Metadata.Source, page: m.Metadata.Page}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		citations = append(citations, Citation{
			Source:  m.Metadata.Source,
			Page:    m.Metadata.Page,
			Snippet: Snippet(m.Content, snippetLength),
		})
	}
	return citations
}

// Snippet は先頭 n 文字を改行を空白に置き換えて返す
func Snippet(text string, n int) string {
	runes := []rune(text)
	if n > 0 && len(runes) > n {
		runes = runes[:n]
	}
	return newlineReplacer.Replace(string(runes))
}
