package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators は優先順位順の区切り文字
// 空文字列は1文字単位の分割を意味する
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

const (
	// DefaultChunkSize はチャンクの最大文字数のデフォルト値
	DefaultChunkSize = 1100
	// DefaultChunkOverlap は隣接チャンク間で共有する文字数のデフォルト値
	DefaultChunkOverlap = 200
)

// RecursiveSplitter は区切り文字を優先順位順に試しながらテキストを分割します
// サイズとオーバーラップは文字数（rune数）で数える
type RecursiveSplitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// SplitterOption は RecursiveSplitter のオプション設定
type SplitterOption func(*RecursiveSplitter)

// WithSeparators は区切り文字の優先順位を差し替えます
// 末尾に "" を含まない場合、どの区切り文字でも収まらない断片は文字数で切り出す
func WithSeparators(separators ...string) SplitterOption {
	return func(s *RecursiveSplitter) {
		s.separators = separators
	}
}

// NewRecursiveSplitter は新しいRecursiveSplitterを作成します
func NewRecursiveSplitter(chunkSize, overlap int, opts ...SplitterOption) (*RecursiveSplitter, error) {
	if chunkSize <= 0 {
		return nil, NewChunkerError("new", fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, NewChunkerError("new", fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, chunkSize, overlap))
	}
	s := &RecursiveSplitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.separators) == 0 {
		return nil, NewChunkerError("new", fmt.Errorf("%w: at least one separator is required", ErrInvalidConfig))
	}
	return s, nil
}

// ChunkSize は最大チャンクサイズを返します
func (s *RecursiveSplitter) ChunkSize() int { return s.chunkSize }

// Overlap はオーバーラップ文字数を返します
func (s *RecursiveSplitter) Overlap() int { return s.overlap }

// Split はテキストをチャンクサイズ以下の断片に分割します
// 空白のみのテキストは空のスライスを返す
func (s *RecursiveSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	return s.split(text, s.separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	// 最初に text 内に存在する区切り文字を選ぶ
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	pieces := splitKeep(text, separator)

	var out []string
	var pending []string
	for _, piece := range pieces {
		if runeLen(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, s.merge(pending, separator)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, s.hardSplit(piece)...)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(pending) > 0 {
		out = append(out, s.merge(pending, separator)...)
	}
	return out
}

// merge は小さな断片をチャンクサイズ以下のウィンドウにまとめます
// ウィンドウ確定時は末尾 overlap 文字以内の断片を次のウィンドウへ引き継ぐ
func (s *RecursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)

	var out []string
	var window []string
	total := 0

	for _, piece := range pieces {
		pieceLen := runeLen(piece)
		joinLen := 0
		if len(window) > 0 {
			joinLen = sepLen
		}

		if total+joinLen+pieceLen > s.chunkSize && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, separator)); doc != "" {
				out = append(out, doc)
			}
			// 末尾が overlap 以下になり、かつ次の断片が収まるまで先頭を捨てる
			for len(window) > 0 && (total > s.overlap || (total+sepLen+pieceLen > s.chunkSize && total > 0)) {
				total -= runeLen(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, piece)
		total += pieceLen
	}

	if doc := strings.TrimSpace(strings.Join(window, separator)); doc != "" {
		out = append(out, doc)
	}
	return out
}

// hardSplit は区切り文字が残っていない断片を文字数で切り出します
// 区切り文字の一覧が "" で終わらない場合にだけ使われる
func (s *RecursiveSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.chunkSize - s.overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+s.chunkSize, len(runes))
		if doc := strings.TrimSpace(string(runes[start:end])); doc != "" {
			out = append(out, doc)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// splitKeep は区切り文字で分割し、空の断片を除きます
// 区切り文字が空の場合は1文字ずつに分割する
func splitKeep(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.Split(text, separator) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
