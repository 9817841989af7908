package chunk

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecursiveSplitter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecursiveSplitter(tt.size, tt.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var chunkerErr *ChunkerError
			assert.ErrorAs(t, err, &chunkerErr)
		})
	}
}

func TestRecursiveSplitter_ShortTextIsSingleChunk(t *testing.T) {
	s, err := NewRecursiveSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	text := strings.Repeat("a", 500)
	chunks := s.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestRecursiveSplitter_WhitespaceOnly(t *testing.T) {
	s, err := NewRecursiveSplitter(100, 10)
	require.NoError(t, err)

	assert.Empty(t, s.Split("   \n\n  \t "))
	assert.Empty(t, s.Split(""))
}

func TestRecursiveSplitter_RespectsSizeAndCoversText(t *testing.T) {
	s, err := NewRecursiveSplitter(1100, 200)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 400; i++ {
		b.WriteString("word")
		b.WriteString(strings.Repeat("x", i%7))
		if i%25 == 24 {
			b.WriteString("\n\n")
		} else if i%9 == 8 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	text := b.String()

	chunks := s.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 1100)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}

	// 空白以外の文字はすべていずれかのチャンクに含まれる
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
}

func TestRecursiveSplitter_AdjacentChunksOverlap(t *testing.T) {
	s, err := NewRecursiveSplitter(1100, 200)
	require.NoError(t, err)

	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, "w"+strings.Repeat("y", i%5)+string(rune('a'+i%26)))
	}
	text := strings.Join(words, " ")

	chunks := s.Split(text)
	require.GreaterOrEqual(t, len(chunks), 3)

	for i := 1; i < len(chunks); i++ {
		prevFields := strings.Fields(chunks[i-1])
		lastWord := prevFields[len(prevFields)-1]
		assert.Contains(t, chunks[i], lastWord, "chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestRecursiveSplitter_LongTokenFallsBackToCharacters(t *testing.T) {
	s, err := NewRecursiveSplitter(100, 20)
	require.NoError(t, err)

	text := strings.Repeat("z", 450)
	chunks := s.Split(text)

	require.GreaterOrEqual(t, len(chunks), 5)
	total := 0
	for _, c := range chunks {
		n := utf8.RuneCountInString(c)
		assert.LessOrEqual(t, n, 100)
		total += n
	}
	assert.GreaterOrEqual(t, total, 450)
}

func TestRecursiveSplitter_CountsRunesNotBytes(t *testing.T) {
	s, err := NewRecursiveSplitter(10, 0)
	require.NoError(t, err)

	chunks := s.Split("日本語の文章を分割する テスト です")
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}

// uniqueWords は重複しない英小文字の単語を n 個生成する
func uniqueWords(rng *rand.Rand, n, maxLen int) []string {
	seen := make(map[string]struct{}, n)
	words := make([]string, 0, n)
	for len(words) < n {
		length := 1 + rng.IntN(maxLen)
		b := make([]byte, length)
		for i := range b {
			b[i] = byte('a' + rng.IntN(26))
		}
		w := string(b)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

// wordSpan はチャンクに含まれる単語の位置を返し、連続していることを確認する
func wordSpan(t *testing.T, chunk string, index map[string]int) (int, int) {
	t.Helper()
	fields := strings.Fields(chunk)
	require.NotEmpty(t, fields)

	first, ok := index[fields[0]]
	require.True(t, ok, "unknown word %q", fields[0])
	for i, f := range fields {
		pos, ok := index[f]
		require.True(t, ok, "unknown word %q", f)
		require.Equal(t, first+i, pos, "words in chunk %q are not contiguous", chunk)
	}
	return first, first + len(fields) - 1
}

func TestRecursiveSplitter_RandomTextIsCoveredInOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(20240611, 7))
	separators := []string{" ", " ", " ", "\n", "\n\n", "  "}

	for tc := 0; tc < 1000; tc++ {
		chunkSize := 5 + rng.IntN(196)
		overlap := rng.IntN(chunkSize)
		maxWordLen := min(8, chunkSize)
		words := uniqueWords(rng, 1+rng.IntN(150), maxWordLen)

		var b strings.Builder
		for i, w := range words {
			if i > 0 {
				b.WriteString(separators[rng.IntN(len(separators))])
			}
			b.WriteString(w)
		}
		text := b.String()

		index := make(map[string]int, len(words))
		for i, w := range words {
			index[w] = i
		}

		t.Run(fmt.Sprintf("case%d_size%d_overlap%d", tc, chunkSize, overlap), func(t *testing.T) {
			s, err := NewRecursiveSplitter(chunkSize, overlap)
			require.NoError(t, err)

			chunks := s.Split(text)
			require.NotEmpty(t, chunks)

			prevStart, prevEnd := -1, -1
			for i, c := range chunks {
				require.LessOrEqual(t, utf8.RuneCountInString(c), chunkSize)

				start, end := wordSpan(t, c, index)
				if i == 0 {
					require.Equal(t, 0, start, "first chunk must start at the beginning")
				} else {
					require.Greater(t, start, prevStart, "chunk %d does not advance", i)
					require.Greater(t, end, prevEnd, "chunk %d does not advance", i)
					require.LessOrEqual(t, start, prevEnd+1, "gap before chunk %d", i)
				}
				prevStart, prevEnd = start, end
			}
			require.Equal(t, len(words)-1, prevEnd, "last chunk must reach the end")
		})
	}
}

func TestRecursiveSplitter_OverlapCarriesTail(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 99))

	for tc := 0; tc < 200; tc++ {
		const maxWordLen = 6
		overlap := maxWordLen + rng.IntN(60)
		chunkSize := overlap + maxWordLen + 1 + rng.IntN(100)
		words := uniqueWords(rng, 50+rng.IntN(200), maxWordLen)
		text := strings.Join(words, " ")

		index := make(map[string]int, len(words))
		for i, w := range words {
			index[w] = i
		}

		t.Run(fmt.Sprintf("case%d_size%d_overlap%d", tc, chunkSize, overlap), func(t *testing.T) {
			s, err := NewRecursiveSplitter(chunkSize, overlap)
			require.NoError(t, err)

			chunks := s.Split(text)
			for i := 1; i < len(chunks); i++ {
				_, prevEnd := wordSpan(t, chunks[i-1], index)
				start, _ := wordSpan(t, chunks[i], index)
				require.LessOrEqual(t, start, prevEnd, "chunk %d shares nothing with chunk %d", i, i-1)

				shared := strings.Join(words[start:prevEnd+1], " ")
				n := utf8.RuneCountInString(shared)
				assert.LessOrEqual(t, n, overlap)
				assert.GreaterOrEqual(t, n, overlap-maxWordLen)
			}
		})
	}
}

func TestRecursiveSplitter_CustomSeparatorsWithoutCharacterFallback(t *testing.T) {
	s, err := NewRecursiveSplitter(100, 20, WithSeparators("\n", " "))
	require.NoError(t, err)

	long := strings.Repeat("a", 250)
	chunks := s.Split(long + " tail")

	require.Len(t, chunks, 4)
	assert.Equal(t, strings.Repeat("a", 100), chunks[0])
	assert.Equal(t, strings.Repeat("a", 100), chunks[1])
	assert.Equal(t, strings.Repeat("a", 90), chunks[2])
	assert.Equal(t, "tail", chunks[3])
}

func TestNewRecursiveSplitter_EmptySeparators(t *testing.T) {
	_, err := NewRecursiveSplitter(100, 10, WithSeparators())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
