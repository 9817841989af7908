package sqlite

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jinford/doc-rag/internal/core/ask"
	"github.com/jinford/doc-rag/internal/core/catalog"
	"github.com/jinford/doc-rag/internal/core/ingestion"
	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder は単語のハッシュによる決定的な埋め込みを返す
type hashEmbedder struct{}

const hashDims = 64

func (hashEmbedder) vector(text string) []float32 {
	v := make([]float32, hashDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,?!%")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		v[h.Sum32()%hashDims]++
	}
	return v
}

func (e hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e hashEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (hashEmbedder) MaxBatchSize() int { return 8 }

// textLoader は ".txt" ファイルを1ページの文書として読み込む
type textLoader struct{}

func (textLoader) Extensions() []string { return []string{".txt"} }

func (textLoader) Load(ctx context.Context, path string) ([]ingestion.PageUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []ingestion.PageUnit
	for i, text := range strings.Split(string(data), "\f") {
		pages = append(pages, ingestion.PageUnit{Content: text, Metadata: ingestion.PageMetadata{Page: i + 1}})
	}
	return pages, nil
}

// echoLLM はコンテキストの先頭ブロックの本文を回答として返す
type echoLLM struct{ calls int }

func (l *echoLLM) GenerateChat(ctx context.Context, req ask.ChatRequest) (string, error) {
	l.calls++
	prompt := req.Messages[len(req.Messages)-1].Content
	_, ctxBlock, _ := strings.Cut(prompt, "CONTEXT:\n")
	lines := strings.Split(ctxBlock, "\n")
	return lines[1] + "\nSources: [1]", nil
}

func TestEndToEnd_IndexThenAsk(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rawDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "report.txt"),
		[]byte("Introduction to the annual report.\fRevenue grew 12% in 2023 driven by services."), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "handbook.txt"),
		[]byte("Employees receive twenty days of paid leave."), 0o600))

	store, err := NewStore(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	defer store.Close()

	splitter, err := chunk.NewRecursiveSplitter(chunk.DefaultChunkSize, chunk.DefaultChunkOverlap)
	require.NoError(t, err)

	catalogService := catalog.NewService(store, "genpact_rag", catalog.WithCatalogLogger(logger))
	assert.Empty(t, catalogService.Get(ctx).Sources)

	indexService := ingestion.NewIndexService(textLoader{}, splitter, hashEmbedder{}, store,
		ingestion.WithIndexLogger(logger),
		ingestion.WithIndexCompletedHook(func(context.Context, string, *ingestion.BuildResult) {
			catalogService.Invalidate()
		}),
	)

	result, err := indexService.Build(ctx, ingestion.BuildParams{SourceDir: rawDir, Collection: "genpact_rag"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.PageCount)
	assert.Equal(t, 3, result.ChunkCount)

	cat := catalogService.Get(ctx)
	assert.Equal(t, []string{"handbook.txt", "report.txt"}, cat.Sources)
	assert.Equal(t, mo.Some(1), cat.MinPage)
	assert.Equal(t, mo.Some(2), cat.MaxPage)

	searchService := search.NewSearchService(store, hashEmbedder{}, "genpact_rag", search.WithSearchLogger(logger))
	llm := &echoLLM{}
	askService := ask.NewAskService(searchService, llm, ask.WithAskLogger(logger), ask.WithTopK(1))

	answer, err := askService.Ask(ctx, ask.AskParams{Question: "How much did revenue grow in 2023?"})
	require.NoError(t, err)

	assert.Equal(t, "Revenue grew 12% in 2023 driven by services.", answer.Answer)
	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "report.txt", answer.Citations[0].Source)
	assert.Equal(t, 2, answer.Citations[0].Page)
	assert.True(t, strings.HasPrefix(answer.Citations[0].Snippet, "Revenue grew 12%"))

	// 絞り込みで該当がなくなればモデルを呼ばずに定型回答
	noMatch, err := askService.Ask(ctx, ask.AskParams{
		Question: "How much did revenue grow in 2023?",
		Filter:   search.BuildFilter([]string{"report.txt"}, mo.Some(50), mo.None[int]()),
	})
	require.NoError(t, err)
	assert.Equal(t, ask.NotFoundAnswer, noMatch.Answer)
	assert.Empty(t, noMatch.Citations)
	assert.Equal(t, 1, llm.calls)
}
