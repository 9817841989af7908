package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLoader はファイル内容を "\f" 区切りのページとして扱う
type stubLoader struct{}

func (stubLoader) Extensions() []string { return []string{".pdf"} }

func (stubLoader) Load(ctx context.Context, path string) ([]PageUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	switch {
	case strings.HasPrefix(content, "CORRUPT"):
		return nil, errors.New("malformed PDF: missing xref table")
	case strings.HasPrefix(content, "PANIC"):
		panic("index out of range")
	}

	var pages []PageUnit
	for i, text := range strings.Split(content, "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, PageUnit{Content: text, Metadata: PageMetadata{Page: i + 1}})
	}
	return pages, nil
}

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *stubEmbedder) MaxBatchSize() int { return 2 }

type stubWriter struct {
	calls   int
	name    string
	records []IndexRecord
}

func (w *stubWriter) ReplaceCollection(ctx context.Context, name string, records []IndexRecord) error {
	w.calls++
	w.name = name
	w.records = records
	return nil
}

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func newSplitter(t *testing.T) *chunk.RecursiveSplitter {
	t.Helper()
	s, err := chunk.NewRecursiveSplitter(chunk.DefaultChunkSize, chunk.DefaultChunkOverlap)
	require.NoError(t, err)
	return s
}

func TestLoadDirectory_IsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "alpha page one\falpha page two")
	writeFile(t, dir, "b.pdf", "CORRUPT")
	writeFile(t, dir, "c.PDF", "gamma\f\f  \fgamma four")
	writeFile(t, dir, "d.pdf", "PANIC")
	writeFile(t, dir, "notes.txt", "ignored")

	result, err := LoadDirectory(context.Background(), dir, stubLoader{}, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 4, result.FileCount)
	require.Len(t, result.Pages, 4)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "b.pdf", result.Failures[0].FileName)
	assert.Contains(t, result.Failures[0].Message, "malformed")
	assert.Equal(t, "d.pdf", result.Failures[1].FileName)
	assert.Contains(t, result.Failures[1].Message, "panicked")

	first := result.Pages[0]
	assert.Equal(t, "a.pdf", first.Metadata.Source)
	assert.Equal(t, 1, first.Metadata.Page)
	assert.True(t, filepath.IsAbs(first.Metadata.FilePath))

	last := result.Pages[3]
	assert.Equal(t, "c.PDF", last.Metadata.Source)
	assert.Equal(t, 4, last.Metadata.Page)
}

func TestLoadDirectory_MissingDirectory(t *testing.T) {
	_, err := LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), stubLoader{}, discardLogger())
	assert.ErrorIs(t, err, ErrSourceDirNotFound)
}

func TestChunkPages_InheritsPageMetadata(t *testing.T) {
	pages := []PageUnit{
		{Content: strings.Repeat("lorem ipsum ", 200), Metadata: PageMetadata{Source: "x.pdf", Page: 3, FilePath: "/tmp/x.pdf"}},
		{Content: "short page", Metadata: PageMetadata{Source: "x.pdf", Page: 4, FilePath: "/tmp/x.pdf"}},
	}

	chunks := ChunkPages(newSplitter(t), pages)
	require.Greater(t, len(chunks), 2)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ID.String()], "chunk ids must be unique")
		seen[c.ID.String()] = true
		assert.Equal(t, "x.pdf", c.Metadata.Source)
	}
	assert.Equal(t, 4, chunks[len(chunks)-1].Metadata.Page)
	assert.Equal(t, "short page", chunks[len(chunks)-1].Content)
}

func TestIndexService_Build(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "first page text\fsecond page text")
	writeFile(t, dir, "b.pdf", "CORRUPT")
	writeFile(t, dir, "c.pdf", "third document")

	embedder := &stubEmbedder{}
	writer := &stubWriter{}
	var hookCalled string

	svc := NewIndexService(stubLoader{}, newSplitter(t), embedder, writer,
		WithIndexLogger(discardLogger()),
		WithIndexTokenCounter(wordCounter{}),
		WithIndexCompletedHook(func(ctx context.Context, collection string, result *BuildResult) {
			hookCalled = collection
		}),
	)

	result, err := svc.Build(context.Background(), BuildParams{SourceDir: dir, Collection: "docs"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.PageCount)
	assert.Equal(t, 3, result.ChunkCount)
	assert.Equal(t, 8, result.TokenCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "b.pdf", result.Failures[0].FileName)

	assert.Equal(t, 2, embedder.calls, "3 chunks in batches of 2")
	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, "docs", writer.name)
	require.Len(t, writer.records, 3)
	assert.Equal(t, "a.pdf", writer.records[0].MetadataMap()["source"])
	assert.Equal(t, writer.records[0].Chunk.ID.String(), writer.records[0].MetadataMap()["chunk_id"])
	assert.Equal(t, "docs", hookCalled)
}

func TestIndexService_Build_EmptyCorpusDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.pdf", "CORRUPT")

	embedder := &stubEmbedder{}
	writer := &stubWriter{}
	hookCalls := 0
	svc := NewIndexService(stubLoader{}, newSplitter(t), embedder, writer,
		WithIndexLogger(discardLogger()),
		WithIndexCompletedHook(func(context.Context, string, *BuildResult) { hookCalls++ }),
	)

	result, err := svc.Build(context.Background(), BuildParams{SourceDir: dir, Collection: "docs"})
	require.NoError(t, err)

	assert.Equal(t, 0, result.PageCount)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, writer.calls)
	assert.Equal(t, 0, hookCalls)
}

// blankPageLoader は空白だけのページを返す
type blankPageLoader struct{}

func (blankPageLoader) Extensions() []string { return []string{".pdf"} }

func (blankPageLoader) Load(ctx context.Context, path string) ([]PageUnit, error) {
	return []PageUnit{
		{Content: "  \n\n ", Metadata: PageMetadata{Page: 1}},
		{Content: "\t", Metadata: PageMetadata{Page: 2}},
	}, nil
}

func TestIndexService_Build_NoChunksDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scan.pdf", "image only")

	embedder := &stubEmbedder{}
	writer := &stubWriter{}
	hookCalls := 0
	svc := NewIndexService(blankPageLoader{}, newSplitter(t), embedder, writer,
		WithIndexLogger(discardLogger()),
		WithIndexCompletedHook(func(context.Context, string, *BuildResult) { hookCalls++ }),
	)

	result, err := svc.Build(context.Background(), BuildParams{SourceDir: dir, Collection: "docs"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.PageCount)
	assert.Equal(t, 0, result.ChunkCount)
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, writer.calls)
	assert.Equal(t, 0, hookCalls)
}

func TestIndexService_Build_EmbedErrorAbortsWithoutWrite(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "some text")

	providerErr := errors.New("rate limited")
	writer := &stubWriter{}
	svc := NewIndexService(stubLoader{}, newSplitter(t), &stubEmbedder{err: providerErr}, writer,
		WithIndexLogger(discardLogger()),
	)

	_, err := svc.Build(context.Background(), BuildParams{SourceDir: dir, Collection: "docs"})
	require.Error(t, err)
	assert.ErrorIs(t, err, providerErr)
	assert.Equal(t, 0, writer.calls)
}

func TestIndexService_Build_MissingDirectory(t *testing.T) {
	svc := NewIndexService(stubLoader{}, newSplitter(t), &stubEmbedder{}, &stubWriter{},
		WithIndexLogger(discardLogger()),
	)

	_, err := svc.Build(context.Background(), BuildParams{SourceDir: filepath.Join(t.TempDir(), "missing"), Collection: "docs"})
	assert.ErrorIs(t, err, ErrSourceDirNotFound)
}

func TestIndexService_Build_RequiresEmbedder(t *testing.T) {
	svc := NewIndexService(stubLoader{}, newSplitter(t), nil, &stubWriter{},
		WithIndexLogger(discardLogger()),
	)

	_, err := svc.Build(context.Background(), BuildParams{SourceDir: t.TempDir(), Collection: "docs"})
	assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
}
