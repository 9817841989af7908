package search

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	called bool
	err    error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.called = true
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 2, 3}, nil
}

type stubSearchRepo struct {
	results        []Match
	lastK          int
	lastCollection string
	lastFilter     mo.Option[Filter]
}

func (r *stubSearchRepo) Search(ctx context.Context, collection string, vector []float32, k int, filter mo.Option[Filter]) ([]Match, error) {
	r.lastK = k
	r.lastCollection = collection
	r.lastFilter = filter
	return r.results, nil
}

func TestSearchService_RetrieveUsesDefaultKAndAssignsRanks(t *testing.T) {
	repo := &stubSearchRepo{
		results: []Match{
			{Content: "first", Metadata: Metadata{Source: "a.pdf", Page: 1}, Score: 0.9},
			{Content: "second", Metadata: Metadata{Source: "a.pdf", Page: 2}, Score: 0.5},
		},
	}
	embedder := &stubEmbedder{}
	svc := NewSearchService(repo, embedder, "docs")

	matches, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "hello"})
	require.NoError(t, err)

	assert.True(t, embedder.called)
	assert.Equal(t, DefaultTopK, repo.lastK)
	assert.Equal(t, "docs", repo.lastCollection)
	require.Len(t, matches, 2)
	assert.Equal(t, 1, matches[0].Rank)
	assert.Equal(t, 2, matches[1].Rank)
}

func TestSearchService_RetrievePassesFilter(t *testing.T) {
	repo := &stubSearchRepo{}
	svc := NewSearchService(repo, &stubEmbedder{}, "docs", WithDefaultTopK(3))

	filter := BuildFilter([]string{"a.pdf"}, mo.None[int](), mo.None[int]())
	matches, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "hello", Filter: filter})
	require.NoError(t, err)

	assert.NotNil(t, matches)
	assert.Empty(t, matches)
	assert.Equal(t, 3, repo.lastK)
	assert.Equal(t, filter, repo.lastFilter)
}

func TestSearchService_RetrieveTruncatesToK(t *testing.T) {
	repo := &stubSearchRepo{results: make([]Match, 5)}
	svc := NewSearchService(repo, &stubEmbedder{}, "docs")

	matches, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "q", K: 2})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchService_RetrieveRequiresQuery(t *testing.T) {
	embedder := &stubEmbedder{}
	svc := NewSearchService(&stubSearchRepo{}, embedder, "docs")

	_, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "   "})
	require.Error(t, err)
	assert.False(t, embedder.called)
}

func TestSearchService_RetrievePropagatesEmbedError(t *testing.T) {
	providerErr := errors.New("boom")
	svc := NewSearchService(&stubSearchRepo{}, &stubEmbedder{err: providerErr}, "docs")

	_, err := svc.Retrieve(context.Background(), RetrieveParams{Query: "q"})
	assert.ErrorIs(t, err, providerErr)
}

func TestMetadataFromMap(t *testing.T) {
	m := MetadataFromMap(map[string]any{"source": "a.pdf", "page": float64(7), "file_path": "/x/a.pdf", "chunk_id": "id-1"})
	assert.Equal(t, Metadata{Source: "a.pdf", Page: 7, FilePath: "/x/a.pdf", ChunkID: "id-1"}, m)

	m = MetadataFromMap(map[string]any{"source": "b.pdf", "page": "cover"})
	assert.Equal(t, 0, m.Page)
}
