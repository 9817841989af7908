package ingestion

import (
	"github.com/google/uuid"
	"github.com/jinford/doc-rag/internal/core/ingestion/chunk"
)

// ChunkPages はページをチャンクに分割します
// 各チャンクは分割元ページのメタデータを引き継ぎ、ページをまたがない
func ChunkPages(splitter *chunk.RecursiveSplitter, pages []PageUnit) []Chunk {
	chunks := make([]Chunk, 0, len(pages))
	for _, page := range pages {
		for _, text := range splitter.Split(page.Content) {
			chunks = append(chunks, Chunk{
				ID:       uuid.New(),
				Content:  text,
				Metadata: page.Metadata,
			})
		}
	}
	return chunks
}
