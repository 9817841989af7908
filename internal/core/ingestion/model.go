package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// PageMetadata は1ページ分のテキストに付与されるメタデータ
type PageMetadata struct {
	Source   string // ファイル名（ディレクトリを除く）
	Page     int    // 1始まりのページ番号
	FilePath string // 絶対パス
}

// PageUnit は1ページ分のテキストとメタデータ
type PageUnit struct {
	Content  string
	Metadata PageMetadata
}

// LoadFailure は読み込みに失敗したファイルの記録
type LoadFailure struct {
	FileName string
	Message  string
}

// LoadResult はディレクトリ読み込みの結果
type LoadResult struct {
	Pages     []PageUnit
	Failures  []LoadFailure
	FileCount int
}

// Chunk は埋め込み対象のテキスト断片
// メタデータは元になったページからそのまま引き継ぐ
type Chunk struct {
	ID       uuid.UUID
	Content  string
	Metadata PageMetadata
}

// IndexRecord はチャンクとその埋め込みベクトルの組
type IndexRecord struct {
	Chunk     Chunk
	Embedding []float32
}

// MetadataMap は永続化されるメタデータを返します
// キーは source, page, file_path, chunk_id
func (r IndexRecord) MetadataMap() map[string]any {
	return map[string]any{
		"source":    r.Chunk.Metadata.Source,
		"page":      r.Chunk.Metadata.Page,
		"file_path": r.Chunk.Metadata.FilePath,
		"chunk_id":  r.Chunk.ID.String(),
	}
}

// BuildParams はインデックス構築のパラメータ
type BuildParams struct {
	SourceDir  string
	Collection string
}

// BuildResult はインデックス構築の結果
type BuildResult struct {
	PageCount  int
	ChunkCount int
	Failures   []LoadFailure
	TokenCount int
	Duration   time.Duration
}
