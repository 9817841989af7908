package search

// Metadata は検索結果のチャンクに付与されたメタデータ
type Metadata struct {
	Source   string `json:"source"`
	Page     int    `json:"page"`
	FilePath string `json:"file_path"`
	ChunkID  string `json:"chunk_id"`
}

// MetadataFromMap はストアに保存された生のメタデータを Metadata に変換します
// 数値として解釈できない page は 0 になる
func MetadataFromMap(raw map[string]any) Metadata {
	m := Metadata{}
	m.Source, _ = raw[string(FieldSource)].(string)
	m.FilePath, _ = raw[string(FieldFilePath)].(string)
	m.ChunkID, _ = raw[string(FieldChunkID)].(string)
	if n, ok := toInt(raw[string(FieldPage)]); ok {
		m.Page = n
	}
	return m
}

// Match は類似度検索でヒットしたチャンク
type Match struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
	Rank     int      `json:"rank"` // 1始まり
}
