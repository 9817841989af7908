package ask

import "strings"

var trailingSectionMarkers = []string{"\nSources:", "\nCitations:", "\nReferences:"}

// CleanAnswer はモデルが付け足した出典セクションを取り除く
// 最も早く現れるマーカー以降を切り捨てて前後の空白を除く
func CleanAnswer(text string) string {
	cut := len(text)
	for _, marker := range trailingSectionMarkers {
		if i := strings.Index(text, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(text[:cut])
}
