package ask

import (
	"strings"
	"testing"

	"github.com/jinford/doc-rag/internal/core/search"
	"github.com/stretchr/testify/assert"
)

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no marker", "  The answer.  ", "The answer."},
		{"sources", "The answer.\nSources: a.pdf", "The answer."},
		{"earliest marker wins", "A.\nReferences: x\nCitations: y", "A."},
		{"marker without newline is kept", "Sources: none", "Sources: none"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanAnswer(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, CleanAnswer(got), "cleanup must be idempotent")
		})
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("あ", 300)
	assert.Equal(t, 220, len([]rune(Snippet(long, 220))))
	assert.Equal(t, "a b c d", Snippet("a\nb\r\nc\rd", 220))
}

func TestBuildContext_UnknownMetadata(t *testing.T) {
	got := BuildContext([]search.Match{{Content: "body"}})
	assert.Equal(t, "[1] SOURCE: unknown | PAGE: ?\nbody", got)
}

func TestRecentTurns(t *testing.T) {
	history := []Turn{
		{Role: RoleUser, Content: "1"},
		{Role: RoleAssistant, Content: " "},
		{Role: RoleUser, Content: "2"},
		{Role: RoleAssistant, Content: "3"},
	}

	assert.Equal(t, []Turn{{Role: RoleUser, Content: "2"}, {Role: RoleAssistant, Content: "3"}}, RecentTurns(history, 2))
	assert.Nil(t, RecentTurns(history, 0))
	assert.Empty(t, BuildHistoryMessage(nil, 6))
}
