package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/mo"

	coreask "github.com/jinford/doc-rag/internal/core/ask"
	corecatalog "github.com/jinford/doc-rag/internal/core/catalog"
	coresearch "github.com/jinford/doc-rag/internal/core/search"
)

// Asker はTUIから利用する質問応答ポート
type Asker interface {
	Ask(ctx context.Context, params coreask.AskParams) (*coreask.AskResult, error)
}

// CatalogProvider はTUIから利用するカタログポート
type CatalogProvider interface {
	Get(ctx context.Context) corecatalog.Catalog
}

// Scope は検索対象の絞り込み条件
type Scope struct {
	Sources  []string
	PageFrom mo.Option[int]
	PageTo   mo.Option[int]
}

// Filter は絞り込み条件を検索フィルタに変換します
func (s Scope) Filter() mo.Option[coresearch.Filter] {
	return coresearch.BuildFilter(s.Sources, s.PageFrom, s.PageTo)
}

func (s Scope) String() string {
	parts := []string{}
	if len(s.Sources) == 0 {
		parts = append(parts, "all sources")
	} else {
		parts = append(parts, strings.Join(s.Sources, ", "))
	}
	from, hasFrom := s.PageFrom.Get()
	to, hasTo := s.PageTo.Get()
	switch {
	case hasFrom && hasTo:
		parts = append(parts, fmt.Sprintf("pages %d-%d", from, to))
	case hasFrom:
		parts = append(parts, fmt.Sprintf("pages %d-", from))
	case hasTo:
		parts = append(parts, fmt.Sprintf("pages -%d", to))
	}
	return strings.Join(parts, " | ")
}

// entry は画面に表示する1発話
type entry struct {
	turn      coreask.Turn
	citations []coreask.Citation
}

type answerMsg struct {
	result *coreask.AskResult
	err    error
}

// Model はチャット画面の Bubble Tea モデル
// 会話履歴はこのモデルが保持し、質問ごとに AskService へ渡す
type Model struct {
	ctx     context.Context
	asker   Asker
	catalog CatalogProvider

	input    textinput.Model
	viewport viewport.Model

	entries       []entry
	scope         Scope
	showCitations bool
	pending       bool
	status        string
	ready         bool
}

// New は新しいチャットモデルを作成します
func New(ctx context.Context, asker Asker, catalog CatalogProvider, scope Scope) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /help"
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		ctx:           ctx,
		asker:         asker,
		catalog:       catalog,
		input:         ti,
		viewport:      viewport.New(0, 0),
		scope:         scope,
		showCitations: true,
		status:        "Ready.",
	}
}

// Init はカーソル点滅を開始します
func (m Model) Init() tea.Cmd { return textinput.Blink }

// History は現在の会話履歴を古い順に返します
func (m Model) History() []coreask.Turn {
	turns := make([]coreask.Turn, 0, len(m.entries))
	for _, e := range m.entries {
		turns = append(turns, e.turn)
	}
	return turns
}

// Update はキー入力と回答メッセージを処理します
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header + scope, status, input
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-fh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			// 失敗した質問は履歴に残さない
			if n := len(m.entries); n > 0 && m.entries[n-1].turn.Role == coreask.RoleUser {
				m.entries = m.entries[:n-1]
			}
		} else {
			m.entries = append(m.entries, entry{
				turn:      coreask.Turn{Role: coreask.RoleAssistant, Content: msg.result.Answer},
				citations: msg.result.Citations,
			})
			m.status = fmt.Sprintf("Answered with %d citation(s).", len(msg.result.Citations))
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.pending {
				return m, nil
			}
			m.input.Reset()
			if strings.HasPrefix(text, "/") {
				m.runCommand(text)
				m.refresh()
				return m, nil
			}
			return m.submit(text)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(question string) (tea.Model, tea.Cmd) {
	history := m.History()
	m.entries = append(m.entries, entry{turn: coreask.Turn{Role: coreask.RoleUser, Content: question}})
	m.pending = true
	m.status = "Thinking..."
	m.refresh()

	params := coreask.AskParams{
		Question: question,
		History:  history,
		Filter:   m.scope.Filter(),
	}
	ctx, asker := m.ctx, m.asker
	return m, func() tea.Msg {
		result, err := asker.Ask(ctx, params)
		return answerMsg{result: result, err: err}
	}
}

// runCommand はスラッシュコマンドを実行します
func (m *Model) runCommand(text string) {
	fields := strings.Fields(text)
	args := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))

	switch fields[0] {
	case "/clear":
		m.entries = nil
		m.status = "Chat cleared."
	case "/citations":
		m.showCitations = !m.showCitations
		m.status = fmt.Sprintf("Citations %s.", onOff(m.showCitations))
	case "/catalog":
		c := m.catalog.Get(m.ctx)
		m.status = describeCatalog(c)
	case "/sources":
		m.scope.Sources = nil
		for _, s := range strings.Split(args, ",") {
			if s = strings.TrimSpace(s); s != "" {
				m.scope.Sources = append(m.scope.Sources, s)
			}
		}
		m.status = "Scope: " + m.scope.String()
	case "/pages":
		from, to, err := parsePageRange(args)
		if err != nil {
			m.status = "Error: " + err.Error()
			return
		}
		m.scope.PageFrom, m.scope.PageTo = from, to
		m.status = "Scope: " + m.scope.String()
	case "/help":
		m.status = "/sources a.pdf,b.pdf  /pages 3-10  /citations  /catalog  /clear  (esc to quit)"
	default:
		m.status = fmt.Sprintf("Unknown command %q. Try /help.", fields[0])
	}
}

// parsePageRange は "3-10" / "3-" / "-10" / "" を解釈します
func parsePageRange(s string) (mo.Option[int], mo.Option[int], error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return mo.None[int](), mo.None[int](), nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	parse := func(v string) (mo.Option[int], error) {
		v = strings.TrimSpace(v)
		if v == "" {
			return mo.None[int](), nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return mo.None[int](), fmt.Errorf("invalid page %q", v)
		}
		return mo.Some(n), nil
	}
	from, err := parse(lo)
	if err != nil {
		return from, from, err
	}
	to, err := parse(hi)
	if err != nil {
		return from, to, err
	}
	if f, ok := from.Get(); ok {
		if t, ok := to.Get(); ok && f > t {
			return from, to, fmt.Errorf("page range %d-%d is reversed", f, t)
		}
	}
	return from, to, nil
}

func describeCatalog(c corecatalog.Catalog) string {
	if len(c.Sources) == 0 {
		return "No documents indexed."
	}
	desc := fmt.Sprintf("%d source(s): %s", len(c.Sources), strings.Join(c.Sources, ", "))
	minPage, hasMin := c.MinPage.Get()
	maxPage, hasMax := c.MaxPage.Get()
	if hasMin && hasMax {
		desc += fmt.Sprintf(" | pages %d-%d", minPage, maxPage)
	}
	return desc
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return mutedStyle.Render("No messages yet.")
	}

	width := max(20, m.viewport.Width-2)
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.turn.Role == coreask.RoleUser {
			b.WriteString(userStyle.Render("You"))
		} else {
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Render(e.turn.Content))

		if m.showCitations && len(e.citations) > 0 {
			b.WriteString("\n")
			for j, c := range e.citations {
				line := fmt.Sprintf("[%d] %s p.%d: %s", j+1, c.Source, c.Page, c.Snippet)
				b.WriteString("\n")
				b.WriteString(citationStyle.Width(width).Render(line))
			}
		}
	}
	return b.String()
}

// View は画面を描画します
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("Document Q&A")
	scope := mutedStyle.Render("Scope: " + m.scope.String())
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + scope + "\n" + transcript + "\n" + input + "\n" + status
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	citationStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Run はチャット画面を起動し、終了までブロックします
func Run(ctx context.Context, asker Asker, catalog CatalogProvider, scope Scope) error {
	p := tea.NewProgram(New(ctx, asker, catalog, scope), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
