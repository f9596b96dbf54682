package tui

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
	"docqa/internal/service"
)

// Port is the TUI-facing subset of the document QA service.
type Port interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredFragment, error)
	Ask(ctx context.Context, req service.AskRequest) (service.Answer, error)
}

type mode int

const (
	modeAsk mode = iota
	modeSearch
)

func (m mode) String() string {
	if m == modeSearch {
		return "search"
	}
	return "ask"
}

type answerMsg struct {
	query  string
	answer service.Answer
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx       context.Context
	service   Port
	topK      int
	input     textinput.Model
	viewport  viewport.Model
	mode      mode
	answer    *service.Answer
	results   []domain.ScoredFragment
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model instance.
func New(ctx context.Context, svc Port, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter (Tab switches to search)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  svc,
		topK:     topK,
		input:    ti,
		viewport: vp,
		summary:  summary,
		status:   "Ready.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) run(q string) tea.Cmd {
	md, ctx, svc, k := m.mode, m.ctx, m.service, m.topK
	return func() tea.Msg {
		if md == modeSearch {
			hits, err := svc.Search(ctx, q, k)
			return answerMsg{query: q, answer: service.Answer{Question: q, Retrieved: hits}, err: err}
		}
		ans, err := svc.Ask(ctx, service.AskRequest{Question: q, TopK: k})
		return answerMsg{query: q, answer: ans, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer, m.results = nil, nil
		} else {
			m.answer = &msg.answer
			m.results = msg.answer.Retrieved
			m.cursor = 0
			m.lastQuery = msg.query
			m.status = m.statusLine()
		}
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Working..."
				return m, m.run(q)
			}
		case "tab":
			m.mode = (m.mode + 1) % 2
			m.status = "Mode: " + m.mode.String()
			return m, nil
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) statusLine() string {
	if m.answer == nil {
		return ""
	}
	if m.mode == modeSearch {
		return fmt.Sprintf("%d results for %q", len(m.results), m.lastQuery)
	}
	return fmt.Sprintf("answer via %s, top similarity %.3f", m.answer.Reason, m.answer.SimilarityTop)
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docqa  [" + m.mode.String() + "]")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) render() string {
	var sb strings.Builder
	if m.answer != nil && m.mode == modeAsk && m.answer.Text != "" {
		sb.WriteString(answerStyle.Render(m.answer.Text))
		sb.WriteString("\n")
		for i, c := range m.answer.Citations {
			sb.WriteString(citationStyle.Render(fmt.Sprintf("[%d] %s  score=%.3f", i+1, location(c.DocumentID, c.Page, c.Start, c.End), c.Score)))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if len(m.results) == 0 {
		if sb.Len() == 0 {
			return "No results yet."
		}
		return sb.String()
	}
	r := m.results[m.cursor]
	fmt.Fprintf(&sb, "Fragment %d/%d  %s  score=%.3f\n\n", m.cursor+1, len(m.results),
		location(r.Fragment.DocumentID, r.Fragment.Page, r.Fragment.Start, r.Fragment.End), r.Score)
	sb.WriteString(highlightBestSentence(r.Fragment.Text, m.lastQuery))
	return sb.String()
}

func location(docID *int64, page *int, start, end int) string {
	loc := "doc ?"
	if docID != nil {
		loc = fmt.Sprintf("doc %d", *docID)
	}
	if page != nil {
		loc += fmt.Sprintf(" p.%d", *page)
	}
	return fmt.Sprintf("%s [%d:%d]", loc, start, end)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	citationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence renders text with the sentence most similar to the
// query emphasized. Similarity is the Ochiai coefficient of the word sets.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := -1
	bestScore := 0.0
	for i, s := range sentences {
		score := ochiai(qTokens, toTokenSet(s))
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// ochiai returns |a∩b| / sqrt(|a|·|b|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range b {
		if _, ok := a[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
