package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"endochat/internal/domain"
	"endochat/internal/service"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	Reply(ctx context.Context, req service.ChatRequest) (service.ChatReply, error)
}

type entry struct {
	role     domain.Role
	text     string
	question string
	images   []string
}

type replyMsg struct {
	question string
	reply    service.ChatReply
	err      error
}

// Model is the Bubble Tea model for the chat terminal.
type Model struct {
	chat     ChatPort
	userID   string
	language domain.Language
	input    textinput.Model
	viewport viewport.Model
	entries  []entry
	status   string
	waiting  bool
	ready    bool
}

// New creates a chat model for one user. The stored conversation of userID
// is continued.
func New(chat ChatPort, userID string, language domain.Language) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask an endocrinology question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		chat:     chat,
		userID:   userID,
		language: language,
		input:    ti,
		viewport: vp,
		status:   "Ready. Ctrl+C to quit.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and chat replies.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + 1 // header, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case replyMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.entries = append(m.entries, entry{
			role:     domain.RoleAssistant,
			text:     msg.reply.Response,
			question: msg.question,
			images:   describeImages(msg.reply.Images),
		})
		switch {
		case msg.reply.Fallback:
			m.status = "Answered from general knowledge (documents unavailable)"
		case len(msg.reply.Sources) > 0:
			m.status = fmt.Sprintf("Answered with %d source(s)", len(msg.reply.Sources))
		default:
			m.status = "Answered"
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.waiting {
				return m, nil
			}
			m.entries = append(m.entries, entry{role: domain.RoleUser, text: q})
			m.input.SetValue("")
			m.waiting = true
			m.status = "Thinking..."
			m.refresh()
			return m, m.ask(q)
		case "up":
			m.viewport.LineUp(1)
			return m, nil
		case "down":
			m.viewport.LineDown(1)
			return m, nil
		case "pgup":
			m.viewport.HalfViewUp()
			return m, nil
		case "pgdown":
			m.viewport.HalfViewDown()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	chat, userID, lang := m.chat, m.userID, m.language
	return func() tea.Msg {
		reply, err := chat.Reply(context.Background(), service.ChatRequest{
			Message:  question,
			UserID:   userID,
			Language: lang,
		})
		return replyMsg{question: question, reply: reply, err: err}
	}
}

// View renders the header, transcript, input box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("EndoChat")
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if e.role == domain.RoleUser {
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(e.text)
			continue
		}
		b.WriteString(assistantStyle.Render("EndoChat: "))
		b.WriteString(highlightBestSentence(e.text, e.question))
		for _, img := range e.images {
			b.WriteString("\n")
			b.WriteString(imageStyle.Render("Image: " + img))
		}
	}
	return b.String()
}

func describeImages(images []domain.ImageMatch) []string {
	out := make([]string, 0, len(images))
	for _, img := range images {
		desc := img.Filename
		if img.SourcePDF != "" {
			desc += fmt.Sprintf(" (%s, page %d)", img.SourcePDF, img.PageNumber)
		}
		out = append(out, desc)
	}
	return out
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	imageStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasizes the answer sentence sharing the most
// words with the question.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return text
	}
	best := strings.TrimSpace(sentences[bestIdx])
	return strings.Replace(text, best, highlightStyle.Render(best), 1)
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
