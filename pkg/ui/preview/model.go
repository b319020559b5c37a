package preview

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"replybot/pkg/reply"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const mouseScrollLines = 3

type entryKind int

const (
	entryPost entryKind = iota
	entryReply
	entryFallback
	entrySkipped
	entryError
)

type entry struct {
	kind    entryKind
	content string
	detail  string
}

type replyResultMsg struct {
	result reply.Result
	err    error
}

type model struct {
	ctx          context.Context
	replyFn      ReplyFunc
	mode         mode
	oneShotInput string
	info         Info

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	entries   []entry
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	followLog bool
	fallbacks int
}

func newModel(ctx context.Context, fn ReplyFunc, runMode mode, text string, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Paste a channel post..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		ctx:          ctx,
		replyFn:      fn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(text),
		info:         info,
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     viewport.New(80, 12),
		width:        100,
		height:       28,
		followLog:    true,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot {
		return m.submit(m.oneShotInput)
	}

	return textinput.Blink
}

// submit records the post and starts generation. An empty post is still sent
// when an image is attached.
func (m *model) submit(text string) tea.Cmd {
	m.lastErr = ""
	m.entries = append(m.entries, entry{kind: entryPost, content: postLabel(text, m.info.HasImage)})
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return tea.Batch(m.spinner.Tick, generateCmd(m.ctx, m.replyFn, text))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.mode == modeOneShot {
			return m, nil
		}
		if m.handleViewportKey(typed) {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.isLoading {
				return m, nil
			}

			text := strings.TrimSpace(m.input.Value())
			if text == "" && !m.info.HasImage {
				return m, nil
			}
			if isExitCommand(text) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			return m, m.submit(text)
		}
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case replyResultMsg:
		m.isLoading = false
		m.entries = append(m.entries, m.resultEntry(typed))
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
		return m, nil
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	return m, cmd
}

func (m *model) resultEntry(msg replyResultMsg) entry {
	switch {
	case errors.Is(msg.err, reply.ErrSkip):
		return entry{kind: entrySkipped, content: "Post would be skipped: no text and no image."}
	case msg.err != nil:
		m.lastErr = msg.err.Error()
		return entry{kind: entryError, content: msg.err.Error()}
	case msg.result.IsFallback:
		m.fallbacks++
		detail := ""
		if msg.result.Cause != nil {
			detail = "cause: " + msg.result.Cause.Error()
		}
		return entry{kind: entryFallback, content: msg.result.Text, detail: detail}
	default:
		return entry{kind: entryReply, content: msg.result.Text, detail: formatMetadata(msg.result)}
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}

	header := m.theme.header.Width(m.width - 2).Render("💬 Reply preview")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"backend:%s · model:%s · image:%s · posts:%d · fallbacks:%d",
		displayOrNA(m.info.Backend),
		displayOrNA(m.info.Model),
		yesNo(m.info.HasImage),
		countPosts(m.entries),
		m.fallbacks,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("Enter preview  ·  PgUp/PgDn scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s generating reply...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.statusErr.Render("last preview failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("Post")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}

	m.viewport.Width = w
	m.viewport.Height = max(8, h)
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, item := range m.entries {
		sections = append(sections, m.renderEntry(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(item entry, width int) string {
	body := strings.TrimSpace(item.content)
	if item.detail != "" {
		body = strings.TrimSpace(body + "\n\n" + m.theme.hint.Render(item.detail))
	}

	switch item.kind {
	case entryPost:
		return renderCard(m.theme.postTitle.Render("[ POST ]"), m.theme.postBox.Width(width).Render(body))
	case entryReply:
		return renderCard(m.theme.replyTitle.Render("[ REPLY ]"), m.theme.replyBox.Width(width).Render(body))
	case entryFallback:
		return renderCard(m.theme.fallbackTitle.Render("[ FALLBACK ]"), m.theme.fallbackBox.Width(width).Render(body))
	case entrySkipped:
		return renderCard(m.theme.fallbackTitle.Render("[ SKIPPED ]"), m.theme.fallbackBox.Width(width).Render(body))
	default:
		return renderCard(m.theme.errorTitle.Render("[ ERROR ]"), m.theme.errorBox.Width(width).Render(body))
	}
}

func renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) oneShotView() string {
	width := max(40, m.width-6)
	parts := make([]string, 0, len(m.entries)+1)
	for _, item := range m.entries {
		parts = append(parts, m.renderEntry(item, width))
	}
	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s generating reply...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(m.viewport.YOffset - mouseScrollLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + mouseScrollLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func generateCmd(ctx context.Context, fn ReplyFunc, text string) tea.Cmd {
	return func() tea.Msg {
		result, err := fn(ctx, text)
		return replyResultMsg{result: result, err: err}
	}
}

func postLabel(text string, hasImage bool) string {
	switch {
	case text == "" && hasImage:
		return "(image only)"
	case hasImage:
		return text + "\n\n(with image)"
	default:
		return text
	}
}

func formatMetadata(result reply.Result) string {
	meta := result.Metadata
	parts := make([]string, 0, 2)
	if meta.Model != "" {
		parts = append(parts, "model: "+meta.Model)
	}
	if meta.Usage != nil {
		parts = append(parts, fmt.Sprintf("tokens in/out/total: %d/%d/%d", meta.Usage.InputTokens, meta.Usage.OutputTokens, meta.Usage.TotalTokens))
	}

	return strings.Join(parts, " · ")
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}

	return "no"
}

func countPosts(entries []entry) int {
	count := 0
	for _, item := range entries {
		if item.kind == entryPost {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
