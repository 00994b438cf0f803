// ABOUTME: Bubbletea model for the assistant TUI
// ABOUTME: Three tabs share one window: chat, image generation, voice
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Orbit-Assistant/orbit-go/internal/session"
	"github.com/Orbit-Assistant/orbit-go/internal/version"
)

// Tab identifies the active pane.
type Tab int

const (
	TabChat Tab = iota
	TabImages
	TabVoice
)

func (t Tab) String() string {
	switch t {
	case TabChat:
		return "Chat"
	case TabImages:
		return "Images"
	case TabVoice:
		return "Voice"
	default:
		return "?"
	}
}

var (
	tabStyle       = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("245"))
	activeTabStyle = lipgloss.NewStyle().Padding(0, 2).Bold(true).Foreground(lipgloss.Color("212"))
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	modelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	sourceStyle    = lipgloss.NewStyle().Faint(true)
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

// chatLine is one rendered entry in the transcript.
type chatLine struct {
	role    string
	text    string
	sources []string
}

// Model represents the TUI state
type Model struct {
	controls *Controls

	tab Tab

	// Chat
	transcript []chatLine
	input      string
	streaming  bool

	// Images
	imagePrompt string
	imageStatus string
	lastImage   string

	// Voice
	voiceState  session.State
	voiceStatus string

	// Footer
	status string

	width  int
	height int
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		controls:    controls,
		tab:         TabChat,
		voiceStatus: session.StatusIdle,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case ChatChunkMsg:
		m.appendModelText(msg.Text, msg.Sources)
	case ChatDoneMsg:
		m.streaming = false
	case ChatErrMsg:
		m.streaming = false
		m.status = errorStyle.Render(fmt.Sprintf("Chat error: %v", msg.Err))
	case VoiceStatusMsg:
		m.voiceState = msg.State
		m.voiceStatus = msg.Status
	case ImageStatusMsg:
		m.imageStatus = msg.Status
	case ImageResultMsg:
		m.imageStatus = ""
		m.lastImage = msg.Path
	case StatusMsg:
		m.status = string(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	switch m.tab {
	case TabChat:
		b.WriteString(m.renderChat())
	case TabImages:
		b.WriteString(m.renderImages())
	case TabVoice:
		b.WriteString(m.renderVoice())
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	title := titleStyle.Render(fmt.Sprintf("%s v%s", version.Product, version.Version))

	var tabs []string
	for _, t := range []Tab{TabChat, TabImages, TabVoice} {
		style := tabStyle
		if t == m.tab {
			style = activeTabStyle
		}
		tabs = append(tabs, style.Render(t.String()))
	}
	return title + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, tabs...) + "\n\n"
}

func (m Model) renderChat() string {
	var b strings.Builder
	for _, line := range m.transcript {
		switch line.role {
		case "user":
			b.WriteString(userStyle.Render("You: ") + line.text + "\n")
		default:
			b.WriteString(modelStyle.Render(line.text) + "\n")
			for _, src := range line.sources {
				b.WriteString(sourceStyle.Render("  ↳ "+src) + "\n")
			}
		}
	}
	if m.streaming {
		b.WriteString(statusStyle.Render("...") + "\n")
	}
	b.WriteString("\n> " + m.input + "█\n")
	return b.String()
}

func (m Model) renderImages() string {
	var b strings.Builder
	b.WriteString("Describe the image to generate:\n\n")
	b.WriteString("> " + m.imagePrompt + "█\n\n")
	if m.imageStatus != "" {
		b.WriteString(statusStyle.Render(m.imageStatus) + "\n")
	}
	if m.lastImage != "" {
		b.WriteString("Saved: " + m.lastImage + "\n")
	}
	return b.String()
}

func (m Model) renderVoice() string {
	icon := "○"
	switch m.voiceState {
	case session.StateConnecting:
		icon = "◌"
	case session.StateConnected:
		icon = "●"
	case session.StateError:
		icon = "✗"
	}
	return fmt.Sprintf("  %s  %s\n\n%s\n",
		icon, m.voiceStatus,
		statusStyle.Render("Press enter to toggle the conversation."))
}

func (m Model) renderFooter() string {
	keys := "tab: switch pane  enter: send  ctrl+c: quit"
	if m.tab == TabVoice {
		keys = "tab: switch pane  enter: toggle  q: quit"
	}
	help := helpStyle.Render(keys)
	if m.status != "" {
		return "\n" + m.status + "\n" + help + "\n"
	}
	return "\n" + help + "\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "tab":
		m.tab = (m.tab + 1) % 3
		return m, nil
	case "enter":
		return m.handleEnter()
	case "backspace":
		m.eraseRune()
		return m, nil
	}

	if msg.Type == tea.KeyRunes || msg.String() == " " {
		text := string(msg.Runes)
		if msg.String() == " " {
			text = " "
		}
		// Chat and Images own a text field, so "q" only quits on Voice.
		if text == "q" && m.tab == TabVoice {
			m.controls.quit()
			return m, tea.Quit
		}
		m.typeText(text)
	}
	return m, nil
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.tab {
	case TabChat:
		prompt := strings.TrimSpace(m.input)
		if prompt == "" || m.streaming {
			return m, nil
		}
		m.transcript = append(m.transcript, chatLine{role: "user", text: prompt})
		m.input = ""
		m.streaming = true
		m.controls.sendPrompt(prompt)
	case TabImages:
		prompt := strings.TrimSpace(m.imagePrompt)
		if prompt == "" {
			return m, nil
		}
		m.imagePrompt = ""
		m.imageStatus = "Generating..."
		m.controls.generateImage(prompt)
	case TabVoice:
		m.controls.toggleVoice()
	}
	return m, nil
}

func (m *Model) typeText(text string) {
	switch m.tab {
	case TabChat:
		m.input += text
	case TabImages:
		m.imagePrompt += text
	}
}

func (m *Model) eraseRune() {
	switch m.tab {
	case TabChat:
		m.input = trimLastRune(m.input)
	case TabImages:
		m.imagePrompt = trimLastRune(m.imagePrompt)
	}
}

// appendModelText extends the streaming reply in place, starting a new
// transcript entry when the previous line was the user's.
func (m *Model) appendModelText(text string, sources []string) {
	n := len(m.transcript)
	if n == 0 || m.transcript[n-1].role != "model" || !m.streaming {
		m.transcript = append(m.transcript, chatLine{role: "model"})
		n++
	}
	line := &m.transcript[n-1]
	line.text += text
	line.sources = append(line.sources, sources...)
	m.streaming = true
}

func trimLastRune(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	return string(runes[:len(runes)-1])
}
