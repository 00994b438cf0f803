// ABOUTME: TUI initialization and control channels
// ABOUTME: Wraps the bubbletea program and outbound command plumbing
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Orbit-Assistant/orbit-go/internal/session"
)

// Command is one user action flowing out of the TUI.
type Command struct {
	Kind   CommandKind
	Prompt string
}

// CommandKind discriminates Commands.
type CommandKind int

const (
	CmdSendPrompt CommandKind = iota
	CmdGenerateImage
	CmdToggleVoice
	CmdQuit
)

// Controls holds channels carrying user actions to the app loop.
type Controls struct {
	Commands chan Command
}

// NewControls creates the control channels.
func NewControls() *Controls {
	return &Controls{
		Commands: make(chan Command, 10),
	}
}

func (c *Controls) sendPrompt(prompt string) {
	c.Commands <- Command{Kind: CmdSendPrompt, Prompt: prompt}
}

func (c *Controls) generateImage(prompt string) {
	c.Commands <- Command{Kind: CmdGenerateImage, Prompt: prompt}
}

func (c *Controls) toggleVoice() {
	c.Commands <- Command{Kind: CmdToggleVoice}
}

func (c *Controls) quit() {
	select {
	case c.Commands <- Command{Kind: CmdQuit}:
	default:
	}
}

// Messages delivered into the TUI from the app loop.
type (
	// ChatChunkMsg extends the in-flight model reply.
	ChatChunkMsg struct {
		Text    string
		Sources []string
	}
	// ChatDoneMsg marks the end of a streamed reply.
	ChatDoneMsg struct{}
	// ChatErrMsg surfaces a failed chat turn.
	ChatErrMsg struct{ Err error }
	// VoiceStatusMsg mirrors the voice session state machine.
	VoiceStatusMsg struct {
		State  session.State
		Status string
	}
	// ImageStatusMsg reports image generation progress.
	ImageStatusMsg struct{ Status string }
	// ImageResultMsg reports where a generated image was written.
	ImageResultMsg struct{ Path string }
	// StatusMsg sets the footer status line.
	StatusMsg string
)

// Run starts the TUI program.
func Run(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
