// ABOUTME: Entry point for the Orbit assistant
// ABOUTME: Parses CLI flags, wires services, and runs the TUI loop
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Orbit-Assistant/orbit-go/internal/capture"
	"github.com/Orbit-Assistant/orbit-go/internal/chat"
	"github.com/Orbit-Assistant/orbit-go/internal/config"
	"github.com/Orbit-Assistant/orbit-go/internal/history"
	"github.com/Orbit-Assistant/orbit-go/internal/image"
	"github.com/Orbit-Assistant/orbit-go/internal/live"
	"github.com/Orbit-Assistant/orbit-go/internal/player"
	"github.com/Orbit-Assistant/orbit-go/internal/session"
	"github.com/Orbit-Assistant/orbit-go/internal/ui"
	"github.com/Orbit-Assistant/orbit-go/internal/version"
)

var (
	configPath  = flag.String("config", "", "Config file path (YAML)")
	historyPath = flag.String("history", "", "Override conversation history path")
	logFile     = flag.String("log-file", "orbit.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, chat over plain stdin instead")
	chatModel   = flag.String("chat-model", "", "Override the chat model")
	voiceModel  = flag.String("voice-model", "", "Override the live voice model")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	log.Printf("Starting %s v%s", version.Product, version.Version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *historyPath != "" {
		cfg.HistoryPath = *historyPath
	}
	if *chatModel != "" {
		cfg.Chat.Model = *chatModel
	}
	if *voiceModel != "" {
		cfg.Voice.Model = *voiceModel
	}

	ctx := context.Background()

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Fatalf("Failed to open history: %v", err)
	}

	chatSvc, err := chat.NewService(ctx, cfg.APIKey, chat.Models{
		Flash:     cfg.Chat.Model,
		FlashLite: cfg.Chat.LiteModel,
	})
	if err != nil {
		log.Fatalf("Failed to create chat service: %v", err)
	}

	imageSvc, err := image.NewService(ctx, cfg.APIKey, image.Models{
		Imagen:     cfg.Image.GenerateModel,
		FlashImage: cfg.Image.EditModel,
		FlashLite:  cfg.Chat.LiteModel,
	})
	if err != nil {
		log.Fatalf("Failed to create image service: %v", err)
	}

	voice := session.NewManager(
		func(ctx context.Context) (session.Transport, error) {
			return live.Connect(ctx, live.Config{
				APIKey:         cfg.APIKey,
				Model:          cfg.Voice.Model,
				Voice:          cfg.Voice.Voice,
				Instructions:   cfg.Voice.Instructions,
				ConnectTimeout: cfg.Voice.ConnectTimeout.Std(),
			})
		},
		func() (session.Recorder, error) {
			return capture.Open()
		},
		func() (session.Player, error) {
			speaker, err := player.NewSpeaker()
			if err != nil {
				return nil, err
			}
			return &closingPlayer{
				Scheduler: player.NewScheduler(player.NewClock(), speaker),
				speaker:   speaker,
			}, nil
		},
	)

	controls := ui.NewControls()
	var prog *tea.Program
	if useTUI {
		prog = ui.Run(controls)
	}

	app := &appLoop{
		chat:   chatSvc,
		images: imageSvc,
		store:  store,
		voice:  voice,
		prog:   prog,
	}
	if cfg.Location != nil {
		app.location = &chat.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.run(ctx, controls)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if prog != nil {
		go func() {
			if _, err := prog.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			controls.Commands <- ui.Command{Kind: ui.CmdQuit}
		}()
	} else {
		go runPlainLoop(controls)
	}

	select {
	case <-done:
	case <-sigChan:
		log.Printf("Shutdown signal received")
	}

	// Teardown is unconditional: an active voice session is closed no
	// matter what state it is in.
	if err := voice.Close(); err != nil {
		log.Printf("Error closing voice session: %v", err)
	}
	if prog != nil {
		prog.Quit()
	}
	log.Printf("%s stopped", version.Product)
}

// runPlainLoop drives the chat service from stdin when the TUI is off.
// Lines starting with "/image " route to the image service.
func runPlainLoop(controls *ui.Controls) {
	fmt.Println("Type a message and press enter; ctrl+d to quit.")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "/image "); ok {
			controls.Commands <- ui.Command{Kind: ui.CmdGenerateImage, Prompt: rest}
			continue
		}
		controls.Commands <- ui.Command{Kind: ui.CmdSendPrompt, Prompt: line}
	}
	controls.Commands <- ui.Command{Kind: ui.CmdQuit}
}

// closingPlayer bundles a scheduler with the speaker it writes to so the
// session tears both down together.
type closingPlayer struct {
	*player.Scheduler
	speaker *player.Speaker
}

func (p *closingPlayer) Close() error {
	p.Scheduler.Close()
	return p.speaker.Close()
}

// appLoop bridges TUI commands to the services.
type appLoop struct {
	chat   *chat.Service
	images *image.Service
	store  *history.Store
	voice  *session.Manager
	prog   *tea.Program

	location *chat.Location
	convID   string
}

func (a *appLoop) run(ctx context.Context, controls *ui.Controls) {
	go a.forwardVoiceEvents()

	for cmd := range controls.Commands {
		switch cmd.Kind {
		case ui.CmdSendPrompt:
			a.handlePrompt(ctx, cmd.Prompt)
		case ui.CmdGenerateImage:
			a.handleImage(ctx, cmd.Prompt)
		case ui.CmdToggleVoice:
			a.voice.Toggle()
		case ui.CmdQuit:
			return
		}
	}
}

// send routes a message to the TUI, or renders it to stdout in plain mode.
func (a *appLoop) send(msg tea.Msg) {
	if a.prog != nil {
		a.prog.Send(msg)
		return
	}
	switch m := msg.(type) {
	case ui.ChatChunkMsg:
		fmt.Print(m.Text)
		for _, src := range m.Sources {
			fmt.Printf("\n[source] %s", src)
		}
	case ui.ChatDoneMsg:
		fmt.Println()
	case ui.ChatErrMsg:
		fmt.Printf("error: %v\n", m.Err)
	case ui.ImageStatusMsg:
		fmt.Println(m.Status)
	case ui.ImageResultMsg:
		fmt.Printf("Image saved to %s\n", m.Path)
	case ui.VoiceStatusMsg:
		fmt.Println(m.Status)
	}
}

func (a *appLoop) forwardVoiceEvents() {
	for ev := range a.voice.Events() {
		a.send(ui.VoiceStatusMsg{State: ev.State, Status: ev.Status})
	}
}

func (a *appLoop) handlePrompt(ctx context.Context, prompt string) {
	// "/analyze <path> <question>" answers a question about a local image.
	if rest, ok := strings.CutPrefix(prompt, "/analyze "); ok {
		a.handleAnalyze(ctx, rest)
		return
	}

	if a.convID == "" {
		conv, err := a.store.NewConversation("")
		if err != nil {
			a.send(ui.ChatErrMsg{Err: err})
			return
		}
		a.convID = conv.ID
	}
	if _, err := a.store.Append(a.convID, history.Message{Role: "user", Text: prompt}); err != nil {
		log.Printf("Failed to persist user message: %v", err)
	}

	hints, err := a.chat.AnalyzeQueryForTools(ctx, prompt)
	if err != nil {
		log.Printf("Tool analysis error: %v", err)
	}
	if hints.UseSearch || hints.UseMaps {
		log.Printf("Tool hints for prompt: search=%v maps=%v", hints.UseSearch, hints.UseMaps)
	}

	req := chat.StreamRequest{
		History: a.historyTurns(),
		Prompt:  prompt,
		Hints:   hints,
	}
	// The location hint only travels with maps-grounded turns.
	if hints.UseMaps {
		req.Location = a.location
	}
	chunks, errc := a.chat.SendMessageStream(ctx, req)

	coal := chat.NewCoalescer(0)
	var reply strings.Builder
	var sources []history.Source
	for chunk := range chunks {
		reply.WriteString(chunk.Text)
		var uris []string
		for _, src := range chunk.Sources {
			uris = append(uris, src.URI)
			sources = append(sources, history.Source{Title: src.Title, URI: src.URI})
		}
		if out, ok := coal.Add(chunk.Text); ok || len(uris) > 0 {
			a.send(ui.ChatChunkMsg{Text: out, Sources: uris})
		}
	}
	if out, ok := coal.Flush(); ok {
		a.send(ui.ChatChunkMsg{Text: out})
	}

	if err := <-errc; err != nil {
		a.send(ui.ChatErrMsg{Err: err})
		return
	}

	if _, err := a.store.Append(a.convID, history.Message{
		Role:    "model",
		Text:    reply.String(),
		Sources: sources,
	}); err != nil {
		log.Printf("Failed to persist model message: %v", err)
	}
	a.send(ui.ChatDoneMsg{})
}

// historyTurns replays the stored conversation as model context,
// excluding the user message just appended.
func (a *appLoop) historyTurns() []chat.Turn {
	conv, ok := a.store.Get(a.convID)
	if !ok {
		return nil
	}
	msgs := conv.Messages
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == "user" {
		msgs = msgs[:len(msgs)-1]
	}
	turns := make([]chat.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, chat.Turn{Role: m.Role, Text: m.Text})
	}
	return turns
}

func (a *appLoop) handleAnalyze(ctx context.Context, args string) {
	path, question, ok := strings.Cut(args, " ")
	if !ok || question == "" {
		a.send(ui.ChatErrMsg{Err: fmt.Errorf("usage: /analyze <path> <question>")})
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.send(ui.ChatErrMsg{Err: err})
		return
	}

	answer, err := a.chat.AnalyzeImage(ctx, question, data, http.DetectContentType(data))
	if err != nil {
		a.send(ui.ChatErrMsg{Err: err})
		return
	}
	a.send(ui.ChatChunkMsg{Text: answer})
	a.send(ui.ChatDoneMsg{})
}

func (a *appLoop) handleImage(ctx context.Context, prompt string) {
	// "/edit <path> <instructions>" reworks an existing image.
	if rest, ok := strings.CutPrefix(prompt, "/edit "); ok {
		a.handleEdit(ctx, rest)
		return
	}

	a.send(ui.ImageStatusMsg{Status: "Enhancing prompt..."})
	enhanced, err := a.images.EnhancePrompt(ctx, prompt)
	if err != nil {
		log.Printf("Prompt enhancement failed, using original: %v", err)
		enhanced = prompt
	}

	a.send(ui.ImageStatusMsg{Status: "Generating..."})
	result, err := a.images.Generate(ctx, enhanced, image.AspectSquare)
	if err != nil {
		a.send(ui.ImageStatusMsg{Status: fmt.Sprintf("Generation failed: %v", err)})
		return
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("orbit-%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		a.send(ui.ImageStatusMsg{Status: fmt.Sprintf("Saving failed: %v", err)})
		return
	}
	log.Printf("Image saved to %s", path)
	a.send(ui.ImageResultMsg{Path: path})
}

func (a *appLoop) handleEdit(ctx context.Context, args string) {
	srcPath, instructions, ok := strings.Cut(args, " ")
	if !ok || instructions == "" {
		a.send(ui.ImageStatusMsg{Status: "usage: /edit <path> <instructions>"})
		return
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		a.send(ui.ImageStatusMsg{Status: fmt.Sprintf("Reading image failed: %v", err)})
		return
	}

	a.send(ui.ImageStatusMsg{Status: "Editing..."})
	result, err := a.images.Edit(ctx, instructions, data, http.DetectContentType(data))
	if err != nil {
		a.send(ui.ImageStatusMsg{Status: fmt.Sprintf("Edit failed: %v", err)})
		return
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("orbit-edit-%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		a.send(ui.ImageStatusMsg{Status: fmt.Sprintf("Saving failed: %v", err)})
		return
	}
	log.Printf("Edited image saved to %s", path)
	a.send(ui.ImageResultMsg{Path: path})
}
