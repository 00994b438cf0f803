// ABOUTME: Duplex WebSocket session to the Gemini Live endpoint
// ABOUTME: Handles dial, setup handshake, ordered sends, and inbound routing
package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

const (
	defaultBaseURL        = "wss://generativelanguage.googleapis.com/ws"
	defaultConnectTimeout = 15 * time.Second

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

var (
	// ErrSessionClosed reports a send on a session that has been closed.
	ErrSessionClosed = errors.New("live: session closed")
	// ErrSetupTimeout reports a server that never acknowledged setup.
	ErrSetupTimeout = errors.New("live: setup not acknowledged in time")
)

// Config holds the parameters for one Live session.
type Config struct {
	APIKey       string
	Model        string
	Voice        string
	Instructions string

	// BaseURL overrides the endpoint, used by tests to point at a mock
	// server.
	BaseURL string

	// ConnectTimeout bounds the dial plus setup handshake. A hung
	// handshake fails the connect instead of leaving the caller stuck.
	ConnectTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = defaultConnectTimeout
	}
	return out
}

// Session is one duplex connection lifetime. Inbound model audio arrives on
// Frames; Opened is closed once the server acknowledges setup; Done is
// closed when the receive loop exits for any reason.
type Session struct {
	conn *websocket.Conn

	frames  chan audio.Frame
	opened  chan struct{}
	closing chan struct{} // closed by Close; unblocks inbound delivery
	done    chan struct{}

	// wmu serializes all writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	mu      sync.Mutex
	pending []audio.Frame // sends queued before setupComplete
	open    bool
	closed  bool
	errVal  error

	closeOnce sync.Once
	openOnce  sync.Once
}

// Connect dials the Live endpoint, sends the setup message, and starts the
// receive loop. The returned session accepts Send immediately: frames sent
// before the server acknowledges setup are queued in order and flushed on
// open.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("live: missing api key")
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	wsURL := fmt.Sprintf("%s%s?key=%s", cfg.BaseURL, bidiPath, cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("live: dial: %w", err)
	}

	s := &Session{
		conn:    conn,
		frames:  make(chan audio.Frame, 64),
		opened:  make(chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := s.sendSetup(cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("live: setup: %w", err)
	}

	go s.receiveLoop()
	go s.watchSetup(cfg.ConnectTimeout)

	return s, nil
}

// watchSetup bounds the wait for the server's setup acknowledgement so a
// dialed but unresponsive endpoint cannot hang the session forever.
func (s *Session) watchSetup(timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.opened:
	case <-s.done:
	case <-t.C:
		s.mu.Lock()
		if s.errVal == nil {
			s.errVal = ErrSetupTimeout
		}
		s.mu.Unlock()
		s.Close()
	}
}

func (s *Session) sendSetup(cfg Config) error {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	return s.writeJSON(msg)
}

func (s *Session) writeJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(v)
}

// Send delivers one outbound audio frame. Fire-and-forget: ordering within
// the sender is preserved, there is no acknowledgement. Before the setup
// handshake completes, frames are queued and flushed on open rather than
// dropped.
func (s *Session) Send(frame audio.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.open {
		s.pending = append(s.pending, frame)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.sendFrame(frame)
}

func frameMessage(frame audio.Frame) realtimeInputMessage {
	return realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: frame.MimeType, Data: audio.Encode(frame.Data)},
			},
		},
	}
}

func (s *Session) sendFrame(frame audio.Frame) error {
	if err := s.writeJSON(frameMessage(frame)); err != nil {
		return fmt.Errorf("live: send: %w", err)
	}
	return nil
}

// receiveLoop reads server messages and routes them. It owns the frames
// channel and closes it on exit.
func (s *Session) receiveLoop() {
	defer func() {
		close(s.frames)
		close(s.done)
	}()

	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			if !closed && s.errVal == nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.errVal = err
				}
			}
			s.mu.Unlock()
			return
		}

		s.handleServerMessage(&msg)
	}
}

func (s *Session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.markOpen()
	}
	if msg.Error != nil {
		s.mu.Lock()
		if s.errVal == nil {
			s.errVal = fmt.Errorf("live: remote error %d: %s", msg.Error.Code, msg.Error.Message)
		}
		s.mu.Unlock()
	}
	if msg.ServerContent != nil && msg.ServerContent.ModelTurn != nil {
		for _, p := range msg.ServerContent.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := audio.Decode(p.InlineData.Data)
			if err != nil {
				log.Printf("live: dropping undecodable inline payload: %v", err)
				continue
			}
			mime := p.InlineData.MIMEType
			if mime == "" {
				mime = audio.OutputMimeType
			}
			// Block on delivery but never past Close: done is closed by
			// this goroutine's own caller, so waiting on it here would
			// wedge teardown when the consumer has stopped draining.
			select {
			case s.frames <- audio.Frame{Data: data, MimeType: mime}:
			case <-s.closing:
				return
			}
		}
	}
}

// markOpen flushes the pending queue in order and signals Opened. The
// write lock is held across the flush: a Send racing the open transition
// either lands in pending before the swap or blocks in writeJSON until
// every queued frame has gone out, so queue order survives and the
// connection never sees two writers.
func (s *Session) markOpen() {
	s.openOnce.Do(func() {
		s.wmu.Lock()
		s.mu.Lock()
		s.open = true
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, frame := range pending {
			if err := s.conn.WriteJSON(frameMessage(frame)); err != nil {
				log.Printf("live: flush queued frame: %v", err)
				break
			}
		}
		s.wmu.Unlock()

		close(s.opened)
	})
}

// Frames returns the channel on which inbound model audio arrives. Closed
// when the session ends.
func (s *Session) Frames() <-chan audio.Frame { return s.frames }

// Opened is closed once the server acknowledges the setup message.
func (s *Session) Opened() <-chan struct{} { return s.opened }

// Done is closed when the receive loop exits, for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that terminated the session, or nil after a clean
// close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases the connection. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)

		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
	return nil
}
