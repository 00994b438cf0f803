// ABOUTME: Voice conversation state machine binding capture, transport, playback
// ABOUTME: One toggle control drives Disconnected/Connecting/Connected/Error
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

// State is the connection state of the voice session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status texts shown to the user for each state.
const (
	StatusIdle       = "Tap to start conversation"
	StatusConnecting = "Connecting..."
	StatusListening  = "Listening..."
	StatusSpeaking   = "Assistant is speaking..."
	StatusError      = "Connection error. Press enter to retry."
)

// Event reports a state or status change to the UI.
type Event struct {
	State  State
	Status string
}

// Transport is the duplex audio link to the model. Opened is closed once
// the far end acknowledges the session.
type Transport interface {
	Send(audio.Frame) error
	Frames() <-chan audio.Frame
	Opened() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Recorder produces encoded microphone blocks.
type Recorder interface {
	Start() error
	Frames() <-chan audio.Frame
	Close() error
}

// Player schedules inbound audio for gapless playback. Remaining reports
// seconds of scheduled audio not yet played.
type Player interface {
	Schedule(audio.Frame) (float64, error)
	Remaining() float64
	Close() error
}

// Manager runs at most one voice session at a time. Toggle starts a
// session when idle and tears it down when active; teardown is
// unconditional regardless of connection state.
type Manager struct {
	dial      func(ctx context.Context) (Transport, error)
	openRec   func() (Recorder, error)
	newPlayer func() (Player, error)

	mu      sync.Mutex
	state   State
	current *sessionRun

	events chan Event
}

type sessionRun struct {
	transport Transport
	recorder  Recorder
	player    Player
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// NewManager wires the session factories. Each factory is invoked once
// per connect attempt.
func NewManager(
	dial func(ctx context.Context) (Transport, error),
	openRec func() (Recorder, error),
	newPlayer func() (Player, error),
) *Manager {
	return &Manager{
		dial:      dial,
		openRec:   openRec,
		newPlayer: newPlayer,
		state:     StateDisconnected,
		events:    make(chan Event, 16),
	}
}

// Events returns the channel of state and status updates.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Toggle flips the session: Disconnected or Error starts a connect,
// Connecting or Connected tears down.
func (m *Manager) Toggle() {
	m.mu.Lock()
	switch m.state {
	case StateDisconnected, StateError:
		m.state = StateConnecting
		m.mu.Unlock()
		m.emit(StateConnecting, StatusConnecting)
		go m.connect()
	case StateConnecting, StateConnected:
		run := m.current
		m.current = nil
		m.state = StateDisconnected
		m.mu.Unlock()
		if run != nil {
			run.stop()
		}
		m.emit(StateDisconnected, StatusIdle)
	default:
		m.mu.Unlock()
	}
}

func (m *Manager) connect() {
	ctx, cancel := context.WithCancel(context.Background())

	// Open the microphone before dialing so a permission failure never
	// leaves a connected transport with nothing to feed it.
	rec, err := m.openRec()
	if err != nil {
		cancel()
		m.fail("opening microphone", err)
		return
	}

	player, err := m.newPlayer()
	if err != nil {
		rec.Close()
		cancel()
		m.fail("opening playback", err)
		return
	}

	transport, err := m.dial(ctx)
	if err != nil {
		rec.Close()
		player.Close()
		cancel()
		m.fail("connecting", err)
		return
	}

	// Connected means acknowledged, not just dialed. The transport bounds
	// this wait with its own setup timeout.
	select {
	case <-transport.Opened():
	case <-transport.Done():
		err := transport.Err()
		rec.Close()
		player.Close()
		transport.Close()
		cancel()
		if err == nil {
			err = errors.New("transport closed during setup")
		}
		m.fail("awaiting setup", err)
		return
	}

	run := &sessionRun{
		transport: transport,
		recorder:  rec,
		player:    player,
		cancel:    cancel,
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Toggled off while dialing.
		m.mu.Unlock()
		run.stop()
		return
	}
	m.current = run
	m.state = StateConnected
	m.mu.Unlock()

	if err := rec.Start(); err != nil {
		log.Printf("Starting capture failed: %v", err)
		m.endWithError(run)
		return
	}

	m.emit(StateConnected, StatusListening)
	go m.pump(ctx, run)
}

// pump moves capture blocks out and model audio in until the session ends.
func (m *Manager) pump(ctx context.Context, run *sessionRun) {
	speakTimer := time.NewTimer(0)
	if !speakTimer.Stop() {
		<-speakTimer.C
	}
	speaking := false
	inbound := run.transport.Frames()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-run.recorder.Frames():
			if !ok {
				return
			}
			if err := run.transport.Send(frame); err != nil {
				log.Printf("Send failed, ending session: %v", err)
				m.endWithError(run)
				return
			}

		case frame, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			if _, err := run.player.Schedule(frame); err != nil {
				// Malformed frame: dropped by the player, session continues.
				continue
			}
			if !speaking {
				speaking = true
				m.emit(StateConnected, StatusSpeaking)
			}
			resetTimer(speakTimer, run.player.Remaining())

		case <-speakTimer.C:
			if rem := run.player.Remaining(); rem > 0 {
				resetTimer(speakTimer, rem)
				continue
			}
			if speaking {
				speaking = false
				m.emit(StateConnected, StatusListening)
			}

		case <-run.transport.Done():
			if err := run.transport.Err(); err != nil {
				log.Printf("Transport closed with error: %v", err)
				m.endWithError(run)
			} else {
				m.endClean(run)
			}
			return
		}
	}
}

func resetTimer(t *time.Timer, seconds float64) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(time.Duration(seconds * float64(time.Second)))
}

// endWithError tears down the run and moves to the error state, unless
// the user already toggled the session off.
func (m *Manager) endWithError(run *sessionRun) {
	m.mu.Lock()
	if m.current != run {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = StateError
	m.mu.Unlock()
	run.stop()
	m.emit(StateError, StatusError)
}

func (m *Manager) endClean(run *sessionRun) {
	m.mu.Lock()
	if m.current != run {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	run.stop()
	m.emit(StateDisconnected, StatusIdle)
}

func (m *Manager) fail(what string, err error) {
	log.Printf("Session %s failed: %v", what, err)
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.mu.Unlock()
	m.emit(StateError, StatusError)
}

func (m *Manager) emit(state State, status string) {
	select {
	case m.events <- Event{State: state, Status: status}:
	default:
		log.Printf("Session event dropped: %s", status)
	}
}

// Close tears down any active session. Safe to call with none running.
func (m *Manager) Close() error {
	m.mu.Lock()
	run := m.current
	m.current = nil
	m.state = StateDisconnected
	m.mu.Unlock()
	if run != nil {
		run.stop()
	}
	return nil
}

// stop releases every resource of the run exactly once. Order matters:
// cancel the pump first so nothing writes to a closing transport.
func (r *sessionRun) stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.recorder.Close()
		r.transport.Close()
		r.player.Close()
	})
}
