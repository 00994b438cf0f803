// ABOUTME: Oto-based speaker output for model audio
// ABOUTME: Streams 24 kHz mono s16le PCM through a persistent player
package player

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

// Output consumes decoded sample buffers for playback.
type Output interface {
	Write(samples []float32) error
	Close() error
}

// oto allows exactly one context per process, so it is created once and
// reused across connect/disconnect cycles.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func outputContext() (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   audio.OutputSampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatSignedInt16LE,
		}
		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("player: create output context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
		log.Printf("Audio output initialized: %dHz, %d channel", audio.OutputSampleRate, audio.Channels)
	})
	return otoCtx, otoErr
}

// Speaker is the default Output backed by the shared oto context.
type Speaker struct {
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

// NewSpeaker opens a speaker stream on the shared output context.
func NewSpeaker() (*Speaker, error) {
	ctx, err := outputContext()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	s := &Speaker{
		pipeReader: pr,
		pipeWriter: pw,
		player:     ctx.NewPlayer(pr),
	}
	s.player.Play()
	return s, nil
}

// Write converts samples to s16le and feeds the player. Blocks until the
// pipe accepts the data, which naturally paces the scheduler's run loop.
func (s *Speaker) Write(samples []float32) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("player: speaker closed")
	}
	s.mu.Unlock()

	if _, err := s.pipeWriter.Write(audio.EncodePCM(samples)); err != nil {
		return fmt.Errorf("player: speaker write: %w", err)
	}
	return nil
}

// Close stops the stream. The shared oto context stays alive for the next
// session. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.pipeWriter.Close()
	if err := s.player.Close(); err != nil {
		return fmt.Errorf("player: speaker close: %w", err)
	}
	return nil
}
