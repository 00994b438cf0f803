// ABOUTME: Microphone capture producing fixed-size encoded PCM blocks
// ABOUTME: Wraps malgo with a block assembler feeding a frame channel
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/Orbit-Assistant/orbit-go/pkg/audio"
)

// ErrMicUnavailable reports that no capture device could be opened.
var ErrMicUnavailable = errors.New("capture: microphone unavailable")

// Capture owns a malgo capture device and emits input audio as
// fixed-size frames ready for the live transport.
type Capture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	asm    *blockAssembler
	frames chan audio.Frame

	mu      sync.Mutex
	started bool

	closeOnce sync.Once
}

// Open initializes the audio backend and the capture device without
// starting it. Opening before dialing the transport means microphone
// permission is resolved first, so a denied mic never leaves a half-open
// session behind.
func Open() (*Capture, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}

	c := &Capture{
		ctx:    mctx,
		frames: make(chan audio.Frame, 16),
	}
	c.asm = newBlockAssembler(audio.CaptureBlockSamples, c.emit)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(audio.Channels)
	deviceConfig.SampleRate = uint32(audio.InputSampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.asm.Push(bytesToFloat32(input))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}
	c.device = device
	return c, nil
}

// Start begins capturing. Safe to call once per Capture.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}
	c.started = true
	log.Printf("Microphone capture started (%d Hz, %d-sample blocks)",
		audio.InputSampleRate, audio.CaptureBlockSamples)
	return nil
}

// Frames returns the channel of encoded capture blocks. Closed on Close.
func (c *Capture) Frames() <-chan audio.Frame {
	return c.frames
}

func (c *Capture) emit(block []float32) {
	frame := audio.Frame{
		Data:     audio.EncodePCM(block),
		MimeType: audio.InputMimeType,
	}
	select {
	case c.frames <- frame:
	default:
		// Consumer stalled; drop rather than block the device callback.
		log.Printf("Capture frame dropped: consumer not keeping up")
	}
}

// Close stops the device and releases the audio backend. Idempotent.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		if c.device != nil {
			c.device.Stop()
			c.device.Uninit()
		}
		if c.ctx != nil {
			c.ctx.Uninit()
		}
		close(c.frames)
	})
	return nil
}

// blockAssembler accumulates samples and invokes emit with every full
// fixed-size block. Samples arriving after a partial block stay buffered
// until the block fills; there is no flush of partial blocks.
type blockAssembler struct {
	size int
	emit func([]float32)

	mu  sync.Mutex
	buf []float32
}

func newBlockAssembler(size int, emit func([]float32)) *blockAssembler {
	return &blockAssembler{
		size: size,
		emit: emit,
		buf:  make([]float32, 0, size),
	}
}

// Push appends samples and emits complete blocks in order.
func (a *blockAssembler) Push(samples []float32) {
	a.mu.Lock()
	a.buf = append(a.buf, samples...)
	var blocks [][]float32
	for len(a.buf) >= a.size {
		block := make([]float32, a.size)
		copy(block, a.buf[:a.size])
		a.buf = a.buf[a.size:]
		blocks = append(blocks, block)
	}
	a.mu.Unlock()

	for _, b := range blocks {
		a.emit(b)
	}
}

// Pending returns the number of buffered samples awaiting a full block.
func (a *blockAssembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

func bytesToFloat32(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
