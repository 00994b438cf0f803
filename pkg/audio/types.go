// ABOUTME: Audio frame and format definitions shared by capture, transport, playback
// ABOUTME: Defines PCM sample-rate constants and sample conversion helpers
package audio

// Wire formats used by the voice session. The microphone side captures at
// 16 kHz; the model replies at 24 kHz. Both are 16-bit signed little-endian
// mono PCM.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1

	// CaptureBlockSamples is the fixed block size the capture pipeline
	// emits per outbound frame.
	CaptureBlockSamples = 4096

	InputMimeType  = "audio/pcm;rate=16000"
	OutputMimeType = "audio/pcm;rate=24000"
)

// Frame is a discrete unit of raw PCM payload plus its format descriptor.
// It is immutable once constructed; ownership transfers to whichever
// component consumes it.
type Frame struct {
	Data     []byte
	MimeType string
}

// Buffer represents decoded PCM audio ready for scheduling.
type Buffer struct {
	Samples    []float32 // interleaved, in [-1, 1]
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return float64(frames) / float64(b.SampleRate)
}

// SampleToInt16 converts a float sample in [-1, 1] to 16-bit signed PCM,
// scaling by 32768 and clamping at the int16 range.
func SampleToInt16(s float32) int16 {
	v := s * 32768
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SampleToFloat converts a 16-bit signed PCM sample to a float in [-1, 1).
func SampleToFloat(s int16) float32 {
	return float32(s) / 32768
}
