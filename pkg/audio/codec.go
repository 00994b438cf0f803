// ABOUTME: Transport codec for PCM audio payloads
// ABOUTME: Base64 text encoding plus s16le PCM encode/decode
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncatedPCM reports a PCM payload whose length is not a whole
// multiple of the sample frame size.
var ErrTruncatedPCM = errors.New("audio: truncated pcm payload")

// Encode maps raw bytes to the transport-safe text representation used on
// the wire. Decode is its exact inverse.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode reverses Encode.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("audio: decode payload: %w", err)
	}
	return data, nil
}

// DecodePCM interprets data as little-endian 16-bit signed PCM and returns
// a buffer of float samples in [-1, 1]. The byte length must be a whole
// multiple of 2*channels.
func DecodePCM(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid pcm format %dHz/%dch", sampleRate, channels)
	}
	frameSize := 2 * channels
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame size %d", ErrTruncatedPCM, len(data), frameSize)
	}

	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = SampleToFloat(s)
	}

	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// EncodePCM converts float samples in [-1, 1] to little-endian 16-bit
// signed PCM bytes, clamping out-of-range values.
func EncodePCM(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(SampleToInt16(s)))
	}
	return data
}
