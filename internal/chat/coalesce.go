// ABOUTME: Coalesces tiny streamed text deltas into readable UI updates
// ABOUTME: Flushes on size threshold, sentence boundary, or explicit drain
package chat

import "strings"

// defaultFlushSize is the buffered rune count that forces a flush even
// without a sentence boundary.
const defaultFlushSize = 48

// Coalescer merges a stream of small text deltas into larger pieces so
// the UI repaints per phrase instead of per token.
type Coalescer struct {
	flushSize int
	buf       strings.Builder
}

// NewCoalescer returns a coalescer flushing at flushSize runes. Zero or
// negative means the default.
func NewCoalescer(flushSize int) *Coalescer {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	return &Coalescer{flushSize: flushSize}
}

// Add buffers delta and returns accumulated text when a flush point is
// reached, with ok reporting whether anything was released.
func (c *Coalescer) Add(delta string) (string, bool) {
	c.buf.WriteString(delta)
	s := c.buf.String()
	if len([]rune(s)) < c.flushSize && !endsSentence(s) {
		return "", false
	}
	c.buf.Reset()
	return s, true
}

// Flush releases whatever is buffered, if anything.
func (c *Coalescer) Flush() (string, bool) {
	if c.buf.Len() == 0 {
		return "", false
	}
	s := c.buf.String()
	c.buf.Reset()
	return s, true
}

func endsSentence(s string) bool {
	trimmed := strings.TrimRight(s, " \t")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}
