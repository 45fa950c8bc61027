package runner

import (
	"fmt"
	"sync"
)

// DefaultOutputLimit bounds how much of each stream a step keeps.
const DefaultOutputLimit = 64 * 1024

// tailBuffer keeps the last limit bytes written to it. Runaway output is
// dropped from the front so the end of a failing log survives.
type tailBuffer struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	dropped int64
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	// compact lazily so long streams stay linear
	if len(b.buf) > 2*b.limit {
		b.trim()
	}
	return len(p), nil
}

func (b *tailBuffer) trim() {
	if over := len(b.buf) - b.limit; over > 0 {
		b.dropped += int64(over)
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
}

// Truncated reports whether any output was dropped.
func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim()
	return b.dropped > 0
}

// String returns the retained tail, prefixed with a marker when truncated.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim()
	if b.dropped == 0 {
		return string(b.buf)
	}
	return fmt.Sprintf("[... %d bytes truncated ...]\n%s", b.dropped, b.buf)
}

// tail returns at most n trailing bytes of s, cut at a line start when possible.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' && i+1 < len(s) {
			return s[i+1:]
		}
	}
	return s
}
