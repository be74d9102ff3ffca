// Package sse reassembles Server-Sent Event frames from decoded text and
// parses them into typed events. It performs no I/O.
package sse

import "strings"

// FrameSeparator delimits frames on the wire.
const FrameSeparator = "\n\n"

// ChunkBuffer accumulates decoded text across reads and hands out complete
// frames, keeping any trailing partial frame for the next read.
type ChunkBuffer struct {
	// separator splits frames; FrameSeparator unless overridden.
	separator string
	// pending holds text not yet returned as a frame.
	pending strings.Builder
	// scanned is the length of pending already searched for a separator.
	scanned int
}

// NewChunkBuffer returns a buffer that splits on FrameSeparator.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{separator: FrameSeparator}
}

// Push appends decoded text to the buffer.
func (b *ChunkBuffer) Push(text string) {
	b.pending.WriteString(text)
}

// Drain returns every complete frame in the buffer and re-buffers the last,
// possibly incomplete, segment as the remainder. Whitespace-only frames are
// dropped. The remainder always replaces the buffer, even when empty, so a
// frame is never returned twice.
func (b *ChunkBuffer) Drain() ([]string, string) {
	separator := b.separator
	if separator == "" {
		separator = FrameSeparator
	}
	pending := b.pending.String()
	// Only text pushed since the last drain is searched, plus enough of the
	// old tail to catch a separator split across pushes.
	from := max(0, b.scanned-len(separator)+1)
	start := 0
	var frames []string
	for {
		index := strings.Index(pending[from:], separator)
		if index < 0 {
			break
		}
		end := from + index
		if part := pending[start:end]; strings.TrimSpace(part) != "" {
			frames = append(frames, part)
		}
		start = end + len(separator)
		from = start
	}

	remainder := pending[start:]
	if start > 0 {
		b.pending.Reset()
		b.pending.WriteString(remainder)
	}
	b.scanned = len(remainder)
	return frames, remainder
}

// FlushRemainder returns and clears whatever partial frame is left. Callers
// append a separator before draining it again, since a stream may end
// without a final blank line.
func (b *ChunkBuffer) FlushRemainder() string {
	remainder := b.pending.String()
	b.pending.Reset()
	b.scanned = 0
	return remainder
}

// Len reports the number of buffered bytes.
func (b *ChunkBuffer) Len() int {
	return b.pending.Len()
}
