package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkBufferDrainKeepsPartialFrame(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("event: chunk\ndata: {\"content\":\"a\"}\n\nevent: chu")

	frames, remainder := buffer.Drain()

	require.Equal(t, []string{"event: chunk\ndata: {\"content\":\"a\"}"}, frames)
	assert.Equal(t, "event: chu", remainder)
	assert.Equal(t, len("event: chu"), buffer.Len())
}

func TestChunkBufferDrainIsIdempotent(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("data: {}\n\ndata: {}\n\n")

	frames, remainder := buffer.Drain()
	require.Len(t, frames, 2)
	require.Empty(t, remainder)

	frames, remainder = buffer.Drain()
	assert.Empty(t, frames)
	assert.Empty(t, remainder)
}

func TestChunkBufferRemainderIsNotReemitted(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("data: {\"line\":\"x\"}")

	for range 3 {
		frames, remainder := buffer.Drain()
		assert.Empty(t, frames)
		assert.Equal(t, "data: {\"line\":\"x\"}", remainder)
	}

	buffer.Push("\n\n")
	frames, _ := buffer.Drain()
	assert.Equal(t, []string{"data: {\"line\":\"x\"}"}, frames)
}

func TestChunkBufferDropsWhitespaceFrames(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("\n\n  \n\n\t\n\ndata: {}\n\n")

	frames, _ := buffer.Drain()

	assert.Equal(t, []string{"data: {}"}, frames)
}

func TestChunkBufferFlushRemainder(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("data: {}\n\nevent: status\ndata: {\"status\":\"completed\"}")
	_, _ = buffer.Drain()

	remainder := buffer.FlushRemainder()
	assert.Equal(t, "event: status\ndata: {\"status\":\"completed\"}", remainder)
	assert.Zero(t, buffer.Len())

	// A synthetic separator turns the tail into a frame.
	buffer.Push(remainder + FrameSeparator)
	frames, rest := buffer.Drain()
	assert.Equal(t, []string{remainder}, frames)
	assert.Empty(t, rest)
}

func TestChunkBufferFindsSeparatorSplitAcrossPushes(t *testing.T) {
	buffer := NewChunkBuffer()
	buffer.Push("data: {\"line\":\"a\"}\n")
	frames, remainder := buffer.Drain()
	require.Empty(t, frames)
	require.Equal(t, "data: {\"line\":\"a\"}\n", remainder)

	buffer.Push("\ndata: {\"line\":\"b\"}")
	frames, remainder = buffer.Drain()
	assert.Equal(t, []string{"data: {\"line\":\"a\"}"}, frames)
	assert.Equal(t, "data: {\"line\":\"b\"}", remainder)
}

func TestChunkBufferLargeFrameInSmallPushes(t *testing.T) {
	buffer := NewChunkBuffer()
	payload := strings.Repeat("x", 64*1024)
	frame := "data: " + payload
	for start := 0; start < len(frame); start += 4096 {
		buffer.Push(frame[start:min(start+4096, len(frame))])
		frames, _ := buffer.Drain()
		require.Empty(t, frames)
	}
	buffer.Push("\n\n")

	frames, remainder := buffer.Drain()
	assert.Equal(t, []string{frame}, frames)
	assert.Empty(t, remainder)
	assert.Zero(t, buffer.Len())
}
