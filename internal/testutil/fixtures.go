// Package testutil provides stream fixtures shared by package tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame renders one wire frame with its trailing blank line.
func Frame(eventType string, data string) string {
	if eventType == "" {
		return fmt.Sprintf("data: %s\n\n", data)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// SplitEvery cuts text into pieces of at most size bytes.
func SplitEvery(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}
	var pieces []string
	for start := 0; start < len(text); start += size {
		end := min(start+size, len(text))
		pieces = append(pieces, text[start:end])
	}
	return pieces
}

// ChunkReader returns exactly one chunk per Read call, then io.EOF.
type ChunkReader struct {
	// chunks are served in order.
	chunks []string
	// closed records Close calls.
	closed bool
	mu     sync.Mutex
}

// NewChunkReader serves the given chunks one Read at a time.
func NewChunkReader(chunks ...string) *ChunkReader {
	return &ChunkReader{chunks: chunks}
}

// Read copies the next chunk. Chunks larger than p are split across calls.
func (r *ChunkReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("read on closed reader")
	}
	for len(r.chunks) > 0 && r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	return n, nil
}

// Close marks the reader closed.
func (r *ChunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *ChunkReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Opener returns an open function serving reader, matching stream.Opener.
func Opener(reader io.ReadCloser) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return reader, nil
	}
}

// FailingOpener returns an open function that fails with err.
func FailingOpener(err error) func(context.Context) (io.ReadCloser, error) {
	return func(context.Context) (io.ReadCloser, error) {
		return nil, err
	}
}

// StallingOpener serves the given chunks and then blocks until the request
// context is cancelled, like a network read that never completes.
func StallingOpener(chunks ...string) func(context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return &stallingReader{ctx: ctx, chunks: NewChunkReader(chunks...)}, nil
	}
}

type stallingReader struct {
	ctx    context.Context
	chunks *ChunkReader
}

func (r *stallingReader) Read(p []byte) (int, error) {
	n, err := r.chunks.Read(p)
	if !errors.Is(err, io.EOF) {
		return n, err
	}
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func (r *stallingReader) Close() error {
	return r.chunks.Close()
}

// ErrorAfterReader serves chunks and then fails with err.
func ErrorAfterReader(err error, chunks ...string) io.ReadCloser {
	return &errorAfterReader{err: err, chunks: NewChunkReader(chunks...)}
}

type errorAfterReader struct {
	err    error
	chunks *ChunkReader
}

func (r *errorAfterReader) Read(p []byte) (int, error) {
	n, err := r.chunks.Read(p)
	if errors.Is(err, io.EOF) {
		return 0, r.err
	}
	return n, err
}

func (r *errorAfterReader) Close() error {
	return r.chunks.Close()
}
