package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/openclaude/jobstream/internal/stream"
)

// ErrIdleTimeout is returned by reads after the stream stalled longer than
// the configured idle timeout.
var ErrIdleTimeout = errors.New("stream idle timeout")

// streamBody decodes UTF-8 incrementally, so runes split across network
// reads are reassembled, and enforces the idle timeout.
type streamBody struct {
	// decoded reads UTF-8 text from raw.
	decoded io.Reader
	// raw is the response body.
	raw io.ReadCloser
	// cancel aborts the request.
	cancel context.CancelFunc
	// idleTimer cancels the request when it fires; nil when disabled.
	idleTimer *time.Timer
	// idle is the idle timeout duration.
	idle time.Duration
	// timedOut records that the idle timer fired.
	timedOut atomic.Bool
}

func newStreamBody(raw io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *streamBody {
	body := &streamBody{raw: raw, cancel: cancel, idle: idle}
	var source io.Reader = raw
	if idle > 0 {
		body.idleTimer = time.AfterFunc(idle, func() {
			body.timedOut.Store(true)
			cancel()
		})
		source = readerFunc(body.readRaw)
	}
	body.decoded = transform.NewReader(source, unicode.UTF8.NewDecoder())
	return body
}

// readRaw reads from the response and pushes the idle deadline forward.
func (b *streamBody) readRaw(p []byte) (int, error) {
	n, err := b.raw.Read(p)
	if n > 0 && !b.timedOut.Load() {
		b.idleTimer.Reset(b.idle)
	}
	if err != nil && !errors.Is(err, io.EOF) && b.timedOut.Load() {
		return n, fmt.Errorf("%w after %s", ErrIdleTimeout, b.idle)
	}
	return n, err
}

func (b *streamBody) Read(p []byte) (int, error) {
	return b.decoded.Read(p)
}

func (b *streamBody) Close() error {
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.cancel()
	return b.raw.Close()
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) {
	return f(p)
}

// ReaderOpener serves a captured stream, such as a recorded SSE file,
// through the same UTF-8 decoding as a live response.
func ReaderOpener(source io.Reader) stream.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		raw, ok := source.(io.ReadCloser)
		if !ok {
			raw = io.NopCloser(source)
		}
		if err := ctx.Err(); err != nil {
			raw.Close()
			return nil, err
		}
		return newStreamBody(raw, func() {}, 0), nil
	}
}

// FileOpener serves an SSE capture file.
func FileOpener(path string) stream.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open stream capture: %w", err)
		}
		return ReaderOpener(file)(ctx)
	}
}
