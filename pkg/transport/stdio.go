package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/mcplane/mcp-go/pkg/errors"
)

// maxFrameSize bounds a single message on the wire.
const maxFrameSize = 4 * 1024 * 1024

// StdioTransport frames messages as newline-delimited JSON over an
// io.Reader/io.Writer pair, defaulting to the process stdin/stdout.
// This is the transport for subprocess pipes; tests inject in-memory
// pipes through the same options.
type StdioTransport struct {
	reader io.Reader
	writer *bufio.Writer

	writeMu sync.Mutex // single global write ordering per stream

	handlerMu      sync.RWMutex
	receiveHandler ReceiveHandler
	errorHandler   ErrorHandler

	done     chan struct{}
	stopOnce sync.Once
	closedMu sync.Mutex
	closed   bool
}

// StdioOption configures a StdioTransport.
type StdioOption func(*StdioTransport)

// WithReader replaces stdin as the receive stream.
func WithReader(r io.Reader) StdioOption {
	return func(t *StdioTransport) { t.reader = r }
}

// WithWriter replaces stdout as the send stream.
func WithWriter(w io.Writer) StdioOption {
	return func(t *StdioTransport) { t.writer = bufio.NewWriter(w) }
}

// NewStdioTransport creates a stdio transport.
func NewStdioTransport(opts ...StdioOption) *StdioTransport {
	t := &StdioTransport{
		reader: os.Stdin,
		writer: bufio.NewWriter(os.Stdout),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetReceiveHandler installs the message handler.
func (t *StdioTransport) SetReceiveHandler(handler ReceiveHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.receiveHandler = handler
}

// SetErrorHandler installs the fault handler.
func (t *StdioTransport) SetErrorHandler(handler ErrorHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.errorHandler = handler
}

// Start reads frames until the stream ends or the context is canceled.
// End of stream is reported to the error handler exactly once.
func (t *StdioTransport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)
		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			// The scanner reuses its buffer across Scan calls.
			data := make([]byte, len(line))
			copy(data, line)

			t.handlerMu.RLock()
			handler := t.receiveHandler
			t.handlerMu.RUnlock()
			if handler != nil {
				handler(data)
			}
		}

		t.markClosed()
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
			t.reportError(mcperrors.Wrap(err, mcperrors.CodeConnectionClosed, "stream read failed", mcperrors.CategoryTransport))
			return err
		}
		t.reportError(mcperrors.ConnectionClosed())
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.done:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Send writes one frame followed by the message delimiter and flushes.
func (t *StdioTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.isClosed() {
		return mcperrors.ConnectionClosed()
	}

	if _, err := t.writer.Write(data); err != nil {
		t.markClosed()
		return mcperrors.Wrap(err, mcperrors.CodeConnectionClosed, "stream write failed", mcperrors.CategoryTransport)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		t.markClosed()
		return mcperrors.Wrap(err, mcperrors.CodeConnectionClosed, "stream write failed", mcperrors.CategoryTransport)
	}
	if err := t.writer.Flush(); err != nil {
		t.markClosed()
		return mcperrors.Wrap(err, mcperrors.CodeConnectionClosed, "stream flush failed", mcperrors.CategoryTransport)
	}
	return nil
}

// Stop halts the receive loop and flushes pending output.
func (t *StdioTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.done)
		t.closeReader()

		t.writeMu.Lock()
		if !t.isClosed() {
			_ = t.writer.Flush()
		}
		t.markClosed()
		t.writeMu.Unlock()
	})
	return nil
}

func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

func (t *StdioTransport) isClosed() bool {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	return t.closed
}

func (t *StdioTransport) markClosed() {
	t.closedMu.Lock()
	t.closed = true
	t.closedMu.Unlock()
}

// reportError delivers one fault to the error handler, at most once for
// connection closure.
func (t *StdioTransport) reportError(err error) {
	t.handlerMu.RLock()
	handler := t.errorHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		handler(err)
	}
}
