package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/mcplane/mcp-go/pkg/errors"
)

// trickleReader delivers its payload one byte per Read call, the worst
// fragmentation the underlying stream can produce.
type trickleReader struct {
	data []byte
	pos  int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func collectMessages(t *testing.T, reader io.Reader, want int) []string {
	t.Helper()

	tr := NewStdioTransport(WithReader(reader), WithWriter(io.Discard))

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	tr.SetReceiveHandler(func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		if len(got) == want {
			close(done)
		}
		mu.Unlock()
	})
	tr.SetErrorHandler(func(err error) {})

	finished := make(chan error, 1)
	go func() { finished <- tr.Start(context.Background()) }()

	select {
	case <-done:
	case err := <-finished:
		// Stream ended first; fine as long as everything arrived.
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	require.NoError(t, tr.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	return got
}

func TestReceiveSurvivesFragmentation(t *testing.T) {
	payload := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"prompts/list"}` + "\n"

	got := collectMessages(t, &trickleReader{data: []byte(payload)}, 2)

	require.Len(t, got, 2)
	assert.Contains(t, got[0], `"tools/list"`)
	assert.Contains(t, got[1], `"prompts/list"`)
}

func TestReceiveSurvivesConcatenation(t *testing.T) {
	// Everything in one burst.
	payload := strings.Repeat(`{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n", 5)

	got := collectMessages(t, strings.NewReader(payload), 5)
	assert.Len(t, got, 5)
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	safe := &lockedWriter{w: &buf}
	tr := NewStdioTransport(WithReader(strings.NewReader("")), WithWriter(safe))

	const senders = 8
	const perSender = 50

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"m%d"}`, s*perSender+i, s)
				assert.NoError(t, tr.Send([]byte(msg)))
			}
		}(s)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, senders*perSender)
	for _, line := range lines {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "interleaved frame: %q", line)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestEndOfStreamReportedOnce(t *testing.T) {
	tr := NewStdioTransport(WithReader(strings.NewReader("")), WithWriter(io.Discard))
	tr.SetReceiveHandler(func([]byte) {})

	var mu sync.Mutex
	var faults []error
	tr.SetErrorHandler(func(err error) {
		mu.Lock()
		faults = append(faults, err)
		mu.Unlock()
	})

	require.NoError(t, tr.Start(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.True(t, mcperrors.IsConnectionClosed(faults[0]))
}

func TestSendAfterStopFails(t *testing.T) {
	tr := NewStdioTransport(WithReader(strings.NewReader("")), WithWriter(io.Discard))
	require.NoError(t, tr.Stop(context.Background()))

	err := tr.Send([]byte(`{}`))
	require.Error(t, err)
	assert.True(t, mcperrors.IsConnectionClosed(err))
}

func TestStartStopsOnContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	tr := NewStdioTransport(WithReader(pr), WithWriter(io.Discard))
	tr.SetReceiveHandler(func([]byte) {})
	tr.SetErrorHandler(func(error) {})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- tr.Start(ctx) }()

	cancel()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
