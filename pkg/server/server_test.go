package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcplane/mcp-go/pkg/protocol"
	"github.com/mcplane/mcp-go/pkg/transport"
)

// fakeTransport captures outbound frames on a channel and lets tests
// feed inbound frames straight into the receive handler.
type fakeTransport struct {
	sent    chan []byte
	receive transport.ReceiveHandler
	onError transport.ErrorHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan []byte, 32)}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	f.sent <- frame
	return nil
}

func (f *fakeTransport) SetReceiveHandler(h transport.ReceiveHandler) { f.receive = h }
func (f *fakeTransport) SetErrorHandler(h transport.ErrorHandler)    { f.onError = h }
func (f *fakeTransport) Stop(ctx context.Context) error              { return nil }

func newTestServer(t *testing.T, opts ...Option) (*Server, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	opts = append([]Option{WithName("test-server"), WithVersion("0.0.1")}, opts...)
	return NewServer(ft, opts...), ft
}

func awaitResponse(t *testing.T, ft *fakeTransport) *protocol.Response {
	t.Helper()
	select {
	case frame := <-ft.sent:
		msg, err := protocol.DecodeMessage(frame)
		require.NoError(t, err)
		resp, ok := msg.(*protocol.Response)
		require.True(t, ok, "expected a response, got %T", msg)
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response")
		return nil
	}
}

func sendRequest(s *Server, id any, method string, params any) {
	req, _ := protocol.NewRequest(id, method, params)
	data, _ := protocol.EncodeMessage(req)
	s.handleMessage(data)
}

func sendNotification(s *Server, method string, params any) {
	n, _ := protocol.NewNotification(method, params)
	data, _ := protocol.EncodeMessage(n)
	s.handleMessage(data)
}

// completeHandshake drives the server to StateReady.
func completeHandshake(t *testing.T, s *Server, ft *fakeTransport) {
	t.Helper()
	sendRequest(s, int64(1), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		ClientInfo:      &protocol.ClientInfo{Name: "test-client", Version: "0.0.1"},
	})
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)
	sendNotification(s, protocol.MethodInitialized, nil)
	require.Equal(t, protocol.StateReady, s.Session().State())
}

func TestInitializeHandshake(t *testing.T) {
	s, ft := newTestServer(t)

	sendRequest(s, int64(1), protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
	})
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocol.ProtocolRevision, result.ProtocolVersion)
	assert.Equal(t, "test-server", result.ServerInfo.Name)
	assert.Contains(t, result.Capabilities, "tools")

	assert.Equal(t, protocol.StateInitializing, s.Session().State())

	sendNotification(s, protocol.MethodInitialized, nil)
	assert.Equal(t, protocol.StateReady, s.Session().State())
}

func TestBareInitializedNotificationAccepted(t *testing.T) {
	s, ft := newTestServer(t)
	sendRequest(s, int64(1), protocol.MethodInitialize, protocol.InitializeParams{})
	awaitResponse(t, ft)

	sendNotification(s, "initialized", nil)
	assert.Equal(t, protocol.StateReady, s.Session().State())
}

func TestRequestsRejectedBeforeHandshake(t *testing.T) {
	s, ft := newTestServer(t)

	sendRequest(s, int64(1), protocol.MethodListTools, nil)
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidState, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, protocol.MethodListTools, data["method"])
	assert.Equal(t, "uninitialized", data["state"])
}

func TestRepeatedInitializeRejected(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodInitialize, protocol.InitializeParams{})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidState, resp.Error.Code)
}

func TestShutdownGatesFurtherRequests(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodShutdown, nil)
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)
	assert.Equal(t, protocol.StateShuttingDown, s.Session().State())

	sendRequest(s, int64(3), protocol.MethodListTools, nil)
	resp = awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidState, resp.Error.Code)
}

func TestUnknownMethod(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), "tools/destroy", nil)
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tools/destroy", data["method"])
}

func TestListToolsPreservesRegistrationOrder(t *testing.T) {
	s, ft := newTestServer(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.RegisterTool(protocol.Tool{Name: name}, func(ctx context.Context, args json.RawMessage) (any, error) {
			return "ok", nil
		}))
	}
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodListTools, nil)
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)

	var result protocol.ListToolsResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 3)
	assert.Equal(t, "zeta", result.Tools[0].Name)
	assert.Equal(t, "alpha", result.Tools[1].Name)
	assert.Equal(t, "mid", result.Tools[2].Name)
}

func TestCallToolEchoes(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "echo"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return p.Text, nil
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)

	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "hi", result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestCallUnknownTool(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodCallTool, protocol.CallToolParams{Name: "missing"})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "missing", data["name"])
}

func TestCallToolValidatesArguments(t *testing.T) {
	s, ft := newTestServer(t)
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "echo", InputSchema: schema}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "never reached", nil
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":42}`),
	})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestHandlerErrorBecomesHandlerErrorCode(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "flaky"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errors.New("backend unavailable")
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodCallTool, protocol.CallToolParams{Name: "flaky"})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.HandlerError, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "flaky", data["name"])
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "boom"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		panic("kaboom")
	}))
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "calm"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		return "still here", nil
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodCallTool, protocol.CallToolParams{Name: "boom"})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)

	// The session survives a panicking handler.
	assert.Equal(t, protocol.StateReady, s.Session().State())

	sendRequest(s, int64(3), protocol.MethodCallTool, protocol.CallToolParams{Name: "calm"})
	resp = awaitResponse(t, ft)
	require.Nil(t, resp.Error)
}

func TestReadResource(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterResource(protocol.Resource{
		URI:      "file:///README.md",
		Name:     "readme",
		MimeType: "text/markdown",
	}, func(ctx context.Context) (string, error) {
		return "# Hello", nil
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodReadResource, protocol.ReadResourceParams{URI: "file:///README.md"})
	resp := awaitResponse(t, ft)
	require.Nil(t, resp.Error)

	var result protocol.ReadResourceResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "file:///README.md", result.Contents[0].URI)
	assert.Equal(t, "text/markdown", result.Contents[0].MimeType)
	assert.Equal(t, "# Hello", result.Contents[0].Text)
}

func TestReadUnknownResource(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodReadResource, protocol.ReadResourceParams{URI: "file:///nope"})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)

	data, ok := resp.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file:///nope", data["uri"])
}

func TestGetPromptEnforcesRequiredArguments(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterPrompt(protocol.Prompt{
		Name:        "code_review",
		Description: "Review a diff",
		Arguments: []protocol.PromptArgument{
			{Name: "diff", Required: true},
		},
	}, func(ctx context.Context, args json.RawMessage) ([]protocol.PromptMessage, error) {
		var p struct {
			Diff string `json:"diff"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return []protocol.PromptMessage{
			{Role: "user", Content: protocol.TextContent("Please review:\n" + p.Diff)},
		}, nil
	}))
	completeHandshake(t, s, ft)

	sendRequest(s, int64(2), protocol.MethodGetPrompt, protocol.GetPromptParams{Name: "code_review"})
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)

	sendRequest(s, int64(3), protocol.MethodGetPrompt, protocol.GetPromptParams{
		Name:      "code_review",
		Arguments: json.RawMessage(`{"diff":"+1 line"}`),
	})
	resp = awaitResponse(t, ft)
	require.Nil(t, resp.Error)

	var result protocol.GetPromptResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "Review a diff", result.Description)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Contains(t, result.Messages[0].Content.Text, "+1 line")
}

func TestParseErrorGetsNullID(t *testing.T) {
	s, ft := newTestServer(t)

	s.handleMessage([]byte(`{"jsonrpc": nope`))
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ParseError, resp.Error.Code)
	assert.Nil(t, resp.ID)
}

func TestInvalidEnvelopeEchoesRecoveredID(t *testing.T) {
	s, ft := newTestServer(t)

	// Valid JSON, illegal envelope: result alongside method.
	s.handleMessage([]byte(`{"jsonrpc":"2.0","id":9,"method":"tools/list","result":{}}`))
	resp := awaitResponse(t, ft)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidRequest, resp.Error.Code)
	assert.Equal(t, protocol.IDKey(int64(9)), protocol.IDKey(resp.ID))
}

func TestNotificationsAreNeverAnswered(t *testing.T) {
	s, ft := newTestServer(t)
	completeHandshake(t, s, ft)

	sendNotification(s, "notifications/progress", map[string]any{"token": "t1"})

	select {
	case frame := <-ft.sent:
		t.Fatalf("unexpected frame in reply to a notification: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentRequestsEachGetOneResponse(t *testing.T) {
	s, ft := newTestServer(t)
	require.NoError(t, s.RegisterTool(protocol.Tool{Name: "slowecho"}, func(ctx context.Context, args json.RawMessage) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return string(args), nil
	}))
	completeHandshake(t, s, ft)

	const n = 20
	for i := 0; i < n; i++ {
		sendRequest(s, int64(100+i), protocol.MethodCallTool, protocol.CallToolParams{
			Name:      "slowecho",
			Arguments: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		})
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		resp := awaitResponse(t, ft)
		require.Nil(t, resp.Error)
		key := protocol.IDKey(resp.ID)
		assert.False(t, seen[key], "duplicate response for id %s", key)
		seen[key] = true
	}
	assert.Len(t, seen, n)
}
