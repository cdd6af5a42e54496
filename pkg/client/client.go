// Package client implements the calling half of the engine: a request
// correlator that matches responses to outstanding calls by id, plus
// typed wrappers for the protocol's method surface.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/mcplane/mcp-go/pkg/errors"
	"github.com/mcplane/mcp-go/pkg/logging"
	"github.com/mcplane/mcp-go/pkg/protocol"
	"github.com/mcplane/mcp-go/pkg/transport"
)

// DefaultRequestTimeout bounds a call when the caller's context carries
// no deadline of its own.
const DefaultRequestTimeout = 30 * time.Second

// NotificationHandler consumes a server-initiated notification.
type NotificationHandler func(params json.RawMessage)

// Client issues requests over a transport and correlates the responses.
type Client struct {
	transport transport.Transport
	session   *protocol.Session
	logger    logging.Logger
	timeout   time.Duration

	info protocol.ClientInfo

	mu      sync.Mutex
	nextID  int64
	pending map[string]chan *protocol.Response

	notifyMu sync.RWMutex
	notify   map[string]NotificationHandler

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRequestTimeout overrides the default per-call timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithClientInfo sets the identity reported during the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.info = protocol.ClientInfo{Name: name, Version: version} }
}

// NewClient creates a client bound to the given transport.
func NewClient(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		session:   protocol.NewSession(),
		logger:    logging.Discard(),
		timeout:   DefaultRequestTimeout,
		info:      protocol.ClientInfo{Name: "mcp-go-client", Version: "dev"},
		pending:   make(map[string]chan *protocol.Response),
		notify:    make(map[string]NotificationHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session exposes the lifecycle state machine.
func (c *Client) Session() *protocol.Session {
	return c.session
}

// OnNotification registers a handler for a server-initiated
// notification method.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify[method] = handler
}

// Connect wires the receive path and starts the transport loop in the
// background. It returns once the loop is running.
func (c *Client) Connect(ctx context.Context) error {
	c.transport.SetReceiveHandler(c.handleMessage)
	c.transport.SetErrorHandler(func(err error) {
		if mcperrors.IsConnectionClosed(err) {
			c.shutdownPending()
			return
		}
		c.logger.Error("transport fault", logging.Err(err))
	})

	go func() {
		if err := c.transport.Start(ctx); err != nil {
			c.logger.Error("receive loop ended", logging.Err(err))
		}
		c.shutdownPending()
	}()
	return nil
}

// Close stops the transport and fails every outstanding call.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Stop(ctx)
		c.failAllPending()
		_ = c.session.Transition(protocol.StateClosed)
	})
	return err
}

// shutdownPending is the receive-side close path: the stream ended, so
// no outstanding call can ever complete.
func (c *Client) shutdownPending() {
	c.closeOnce.Do(func() {
		c.failAllPending()
		_ = c.session.Transition(protocol.StateClosed)
	})
}

func (c *Client) failAllPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *protocol.Response)
	c.mu.Unlock()

	for key, ch := range pending {
		ch <- protocol.NewErrorResponse(nil, protocol.ErrorCode(mcperrors.CodeConnectionClosed), "connection closed", nil)
		c.logger.Debug("failed pending call", logging.String("id", key))
	}
}

// handleMessage routes one decoded frame from the transport.
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("discarding undecodable frame", logging.Err(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		c.completeCall(m)
	case *protocol.Notification:
		c.notifyMu.RLock()
		handler := c.notify[m.Method]
		c.notifyMu.RUnlock()
		if handler != nil {
			handler(m.Params)
			return
		}
		c.logger.Debug("ignoring notification", logging.String("method", m.Method))
	case *protocol.Request:
		// Server-initiated requests are outside this client's surface;
		// answer so the peer is not left waiting forever.
		c.logger.Warn("rejecting server request", logging.String("method", m.Method))
		resp := protocol.NewErrorResponse(m.ID, protocol.MethodNotFound,
			fmt.Sprintf("Method not found: %s", m.Method),
			map[string]any{"method": m.Method})
		if data, err := protocol.EncodeMessage(resp); err == nil {
			_ = c.transport.Send(data)
		}
	}
}

// completeCall atomically looks up and removes the pending entry for a
// response. Responses with no matching entry are stale and are
// discarded silently.
func (c *Client) completeCall(resp *protocol.Response) {
	key := protocol.IDKey(resp.ID)

	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding stale response", logging.String("id", key))
		return
	}
	ch <- resp
}

// Call sends a request and blocks until the response arrives, the
// context expires, or the connection closes. Each call gets a fresh,
// strictly increasing id.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.session.State() == protocol.StateClosed {
		c.mu.Unlock()
		return mcperrors.ConnectionClosed()
	}
	c.nextID++
	id := c.nextID
	key := protocol.IDKey(id)
	ch := make(chan *protocol.Response, 1)
	c.pending[key] = ch
	c.mu.Unlock()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.abandon(key)
		return err
	}
	data, err := protocol.EncodeMessage(req)
	if err != nil {
		c.abandon(key)
		return err
	}
	if err := c.transport.Send(data); err != nil {
		c.abandon(key)
		return err
	}

	var resp *protocol.Response
	select {
	case resp = <-ch:
	case <-ctx.Done():
		// The receive path may have completed the call in the window
		// between ctx firing and this branch running. If the entry is
		// already gone the response is sitting in the buffered channel.
		c.mu.Lock()
		_, stillPending := c.pending[key]
		if stillPending {
			delete(c.pending, key)
		}
		c.mu.Unlock()

		if stillPending {
			return mcperrors.Timeout(method, c.timeout)
		}
		resp = <-ch
	}

	if resp.Error != nil {
		if protocol.ErrorCode(mcperrors.CodeConnectionClosed) == resp.Error.Code {
			return mcperrors.ConnectionClosed()
		}
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) abandon(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// Notify sends a notification. No response will ever arrive.
func (c *Client) Notify(method string, params any) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := protocol.EncodeMessage(n)
	if err != nil {
		return err
	}
	return c.transport.Send(data)
}

// Initialize runs the full handshake: the initialize request, the
// initialized notification, and the session transitions between them.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	if err := c.session.Transition(protocol.StateInitializing); err != nil {
		return nil, mcperrors.InvalidSessionState(protocol.MethodInitialize, c.session.State().String())
	}

	var result protocol.InitializeResult
	err := c.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		ClientInfo:      &c.info,
	}, &result)
	if err != nil {
		return nil, err
	}

	c.session.Negotiate(result.ProtocolVersion, result.Capabilities)

	if err := c.Notify(protocol.MethodInitialized, nil); err != nil {
		return nil, err
	}
	if err := c.session.Transition(protocol.StateReady); err != nil {
		return nil, err
	}

	c.logger.Info("session ready",
		logging.String("server", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion))
	return &result, nil
}

// ListTools fetches the server's tools in registration order.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var result protocol.ListToolsResult
	if err := c.Call(ctx, protocol.MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a named tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*protocol.CallToolResult, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := c.Call(ctx, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources fetches the server's resources in registration order.
func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var result protocol.ListResourcesResult
	if err := c.Call(ctx, protocol.MethodListResources, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads the resource at uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := c.Call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts fetches the server's prompts in registration order.
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var result protocol.ListPromptsResult
	if err := c.Call(ctx, protocol.MethodListPrompts, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders a named prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments any) (*protocol.GetPromptResult, error) {
	args, err := marshalArguments(arguments)
	if err != nil {
		return nil, err
	}
	var result protocol.GetPromptResult
	if err := c.Call(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Shutdown asks the server to stop accepting new work.
func (c *Client) Shutdown(ctx context.Context) error {
	var result protocol.ShutdownResult
	if err := c.Call(ctx, protocol.MethodShutdown, nil, &result); err != nil {
		return err
	}
	return c.session.Transition(protocol.StateShuttingDown)
}

func marshalArguments(arguments any) (json.RawMessage, error) {
	switch a := arguments.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return a, nil
	default:
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		return data, nil
	}
}
