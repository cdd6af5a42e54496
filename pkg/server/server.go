// Package server implements the serving half of the engine: capability
// registries and the dispatcher that turns decoded requests into
// handler invocations and exactly one response each.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/mcplane/mcp-go/pkg/errors"
	"github.com/mcplane/mcp-go/pkg/logging"
	"github.com/mcplane/mcp-go/pkg/observability"
	"github.com/mcplane/mcp-go/pkg/protocol"
	"github.com/mcplane/mcp-go/pkg/transport"
)

// Server dispatches JSON-RPC requests arriving on a transport to
// registered tools, resources and prompts.
type Server struct {
	name    string
	version string

	transport transport.Transport
	session   *protocol.Session

	tools     *ToolRegistry
	resources *ResourceRegistry
	prompts   *PromptRegistry

	logger  logging.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	baseCtx    context.Context
	cancelBase context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithName sets the server name reported in the handshake.
func WithName(name string) Option {
	return func(s *Server) { s.name = name }
}

// WithVersion sets the server version reported in the handshake.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches a metrics set.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer attaches a tracer for per-request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

// NewServer creates a server bound to the given transport.
func NewServer(t transport.Transport, opts ...Option) *Server {
	s := &Server{
		name:      "mcp-go",
		version:   "dev",
		transport: t,
		session:   protocol.NewSession(),
		tools:     NewToolRegistry(),
		resources: NewResourceRegistry(),
		prompts:   NewPromptRegistry(),
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterTool adds a tool to the server.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) error {
	return s.tools.Register(tool, handler)
}

// RegisterResource adds a resource to the server.
func (s *Server) RegisterResource(resource protocol.Resource, handler ResourceHandler) error {
	return s.resources.Register(resource, handler)
}

// RegisterPrompt adds a prompt to the server.
func (s *Server) RegisterPrompt(prompt protocol.Prompt, handler PromptHandler) error {
	return s.prompts.Register(prompt, handler)
}

// Session exposes the lifecycle state machine, mainly for tests and
// hosting binaries that surface session state.
func (s *Server) Session() *protocol.Session {
	return s.session
}

// Serve runs the receive loop until the transport ends or ctx is
// canceled, then waits for in-flight requests to finish.
func (s *Server) Serve(ctx context.Context) error {
	s.baseCtx, s.cancelBase = context.WithCancel(ctx)

	s.transport.SetReceiveHandler(s.handleMessage)
	s.transport.SetErrorHandler(func(err error) {
		if mcperrors.IsConnectionClosed(err) {
			s.logger.Info("connection closed")
			_ = s.session.Transition(protocol.StateClosed)
			return
		}
		s.logger.Error("transport fault", logging.Err(err))
	})

	s.logger.Info("server started",
		logging.String("name", s.name),
		logging.String("version", s.version))

	err := s.transport.Start(ctx)
	s.wg.Wait()
	return err
}

// Close stops the transport and waits for in-flight requests.
func (s *Server) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancelBase != nil {
			s.cancelBase()
		}
		err = s.transport.Stop(ctx)
		s.wg.Wait()
		_ = s.session.Transition(protocol.StateClosed)
	})
	return err
}

// handleMessage classifies one decoded frame. Requests are dispatched
// on their own goroutine so a slow handler does not stall the receive
// loop.
func (s *Server) handleMessage(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.rejectUndecodable(err)
		return
	}

	switch m := msg.(type) {
	case *protocol.Request:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(m)
		}()
	case *protocol.Notification:
		s.handleNotification(m)
	case *protocol.Response:
		// A server never issues requests, so no response is expected.
		s.logger.Warn("unexpected response from peer", logging.Any("id", m.ID))
	}
}

// rejectUndecodable answers a frame the codec refused. The error
// response carries the request id when one could be recovered and a
// null id otherwise.
func (s *Server) rejectUndecodable(err error) {
	de, ok := err.(*protocol.DecodeError)
	if !ok {
		s.logger.Error("decode failed", logging.Err(err))
		return
	}

	class := "invalid_request"
	message := "Invalid Request"
	if de.Code == protocol.ParseError {
		class = "parse"
		message = "Parse error"
	}
	s.metrics.RecordDecodeFailure(class)
	s.logger.Warn("rejected frame", logging.String("class", class), logging.Err(de.Cause))

	s.send(protocol.NewErrorResponse(de.ID, de.Code, message, nil))
}

func (s *Server) handleNotification(n *protocol.Notification) {
	switch n.Method {
	case protocol.MethodInitialized, "initialized":
		if s.session.State() != protocol.StateInitializing {
			s.logger.Warn("initialized notification outside handshake",
				logging.String("state", s.session.State().String()))
			return
		}
		if err := s.session.Transition(protocol.StateReady); err != nil {
			s.logger.Error("handshake completion failed", logging.Err(err))
			return
		}
		s.logger.Info("session ready",
			logging.String("protocol_version", s.session.ProtocolVersion()))
	default:
		// Unknown notifications are ignored; a notification must never
		// be answered, not even with an error.
		s.logger.Debug("ignoring notification", logging.String("method", n.Method))
	}
}

// dispatch runs one request through gating, routing and a handler, and
// sends exactly one response.
func (s *Server) dispatch(req *protocol.Request) {
	s.metrics.RequestStarted()
	defer s.metrics.RequestFinished()

	start := time.Now()
	status := "ok"

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "rpc."+req.Method,
			trace.WithAttributes(attribute.String("rpc.method", req.Method)))
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			err := mcperrors.Internal(fmt.Errorf("handler panic: %v", r))
			s.logger.Error("request handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r))
			if span != nil {
				span.SetStatus(codes.Error, "panic")
			}
			s.sendError(req.ID, err)
		}
		s.metrics.ObserveRequest(req.Method, status, time.Since(start))
	}()

	if err := s.gate(req.Method); err != nil {
		status = "invalid_state"
		s.sendError(req.ID, err)
		return
	}

	result, err := s.route(ctx, req)
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.sendError(req.ID, err)
		return
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		status = "error"
		s.sendError(req.ID, mcperrors.Internal(err))
		return
	}
	s.send(resp)
}

// gate enforces the lifecycle: initialize opens a fresh session and
// every other method requires a completed handshake.
func (s *Server) gate(method string) error {
	state := s.session.State()
	if method == protocol.MethodInitialize {
		if state != protocol.StateUninitialized {
			return mcperrors.InvalidSessionState(method, state.String())
		}
		return nil
	}
	if state != protocol.StateReady {
		return mcperrors.InvalidSessionState(method, state.String())
	}
	return nil
}

func (s *Server) route(ctx context.Context, req *protocol.Request) (any, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req.Params)
	case protocol.MethodShutdown:
		return s.handleShutdown()
	case protocol.MethodListTools:
		return protocol.ListToolsResult{Tools: s.tools.List()}, nil
	case protocol.MethodCallTool:
		return s.handleCallTool(ctx, req.Params)
	case protocol.MethodListResources:
		return protocol.ListResourcesResult{Resources: s.resources.List()}, nil
	case protocol.MethodReadResource:
		return s.handleReadResource(ctx, req.Params)
	case protocol.MethodListPrompts:
		return protocol.ListPromptsResult{Prompts: s.prompts.List()}, nil
	case protocol.MethodGetPrompt:
		return s.handleGetPrompt(ctx, req.Params)
	default:
		return nil, mcperrors.UnknownMethod(req.Method)
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, error) {
	var p protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, mcperrors.InvalidParams("malformed initialize params", err)
		}
	}

	if err := s.session.Transition(protocol.StateInitializing); err != nil {
		return nil, mcperrors.InvalidSessionState(protocol.MethodInitialize, s.session.State().String())
	}
	s.session.Negotiate(protocol.ProtocolRevision, p.Capabilities)

	clientName := ""
	if p.ClientInfo != nil {
		clientName = p.ClientInfo.Name
	}
	s.logger.Info("handshake opened",
		logging.String("client", clientName),
		logging.String("client_protocol_version", p.ProtocolVersion))

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		ServerInfo: protocol.ServerInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleShutdown() (any, error) {
	if err := s.session.Transition(protocol.StateShuttingDown); err != nil {
		return nil, mcperrors.InvalidSessionState(protocol.MethodShutdown, s.session.State().String())
	}
	s.logger.Info("shutdown requested")
	return protocol.ShutdownResult{}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams("malformed tools/call params", err)
	}
	if p.Name == "" {
		return nil, mcperrors.InvalidParams("tool name is required", nil)
	}

	entry, ok := s.tools.lookup(p.Name)
	if !ok {
		s.metrics.RecordInvocation("tool", p.Name, "not_found")
		return nil, mcperrors.ToolNotFound(p.Name)
	}

	if err := entry.schema.Validate(p.Arguments); err != nil {
		s.metrics.RecordInvocation("tool", p.Name, "invalid_params")
		return nil, mcperrors.InvalidParams(err.Error(), err)
	}

	result, err := entry.handler(ctx, p.Arguments)
	if err != nil {
		s.metrics.RecordInvocation("tool", p.Name, "error")
		return nil, mcperrors.HandlerFailed(p.Name, err)
	}
	s.metrics.RecordInvocation("tool", p.Name, "ok")

	return renderToolResult(result)
}

// renderToolResult normalizes a handler's return value into the wire
// shape. Handlers may return a ready CallToolResult, a plain string, or
// any JSON-marshalable value.
func renderToolResult(result any) (protocol.CallToolResult, error) {
	switch r := result.(type) {
	case protocol.CallToolResult:
		return r, nil
	case *protocol.CallToolResult:
		return *r, nil
	case string:
		return protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(r)}}, nil
	case nil:
		return protocol.CallToolResult{Content: []protocol.Content{}}, nil
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return protocol.CallToolResult{}, mcperrors.Internal(fmt.Errorf("marshal tool result: %w", err))
		}
		return protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(string(data))}}, nil
	}
}

func (s *Server) handleReadResource(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.ReadResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams("malformed resources/read params", err)
	}
	if p.URI == "" {
		return nil, mcperrors.InvalidParams("resource uri is required", nil)
	}

	entry, ok := s.resources.lookup(p.URI)
	if !ok {
		s.metrics.RecordInvocation("resource", p.URI, "not_found")
		return nil, mcperrors.ResourceNotFound(p.URI)
	}

	text, err := entry.handler(ctx)
	if err != nil {
		s.metrics.RecordInvocation("resource", p.URI, "error")
		return nil, mcperrors.HandlerFailed(p.URI, err)
	}
	s.metrics.RecordInvocation("resource", p.URI, "ok")

	return protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{{
			URI:      entry.resource.URI,
			MimeType: entry.resource.MimeType,
			Text:     text,
		}},
	}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.GetPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, mcperrors.InvalidParams("malformed prompts/get params", err)
	}
	if p.Name == "" {
		return nil, mcperrors.InvalidParams("prompt name is required", nil)
	}

	entry, ok := s.prompts.lookup(p.Name)
	if !ok {
		s.metrics.RecordInvocation("prompt", p.Name, "not_found")
		return nil, mcperrors.PromptNotFound(p.Name)
	}

	if err := checkPromptArguments(entry.prompt, p.Arguments); err != nil {
		s.metrics.RecordInvocation("prompt", p.Name, "invalid_params")
		return nil, err
	}

	messages, err := entry.handler(ctx, p.Arguments)
	if err != nil {
		s.metrics.RecordInvocation("prompt", p.Name, "error")
		return nil, mcperrors.HandlerFailed(p.Name, err)
	}
	s.metrics.RecordInvocation("prompt", p.Name, "ok")

	return protocol.GetPromptResult{
		Description: entry.prompt.Description,
		Messages:    messages,
	}, nil
}

// checkPromptArguments enforces the declared required arguments before
// the template handler runs.
func checkPromptArguments(prompt protocol.Prompt, args json.RawMessage) error {
	var provided map[string]json.RawMessage
	if len(args) > 0 {
		if err := json.Unmarshal(args, &provided); err != nil {
			return mcperrors.InvalidParams("prompt arguments must be an object", err)
		}
	}
	for _, arg := range prompt.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := provided[arg.Name]; !ok {
			return mcperrors.InvalidParams(fmt.Sprintf("missing required argument %q", arg.Name), nil)
		}
	}
	return nil
}

// sendError converts a failure into exactly one error response.
func (s *Server) sendError(id any, err error) {
	var resp *protocol.Response
	if e, ok := err.(*mcperrors.Error); ok {
		resp = protocol.NewErrorResponse(id, protocol.ErrorCode(e.Code()), e.Message(), e.Data())
	} else {
		resp = protocol.NewErrorResponse(id, protocol.InternalError, "Internal error", nil)
	}
	s.send(resp)
}

func (s *Server) send(resp *protocol.Response) {
	data, err := protocol.EncodeMessage(resp)
	if err != nil {
		s.logger.Error("encode response failed", logging.Err(err))
		return
	}
	if err := s.transport.Send(data); err != nil {
		s.logger.Error("send response failed", logging.Err(err))
	}
}
