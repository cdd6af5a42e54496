// Package mcp is the public façade of the engine. It re-exports the
// pieces a host binary needs: a server with tool, resource and prompt
// registries, a client with a request correlator, and the stdio
// transport that joins them over newline-delimited JSON.
//
// A minimal server:
//
//	srv := mcp.NewServer(mcp.NewStdioTransport(), server.WithName("demo"))
//	_ = srv.RegisterTool(mcp.Tool{Name: "echo"}, echoHandler)
//	_ = srv.Serve(ctx)
//
// A minimal client:
//
//	c := mcp.NewClient(mcp.NewStdioTransport(transport.WithReader(r), transport.WithWriter(w)))
//	_ = c.Connect(ctx)
//	_, _ = c.Initialize(ctx)
//	tools, _ := c.ListTools(ctx)
package mcp

import (
	"github.com/mcplane/mcp-go/pkg/client"
	"github.com/mcplane/mcp-go/pkg/protocol"
	"github.com/mcplane/mcp-go/pkg/server"
	"github.com/mcplane/mcp-go/pkg/transport"
)

// Version is the release version of this module.
const Version = "0.1.0"

// ProtocolRevision is the protocol revision this engine speaks.
const ProtocolRevision = protocol.ProtocolRevision

// Re-exported wire types.
type (
	Tool           = protocol.Tool
	Resource       = protocol.Resource
	Prompt         = protocol.Prompt
	PromptArgument = protocol.PromptArgument
	PromptMessage  = protocol.PromptMessage
	Content        = protocol.Content
	CallToolResult = protocol.CallToolResult
)

// Re-exported handler types.
type (
	ToolHandler     = server.ToolHandler
	ResourceHandler = server.ResourceHandler
	PromptHandler   = server.PromptHandler
)

// Server is the serving half of the engine.
type Server = server.Server

// Client is the calling half of the engine.
type Client = client.Client

// NewServer creates a server bound to the given transport.
func NewServer(t transport.Transport, opts ...server.Option) *Server {
	return server.NewServer(t, opts...)
}

// NewClient creates a client bound to the given transport.
func NewClient(t transport.Transport, opts ...client.Option) *Client {
	return client.NewClient(t, opts...)
}

// NewStdioTransport creates a newline-delimited JSON transport over
// stdio, or over the streams given as options.
func NewStdioTransport(opts ...transport.StdioOption) *transport.StdioTransport {
	return transport.NewStdioTransport(opts...)
}

// TextContent wraps plain text into a tool result content item.
func TextContent(text string) Content {
	return protocol.TextContent(text)
}
