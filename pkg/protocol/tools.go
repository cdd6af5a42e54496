package protocol

import "encoding/json"

// Tool describes a named server capability invocable via tools/call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the reply to tools/list. Tools appear in
// registration order.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one item of a tool result. Only text content is produced
// by this engine.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent wraps plain text into a content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the reply to tools/call. IsError marks results that
// describe a tool-level failure the handler chose to report in-band.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}
