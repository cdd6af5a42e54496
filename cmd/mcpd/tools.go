package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcplane/mcp-go/pkg/mcputil"
	"github.com/mcplane/mcp-go/pkg/protocol"
	"github.com/mcplane/mcp-go/pkg/server"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

type searchCodeArgs struct {
	Query string `json:"query" jsonschema:"description=Search keyword"`
	Path  string `json:"path,omitempty" jsonschema:"description=Restrict the search to this path prefix"`
}

type weatherArgs struct {
	City string `json:"city" jsonschema:"description=City name"`
}

// demoIndex is the corpus behind search_code. A real deployment would
// register tools backed by its own systems.
var demoIndex = map[string]string{
	"cmd/mcpd/main.go":  "func main() { ... }",
	"pkg/server/server": "func (s *Server) dispatch(req *protocol.Request)",
	"pkg/client/client": "func (c *Client) Call(ctx context.Context, method string, ...)",
}

func registerDemoCapabilities(srv *server.Server) error {
	echoSchema, err := mcputil.SchemaFor(echoArgs{})
	if err != nil {
		return err
	}
	if err := srv.RegisterTool(protocol.Tool{
		Name:        "echo",
		Description: "Echo the given text back unchanged",
		InputSchema: echoSchema,
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var p echoArgs
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return p.Text, nil
	}); err != nil {
		return err
	}

	searchSchema, err := mcputil.SchemaFor(searchCodeArgs{})
	if err != nil {
		return err
	}
	if err := srv.RegisterTool(protocol.Tool{
		Name:        "search_code",
		Description: "Search the demo code index for a keyword",
		InputSchema: searchSchema,
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var p searchCodeArgs
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		var hits []string
		for path, snippet := range demoIndex {
			if p.Path != "" && !strings.HasPrefix(path, p.Path) {
				continue
			}
			if strings.Contains(path, p.Query) || strings.Contains(snippet, p.Query) {
				hits = append(hits, fmt.Sprintf("%s: %s", path, snippet))
			}
		}
		if len(hits) == 0 {
			return fmt.Sprintf("no matches for %q", p.Query), nil
		}
		sort.Strings(hits)
		return strings.Join(hits, "\n"), nil
	}); err != nil {
		return err
	}

	weatherSchema, err := mcputil.SchemaFor(weatherArgs{})
	if err != nil {
		return err
	}
	if err := srv.RegisterTool(protocol.Tool{
		Name:        "get_weather",
		Description: "Report the (canned) weather for a city",
		InputSchema: weatherSchema,
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		var p weatherArgs
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Weather in %s: 21°C, partly cloudy", p.City), nil
	}); err != nil {
		return err
	}

	if err := srv.RegisterResource(protocol.Resource{
		URI:         "mcpd://README",
		Name:        "readme",
		Description: "What this server exposes and how to talk to it",
		MimeType:    "text/markdown",
	}, func(ctx context.Context) (string, error) {
		return "# mcpd\n\nA demo server speaking newline-delimited JSON-RPC on stdio.\n" +
			"Tools: echo, search_code, get_weather.\n", nil
	}); err != nil {
		return err
	}

	return srv.RegisterPrompt(protocol.Prompt{
		Name:        "code_review",
		Description: "Ask for a review of a diff",
		Arguments: []protocol.PromptArgument{
			{Name: "diff", Description: "Unified diff to review", Required: true},
			{Name: "focus", Description: "Aspect to focus on", Required: false},
		},
	}, func(ctx context.Context, args json.RawMessage) ([]protocol.PromptMessage, error) {
		var p struct {
			Diff  string `json:"diff"`
			Focus string `json:"focus"`
		}
		if err := json.Unmarshal(args, &p); err != nil {
			return nil, err
		}
		text := "Please review the following change"
		if p.Focus != "" {
			text += ", focusing on " + p.Focus
		}
		text += ":\n\n" + p.Diff
		return []protocol.PromptMessage{
			{Role: "user", Content: protocol.TextContent(text)},
		}, nil
	})
}
