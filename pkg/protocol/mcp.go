package protocol

const (
	// ProtocolRevision is the protocol revision this engine speaks.
	ProtocolRevision = "2024-11-05"

	// Lifecycle methods.
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodShutdown    = "shutdown"

	// Server capability methods.
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodListPrompts   = "prompts/list"
	MethodGetPrompt     = "prompts/get"
)

// InitializeParams is sent by the client to open the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      *ClientInfo    `json:"clientInfo,omitempty"`
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ServerInfo identifies the serving peer.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ShutdownResult is the (empty) reply to a shutdown request.
type ShutdownResult struct{}
