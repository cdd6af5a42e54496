// Package protocol defines the JSON-RPC 2.0 envelopes, the MCP method
// surface, and the session lifecycle state machine shared by the client
// and server halves of the engine.
//
// The codec in this package is strict: DecodeMessage classifies every
// failure as either a parse error (syntactically invalid bytes) or an
// invalid request (well-formed JSON with an illegal envelope), and
// both are recoverable per message.
package protocol
