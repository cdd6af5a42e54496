package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError classifies a failed decode. Code is ParseError for
// syntactically invalid payloads and InvalidRequest for well-formed
// JSON with an illegal envelope. ID carries the request id when one
// could be recovered, so the peer can still be answered.
type DecodeError struct {
	Code  ErrorCode
	ID    any
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode: %v", e.Cause)
	}
	return "decode: invalid message"
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// EncodeMessage serializes a *Request, *Notification or *Response into
// a single JSON value, stamping the envelope tag.
func EncodeMessage(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		m.JSONRPC = JSONRPCVersion
	case *Notification:
		m.JSONRPC = JSONRPCVersion
	case *Response:
		m.JSONRPC = JSONRPCVersion
	default:
		return nil, fmt.Errorf("encode: unsupported message type %T", msg)
	}
	return json.Marshal(msg)
}

// DecodeMessage parses one JSON value into a *Request, *Notification or
// *Response, enforcing structural well-formedness:
//
//   - the envelope tag must be present and equal to "2.0"
//   - a request/notification carries method; a response carries exactly
//     one of result and error
//   - a request id must be a string or a number; a notification has no
//     id; an error response may carry a null id
//
// Failures return a *DecodeError and never anything else.
func DecodeMessage(data []byte) (any, error) {
	var env struct {
		JSONRPC *string         `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  *string         `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Code: ParseError, Cause: err}
	}

	// The id is decoded early so that envelope-level rejections can
	// still be correlated by the peer.
	id, idOK := decodeID(env.ID)

	if env.JSONRPC == nil || *env.JSONRPC != JSONRPCVersion {
		return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("missing or unsupported jsonrpc version")}
	}

	hasID := len(env.ID) > 0 && !bytes.Equal(env.ID, []byte("null"))
	hasResult := len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null"))
	hasError := len(env.Error) > 0 && !bytes.Equal(env.Error, []byte("null"))

	switch {
	case env.Method != nil:
		if hasResult || hasError {
			return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("message carries both method and result/error")}
		}
		if *env.Method == "" {
			return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("empty method")}
		}
		if err := validParams(env.Params); err != nil {
			return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: err}
		}
		if !hasID {
			return &Notification{
				JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
				Method:         *env.Method,
				Params:         env.Params,
			}, nil
		}
		if !idOK {
			return nil, &DecodeError{Code: InvalidRequest, Cause: fmt.Errorf("request id must be a string or a number")}
		}
		return &Request{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			ID:             id,
			Method:         *env.Method,
			Params:         env.Params,
		}, nil

	case hasResult && hasError:
		return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("response carries both result and error")}

	case hasError:
		var werr Error
		if err := json.Unmarshal(env.Error, &werr); err != nil {
			return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("malformed error object: %w", err)}
		}
		if hasID && !idOK {
			return nil, &DecodeError{Code: InvalidRequest, Cause: fmt.Errorf("response id must be a string or a number")}
		}
		return &Response{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			ID:             id,
			Error:          &werr,
		}, nil

	case hasResult:
		if !hasID || !idOK {
			return nil, &DecodeError{Code: InvalidRequest, Cause: fmt.Errorf("result response requires a string or number id")}
		}
		return &Response{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			ID:             id,
			Result:         env.Result,
		}, nil

	default:
		return nil, &DecodeError{Code: InvalidRequest, ID: id, Cause: fmt.Errorf("message carries neither method nor result/error")}
	}
}

// decodeID parses a raw id value. Integral numbers come back as int64
// so the ids this engine issues survive a round trip unchanged.
func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch n := v.(type) {
	case string:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	default:
		return nil, false
	}
}

// validParams enforces that params, when present, is an object or an
// array as JSON-RPC 2.0 requires.
func validParams(raw json.RawMessage) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return fmt.Errorf("params must be an object or an array")
	}
	return nil
}
