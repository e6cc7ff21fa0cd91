// Package jsonrpc builds the JSON-RPC 2.0 envelopes mcpgate sends upstream.
package jsonrpc

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// MethodInitialize is the MCP handshake method.
const MethodInitialize = "initialize"

// ClientName and ClientVersion identify mcpgate in initialize requests.
var (
	ClientName    = "mcpgate"
	ClientVersion = "dev"
)

// Envelope is a JSON-RPC 2.0 request. A nil ID marks a notification and is
// omitted from the wire form.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// NewEnvelope wraps method, params and id. Empty params or id are dropped.
func NewEnvelope(method string, params, id json.RawMessage) *Envelope {
	env := &Envelope{JSONRPC: mcp.JSONRPC_VERSION, Method: method}
	if len(params) > 0 && string(params) != "null" {
		env.Params = params
	}
	if len(id) > 0 && string(id) != "null" {
		env.ID = id
	}
	return env
}

// Marshal returns the wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    mcp.ClientCapabilities `json:"capabilities"`
	ClientInfo      mcp.Implementation     `json:"clientInfo"`
}

// NewInitialize builds an initialize request with a fresh UUID id.
func NewInitialize() (*Envelope, error) {
	params, err := json.Marshal(initializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		ClientInfo: mcp.Implementation{
			Name:    ClientName,
			Version: ClientVersion,
		},
	})
	if err != nil {
		return nil, err
	}

	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return nil, err
	}

	return NewEnvelope(MethodInitialize, params, id), nil
}
