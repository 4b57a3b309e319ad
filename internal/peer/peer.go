// Package peer defines the session protocol surface the engine consumes.
// internal/walletconnect provides the relay-backed implementation.
package peer

import (
	"context"
	"encoding/json"
)

// JSON-RPC error codes sent back to peers.
const (
	CodeUserRejected = 4001
	CodeInternal     = 5000
)

type EventKind string

const (
	EventProposal       EventKind = "session_proposal"
	EventRequest        EventKind = "session_request"
	EventDelete         EventKind = "session_delete"
	EventTransportError EventKind = "transport_error"
)

type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

type Namespaces map[string]Namespace

// Proposal is an inbound request to open a session.
type Proposal struct {
	ID                 uint64
	PairingTopic       string
	Proposer           Metadata
	ProposerPublicKey  string
	RequiredNamespaces Namespaces
	OptionalNamespaces Namespaces
}

// Request is an RPC call from a connected peer.
type Request struct {
	ID      uint64
	Topic   string
	ChainID string
	Method  string
	Params  json.RawMessage
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID      uint64      `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

func Result(id uint64, result interface{}) Response {
	return Response{ID: id, JSONRPC: "2.0", Result: result}
}

func Error(id uint64, code int, message string) Response {
	return Response{ID: id, JSONRPC: "2.0", Error: &RPCError{Code: code, Message: message}}
}

// Session is an approved session.
type Session struct {
	Topic      string
	Peer       Metadata
	Namespaces Namespaces
	Expiry     int64
}

// Event is emitted on Client.Events. Err is already classified with an
// errors.Kind (KindAuth or KindTransport) for transport errors.
type Event struct {
	Kind     EventKind
	Proposal *Proposal
	Request  *Request
	Topic    string
	Err      error
}

type Client interface {
	// Pair joins the pairing described by uri and returns its topic.
	Pair(ctx context.Context, uri string) (string, error)
	ApproveSession(ctx context.Context, proposal Proposal, namespaces Namespaces) (Session, error)
	RespondSessionRequest(ctx context.Context, topic string, resp Response) error
	RestartTransport(ctx context.Context) error
	Events() <-chan Event
	Close() error
}
