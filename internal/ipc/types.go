package ipc

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Command names understood by the daemon.
const (
	CmdPair    = "pair"
	CmdApprove = "approve"
	CmdReject  = "reject"
	CmdRefresh = "refresh"
	CmdSweep   = "sweep"
	CmdStatus  = "status"
)

type Command struct {
	ID      int      `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Response carries Error as text so it survives the JSON round trip.
type Response struct {
	ID     int         `json:"id"`
	Error  string      `json:"error,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

type reply struct {
	ID     int             `json:"id"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Command.ID on the server side is assigned by the server, so two clients
// that number their commands the same way never share a pending entry.
type Server struct {
	listener    net.Listener
	commands    chan Command
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.Mutex
	nextID      atomic.Int64
	connections map[int]pendingCommand
	log         zerolog.Logger
}

// pendingCommand is a command still owed a response.
type pendingCommand struct {
	conn     net.Conn
	clientID int
}

type Client struct {
	conn net.Conn
}
