package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/Maphikza/sheet-wallet/internal/logger"
)

const windowsSocketPort = "127.0.0.1:7070"

var commandID atomic.Int64
var osType = runtime.GOOS

func generateCommandID() int {
	return int(commandID.Add(1))
}

func network(socketPath string) (string, string) {
	if osType == "windows" {
		return "tcp", windowsSocketPort
	}
	return "unix", socketPath
}

// NewServer listens on socketPath (a TCP port on Windows). A stale socket
// file left by a previous run is removed first.
func NewServer(socketPath string) (*Server, error) {
	netw, addr := network(socketPath)
	if netw == "unix" {
		if _, err := os.Stat(addr); err == nil {
			if err := os.Remove(addr); err != nil {
				return nil, fmt.Errorf("failed to remove existing socket file: %v", err)
			}
		}
	}

	listener, err := net.Listen(netw, addr)
	if err != nil {
		return nil, err
	}

	server := &Server{
		listener:    listener,
		commands:    make(chan Command),
		done:        make(chan struct{}),
		connections: make(map[int]pendingCommand),
		log:         logger.Component("ipc"),
	}

	go server.accept()

	return server, nil
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	dec := json.NewDecoder(conn)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("failed to read IPC command")
			}
			s.drop(conn)
			return
		}
		if cmd.ID <= 0 {
			continue
		}

		clientID := cmd.ID
		cmd.ID = int(s.nextID.Add(1))
		s.mutex.Lock()
		s.connections[cmd.ID] = pendingCommand{conn: conn, clientID: clientID}
		s.mutex.Unlock()

		select {
		case s.commands <- cmd:
		case <-s.done:
			s.drop(conn)
			return
		}
	}
}

// drop forgets and closes conn unless a response is still owed on it.
func (s *Server) drop(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, p := range s.connections {
		if p.conn == conn {
			return
		}
	}
	conn.Close()
}

func (s *Server) Commands() <-chan Command {
	return s.commands
}

// SendResponse writes response to the connection that sent command id and
// closes it. The response carries the client's own command ID.
func (s *Server) SendResponse(id int, response Response) {
	s.mutex.Lock()
	pending, exists := s.connections[id]
	delete(s.connections, id)
	s.mutex.Unlock()

	if !exists {
		s.log.Warn().Int("command_id", id).Msg("connection for command not found")
		return
	}
	defer pending.conn.Close()

	response.ID = pending.clientID
	if err := json.NewEncoder(pending.conn).Encode(response); err != nil {
		s.log.Warn().Err(err).Int("command_id", id).Msg("failed to write IPC response")
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

func NewClient(ctx context.Context, socketPath string) (*Client, error) {
	netw, addr := network(socketPath)
	var d net.Dialer
	conn, err := d.DialContext(ctx, netw, addr)
	if err != nil {
		return nil, fmt.Errorf("is the wallet daemon running? %w", err)
	}
	return &Client{conn: conn}, nil
}

// SendCommand sends one command and waits for its response. The raw JSON
// result is returned so callers can print or decode it.
func (c *Client) SendCommand(ctx context.Context, command string, args []string) (json.RawMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}

	cmd := Command{
		ID:      generateCommandID(),
		Command: command,
		Args:    args,
	}
	if err := json.NewEncoder(c.conn).Encode(cmd); err != nil {
		return nil, fmt.Errorf("error writing command to connection: %v", err)
	}

	var resp reply
	if err := json.NewDecoder(c.conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("error reading response from connection: %v", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return resp.Result, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
