package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to ~100 bytes; t.TempDir can exceed that.
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "w.sock")
}

func serve(t *testing.T, s *Server) {
	go func() {
		for cmd := range s.Commands() {
			switch cmd.Command {
			case CmdStatus:
				s.SendResponse(cmd.ID, Response{Result: map[string]string{"address": "0xabc"}})
			case CmdApprove:
				s.SendResponse(cmd.ID, Response{Result: map[string]string{"request_id": cmd.Args[0]}})
			default:
				s.SendResponse(cmd.ID, Response{Error: "unknown command: " + cmd.Command})
			}
		}
	}()
}

func send(t *testing.T, path, command string, args ...string) (json.RawMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := NewClient(ctx, path)
	require.NoError(t, err)
	defer c.Close()
	return c.SendCommand(ctx, command, args)
}

func TestRoundTrip(t *testing.T) {
	path := socketPath(t)
	s, err := NewServer(path)
	require.NoError(t, err)
	defer s.Close()
	serve(t, s)

	res, err := send(t, path, CmdStatus)
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"0xabc"}`, string(res))

	res, err = send(t, path, CmdApprove, "req-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"request_id":"req-1"}`, string(res))

	_, err = send(t, path, "bogus")
	assert.EqualError(t, err, "unknown command: bogus")
}

func TestStaleSocketIsReplaced(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0600))

	s, err := NewServer(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestClientWithoutDaemon(t *testing.T) {
	_, err := NewClient(context.Background(), socketPath(t))
	assert.ErrorContains(t, err, "is the wallet daemon running?")
}

func TestClientsWithSameCommandIDGetTheirOwnResponse(t *testing.T) {
	path := socketPath(t)
	s, err := NewServer(path)
	require.NoError(t, err)
	defer s.Close()

	// Hold both commands, then answer in reverse arrival order.
	go func() {
		first := <-s.Commands()
		second := <-s.Commands()
		for _, cmd := range []Command{second, first} {
			s.SendResponse(cmd.ID, Response{Result: map[string]string{"for": cmd.Args[0]}})
		}
	}()

	dial := func(arg string) net.Conn {
		conn, err := net.Dial("unix", path)
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(conn).Encode(Command{ID: 1, Command: CmdApprove, Args: []string{arg}}))
		return conn
	}
	connA := dial("req-A")
	defer connA.Close()
	connB := dial("req-B")
	defer connB.Close()

	for conn, want := range map[net.Conn]string{connA: "req-A", connB: "req-B"} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var resp reply
		require.NoError(t, json.NewDecoder(conn).Decode(&resp))
		assert.Equal(t, 1, resp.ID)
		assert.JSONEq(t, `{"for":"`+want+`"}`, string(resp.Result))
	}
}
