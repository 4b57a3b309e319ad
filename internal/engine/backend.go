package engine

import (
	"context"
	"fmt"

	"github.com/Maphikza/sheet-wallet/internal/api"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/ipc"
	"github.com/Maphikza/sheet-wallet/internal/reconcile"
	"github.com/Maphikza/sheet-wallet/internal/refresh"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
)

var _ api.Backend = (*Engine)(nil)

func (e *Engine) ListRequests(ctx context.Context) ([]schema.PendingRequest, error) {
	return e.queue.List(ctx)
}

// ResolveRequest ticks the approve or reject box for a pending row.
func (e *Engine) ResolveRequest(ctx context.Context, requestID string, approve bool) error {
	return e.queue.Resolve(ctx, requestID, approve)
}

func (e *Engine) ListConnections(ctx context.Context) ([]schema.Connection, error) {
	return e.manager.List(ctx)
}

func (e *Engine) Connect(ctx context.Context, uri string) (string, error) {
	return e.manager.Connect(ctx, uri)
}

// Refresh runs a manual reload, subject to the cooldown.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	return e.limiter.RefreshNow(ctx, refresh.TriggerManual)
}

func (e *Engine) Sweep(ctx context.Context) (reconcile.Result, error) {
	return e.sweeper.Sweep(ctx)
}

// Status summarises the wallet. A balance lookup failure is logged and the
// balance left empty.
func (e *Engine) Status(ctx context.Context) (api.WalletStatus, error) {
	st := api.WalletStatus{
		Address:     e.cfg.Wallet.Address().Hex(),
		ChainID:     e.cfg.Settings.ChainID,
		LastRefresh: e.limiter.LastRefresh(),
	}

	conns, err := e.sessions.List(ctx)
	if err != nil {
		return st, err
	}
	for _, c := range conns {
		if c.Status == schema.ConnConnected {
			st.Connections++
		}
	}

	reqs, err := e.requests.List(ctx)
	if err != nil {
		return st, err
	}
	for _, r := range reqs {
		if r.Disposition() == schema.ReqPending {
			st.PendingRequests++
		}
	}

	if e.cfg.Provider != nil {
		bal, err := e.cfg.Provider.Balance(ctx, e.cfg.Wallet.Address())
		if err != nil {
			e.logger.Warn().Err(err).Msg("failed to fetch balance")
		} else {
			st.Balance = wallet.FormatEther(bal)
		}
	}
	return st, nil
}

// HandleIPCCommands answers CLI commands until ctx ends.
func (e *Engine) HandleIPCCommands(ctx context.Context, server *ipc.Server) {
	for {
		var cmd ipc.Command
		select {
		case <-ctx.Done():
			return
		case cmd = <-server.Commands():
		}
		result, err := e.handleCommand(ctx, cmd)

		response := ipc.Response{ID: cmd.ID, Result: result}
		if err != nil {
			response.Error = err.Error()
			e.logger.Warn().Err(err).Str("command", cmd.Command).Msg("IPC command failed")
		} else {
			e.logger.Debug().Str("command", cmd.Command).Msg("IPC command handled")
		}
		server.SendResponse(cmd.ID, response)
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd ipc.Command) (interface{}, error) {
	arg := func() (string, error) {
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return "", werrors.Validation("ipc_"+cmd.Command, cmd.Command+" needs an argument")
		}
		return cmd.Args[0], nil
	}

	switch cmd.Command {
	case ipc.CmdPair:
		uri, err := arg()
		if err != nil {
			return nil, err
		}
		id, err := e.Connect(ctx, uri)
		if err != nil {
			return nil, err
		}
		return map[string]string{"connection_id": id}, nil
	case ipc.CmdApprove, ipc.CmdReject:
		id, err := arg()
		if err != nil {
			return nil, err
		}
		approve := cmd.Command == ipc.CmdApprove
		if err := e.ResolveRequest(ctx, id, approve); err != nil {
			return nil, err
		}
		status := schema.ReqApproved
		if !approve {
			status = schema.ReqRejected
		}
		return map[string]string{"request_id": id, "status": string(status)}, nil
	case ipc.CmdRefresh:
		started, err := e.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"started": started}, nil
	case ipc.CmdSweep:
		return e.Sweep(ctx)
	case ipc.CmdStatus:
		return e.Status(ctx)
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd.Command)
	}
}
