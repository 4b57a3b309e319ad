package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Maphikza/sheet-wallet/internal/ipc"
)

const commandTimeout = 2 * time.Minute

// sendCommand forwards one command to the running daemon and prints the
// JSON result.
func sendCommand(ctx context.Context, command string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	client, err := ipc.NewClient(ctx, settings.IPCSocket)
	if err != nil {
		return fmt.Errorf("error connecting to wallet daemon: %w", err)
	}
	defer client.Close()

	result, err := client.SendCommand(ctx, command, args)
	if err != nil {
		return err
	}

	var out interface{}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &out); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func daemonCommand(use, short, command string, args cobra.PositionalArgs) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd.Context(), command, args)
		},
	}
}

var (
	pairCmd    = daemonCommand("pair [wc-uri]", "Connect to a dApp with a WalletConnect URL", ipc.CmdPair, cobra.ExactArgs(1))
	approveCmd = daemonCommand("approve [request-id]", "Approve a pending request", ipc.CmdApprove, cobra.ExactArgs(1))
	rejectCmd  = daemonCommand("reject [request-id]", "Reject a pending request", ipc.CmdReject, cobra.ExactArgs(1))
	refreshCmd = daemonCommand("refresh", "Reload transaction history", ipc.CmdRefresh, cobra.NoArgs)
	sweepCmd   = daemonCommand("sweep", "Settle in-flight transactions", ipc.CmdSweep, cobra.NoArgs)
	statusCmd  = daemonCommand("status", "Show wallet status", ipc.CmdStatus, cobra.NoArgs)
)
