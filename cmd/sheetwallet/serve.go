package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Maphikza/sheet-wallet/internal/api"
	"github.com/Maphikza/sheet-wallet/internal/chain"
	"github.com/Maphikza/sheet-wallet/internal/config"
	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	"github.com/Maphikza/sheet-wallet/internal/engine"
	"github.com/Maphikza/sheet-wallet/internal/logger"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
	"github.com/Maphikza/sheet-wallet/internal/walletconnect"
)

const jwtKeyName = "sheetwallet"

var walletMetadata = peer.Metadata{
	Name:        "Sheet Wallet",
	Description: "Spreadsheet approved EVM wallet",
	URL:         "https://github.com/Maphikza/sheet-wallet",
	Icons:       []string{},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the wallet daemon",
	Long: `Connect to the chain and the WalletConnect relay, then watch the
spreadsheet for pairing URLs, approvals and refresh requests.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if rotate, _ := cmd.Flags().GetBool("rotate-log"); rotate {
			if err := logger.RotateLog(settings.LogFile); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, settings)
	},
}

func init() {
	serveCmd.Flags().Bool("rotate-log", false, "Truncate the log file before starting")
}

func serve(ctx context.Context, s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	log := logger.Log

	store, w, err := openWallet(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close()

	dialer := chain.EthDialer{ExpectedChainID: s.ChainID, Logger: log}
	provider, err := dialer.Dial(ctx, s.RPCURL)
	if err != nil {
		return err
	}

	client, err := walletconnect.Dial(ctx, walletconnect.Config{
		RelayURL:  s.RelayURL,
		ProjectID: s.ProjectID,
		Metadata:  walletMetadata,
		Logger:    log,
	})
	if err != nil {
		provider.Close()
		return err
	}

	jwtKey, err := api.EnsureJWTKey(s.JWTKeysDir, jwtKeyName)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize JWT key, API login disabled")
	}

	eng := engine.New(engine.Config{
		Settings:   s,
		Grid:       store.Grid,
		Challenges: store.Challenges,
		Wallet:     w,
		Provider:   provider,
		Dialer:     dialer,
		Client:     client,
		JWTKey:     jwtKey,
		Metrics:    metrics.New(),
		Logger:     log,
	})
	defer eng.Close()

	logger.Info("Sheet wallet initialized successfully", "address", w.Address().Hex(), "backend", string(store.Backend))
	return eng.Run(ctx)
}

// openWallet opens the store, resolves the wallet key and makes sure every
// sheet exists.
func openWallet(ctx context.Context, s config.Settings) (*sheetdb.Store, *wallet.Wallet, error) {
	store, err := sheetdb.Open(ctx, s)
	if err != nil {
		return nil, nil, err
	}

	w, err := wallet.Open(walletOptions(s))
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	if err := schema.Bootstrap(ctx, store.Grid, schema.Identity{
		WalletAddress: w.Address().Hex(),
		OwnerEmail:    s.OwnerEmail,
		ChainID:       s.ChainID,
	}); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, w, nil
}

func walletOptions(s config.Settings) wallet.Options {
	return wallet.Options{
		PrivateKey:    s.WalletPrivateKey,
		Mnemonic:      s.WalletMnemonic,
		EnvPath:       s.WalletEnvPath,
		Password:      s.WalletPassword,
		SpreadsheetID: s.SpreadsheetID,
		OwnerEmail:    s.OwnerEmail,
		Salt:          s.WalletSalt,
		ChainID:       s.ChainID,
	}
}
