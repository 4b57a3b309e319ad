// Package engine wires the session manager, the approval queue and the
// ledger loops into one daemon.
package engine

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/api"
	"github.com/Maphikza/sheet-wallet/internal/approval"
	"github.com/Maphikza/sheet-wallet/internal/chain"
	"github.com/Maphikza/sheet-wallet/internal/config"
	sheetdb "github.com/Maphikza/sheet-wallet/internal/database"
	"github.com/Maphikza/sheet-wallet/internal/dispatch"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/ipc"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/peer"
	"github.com/Maphikza/sheet-wallet/internal/reconcile"
	"github.com/Maphikza/sheet-wallet/internal/refresh"
	"github.com/Maphikza/sheet-wallet/internal/schedule"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/session"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
)

const (
	challengeSweepInterval = 10 * time.Minute
	challengeMaxAge        = 2 * time.Minute
)

type Config struct {
	Settings   config.Settings
	Grid       sheetdb.Grid
	Challenges *sheetdb.ChallengeStore

	Wallet *wallet.Wallet
	// Provider is the long-lived chain connection used for dispatch and
	// sweeps. Refreshes dial their own through Dialer.
	Provider chain.Provider
	Dialer   chain.Dialer
	Client   peer.Client

	JWTKey  []byte
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Engine is the running daemon. It implements api.Backend so the HTTP API
// and the IPC commands drive the same operations.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	sessions *schema.SessionTable
	requests *schema.RequestTable
	ledger   *schema.LedgerTable
	settings *schema.SettingsTable
	logs     *schema.LogTable

	manager  *session.Manager
	queue    *approval.Queue
	sweeper  *reconcile.Sweeper
	limiter  *refresh.Limiter
	history  *refresh.History
	api      *api.API
	executor *dispatch.Dispatcher
}

func New(cfg Config) *Engine {
	s := cfg.Settings
	logger := cfg.Logger.With().Str("component", "engine").Logger()

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		sessions: schema.NewSessionTable(cfg.Grid),
		requests: schema.NewRequestTable(cfg.Grid),
		ledger:   schema.NewLedgerTable(cfg.Grid),
		settings: schema.NewSettingsTable(cfg.Grid),
		logs:     schema.NewLogTable(cfg.Grid),
	}

	e.executor = dispatch.New(dispatch.Config{
		Signer:      cfg.Wallet,
		Provider:    cfg.Provider,
		Ledger:      e.ledger,
		ExplorerURL: s.ExplorerURL,
		Metrics:     cfg.Metrics,
		Logger:      cfg.Logger,
	})

	e.queue = approval.New(approval.Config{
		Requests:       e.requests,
		Executor:       e.executor,
		Responder:      cfg.Client,
		Logs:           e.logs,
		PollInterval:   s.ApprovalPollInterval,
		PendingTTL:     s.PendingTTL,
		ClearCompleted: s.ClearCompletedRequests,
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
	})

	e.manager = session.NewManager(session.Config{
		Sessions:       e.sessions,
		Client:         cfg.Client,
		Queue:          e.queue,
		Logs:           e.logs,
		Address:        cfg.Wallet.Address().Hex(),
		ChainID:        s.ChainID,
		ApprovalPolicy: approvalPolicy(s),
		Metrics:        cfg.Metrics,
		Logger:         cfg.Logger,
	})

	e.sweeper = reconcile.NewSweeper(reconcile.Config{
		Ledger:        e.ledger,
		Provider:      cfg.Provider,
		CheckInterval: s.SweepInterval,
		Metrics:       cfg.Metrics,
		Logger:        cfg.Logger,
	})

	e.history = refresh.NewHistory(refresh.HistoryConfig{
		Ledger:      e.ledger,
		Settings:    e.settings,
		Address:     cfg.Wallet.Address(),
		ChainID:     s.ChainID,
		Lookback:    s.HistoryLookbackBlocks,
		ExplorerURL: s.ExplorerURL,
		Logger:      cfg.Logger,
	})

	e.limiter = refresh.NewLimiter(refresh.Config{
		Settings:     e.settings,
		Dialer:       cfg.Dialer,
		RPCURL:       s.RPCURL,
		Loader:       e.history,
		Cooldown:     s.RefreshCooldown,
		PollInterval: s.RefreshPollInterval,
		AutoInterval: s.AutoRefreshInterval,
		Metrics:      cfg.Metrics,
		Logger:       cfg.Logger,
	})

	e.api = api.NewAPI(api.Config{
		Backend:       e,
		Challenges:    cfg.Challenges,
		Metrics:       cfg.Metrics,
		UserPubkey:    s.UserPubkey,
		AllowedOrigin: s.AllowedOrigin,
		JWTKey:        cfg.JWTKey,
		Logger:        cfg.Logger,
	})

	return e
}

func approvalPolicy(s config.Settings) werrors.Policy {
	p := werrors.SessionApprovalPolicy()
	if s.SessionApprovalAttempts > 0 {
		p = p.WithAttempts(s.SessionApprovalAttempts)
	}
	if s.SessionApprovalBackoff > 0 {
		p = p.WithBackoff(werrors.Fixed(s.SessionApprovalBackoff))
	}
	return p
}

// API returns the HTTP surface backed by this engine.
func (e *Engine) API() *api.API {
	return e.api
}

// Run starts every loop and blocks until ctx ends or the peer client's
// event stream closes. Loops are stopped before it returns.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := e.cfg.Settings
	e.logger.Info().
		Str("address", e.cfg.Wallet.Address().Hex()).
		Int64("chain_id", s.ChainID).
		Str("key_source", e.cfg.Wallet.Source()).
		Msg("wallet engine starting")

	var tasks []*schedule.Task
	tasks = append(tasks, e.manager.WatchPairing(ctx, s.PairingPollInterval))
	tasks = append(tasks, e.limiter.Start(ctx)...)
	tasks = append(tasks, e.sweeper.Start(ctx))
	if e.cfg.Challenges != nil {
		tasks = append(tasks, schedule.Every(ctx, challengeSweepInterval, e.expireChallenges))
	}

	if s.IPCSocket != "" {
		server, err := ipc.NewServer(s.IPCSocket)
		if err != nil {
			return werrors.Wrap(err, werrors.KindInternal, "start_ipc", "failed to create IPC server")
		}
		defer server.Close()
		go e.HandleIPCCommands(ctx, server)
	}

	errCh := make(chan error, 2)
	if s.ServerMode {
		go func() {
			if err := e.api.Serve(ctx, s.APIPort); err != nil {
				errCh <- err
			}
		}()
	}

	go e.loadOnStartup(ctx)

	go func() {
		errCh <- e.manager.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			e.logger.Error().Err(runErr).Msg("engine loop stopped")
		}
	}

	cancel()
	e.queue.Stop()
	for _, t := range tasks {
		t.Cancel()
	}
	waitCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	for _, t := range tasks {
		t.Wait(waitCtx)
	}
	e.logger.Info().Msg("wallet engine stopped")

	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (e *Engine) expireChallenges(ctx context.Context) bool {
	if err := e.cfg.Challenges.ExpireOldChallenges(ctx, challengeMaxAge); err != nil {
		e.logger.Warn().Err(err).Msg("failed to expire login challenges")
	}
	return false
}

// loadOnStartup fills an empty ledger from recent chain history.
func (e *Engine) loadOnStartup(ctx context.Context) {
	recs, err := e.ledger.List(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to read ledger on startup")
		return
	}
	if len(recs) > 0 {
		return
	}
	if _, err := e.limiter.RefreshNow(ctx, refresh.TriggerStartup); err != nil {
		e.logger.Error().Err(err).Msg("startup history load failed")
	}
}

// Close releases the peer client and the chain provider.
func (e *Engine) Close() {
	if e.cfg.Client != nil {
		if err := e.cfg.Client.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to close peer client")
		}
	}
	if e.cfg.Provider != nil {
		e.cfg.Provider.Close()
	}
}
