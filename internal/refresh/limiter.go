// Package refresh rate-limits ledger reloads requested from the Settings
// sheet, the operator surfaces and the auto-refresh timer.
package refresh

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/chain"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/schedule"
	"github.com/Maphikza/sheet-wallet/internal/schema"
)

// Trigger names, also used as metric labels.
const (
	TriggerFlag    = "flag"
	TriggerManual  = "manual"
	TriggerAuto    = "auto"
	TriggerStartup = "startup"
)

const (
	defaultCooldown     = 60 * time.Second
	defaultPollInterval = 10 * time.Second
	defaultAutoInterval = 60 * time.Minute
)

// Loader performs one reload with a freshly dialed provider.
type Loader interface {
	Load(ctx context.Context, p chain.Provider) error
}

type Config struct {
	Settings     *schema.SettingsTable
	Dialer       chain.Dialer
	RPCURL       string
	Loader       Loader
	Cooldown     time.Duration
	PollInterval time.Duration
	AutoInterval time.Duration
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// Limiter runs reloads no closer together than the cooldown. lastRefresh is
// the start time of the most recent run.
type Limiter struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	running     bool
	lastRefresh time.Time
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AutoInterval == 0 {
		cfg.AutoInterval = defaultAutoInterval
	}
	return &Limiter{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "refresh").Logger(),
		now:    time.Now,
	}
}

// CheckTrigger reads the refresh flag and runs a reload when the operator
// typed into it. It reports whether a reload ran.
func (l *Limiter) CheckTrigger(ctx context.Context) (bool, error) {
	flag, err := l.cfg.Settings.RefreshFlag(ctx)
	if err != nil {
		return false, err
	}
	flag = strings.TrimSpace(flag)

	switch flag {
	case "":
		return false, l.cfg.Settings.SetRefreshFlag(ctx, schema.RefreshDefault)
	case schema.RefreshDefault, schema.RefreshInProgress:
		return false, nil
	}

	if !l.claim() {
		l.logger.Debug().Msg("refresh requested inside cooldown, ignoring")
		return false, nil
	}

	if err := l.cfg.Settings.SetRefreshFlag(ctx, schema.RefreshInProgress); err != nil {
		l.logger.Warn().Err(err).Msg("failed to mark refresh in progress")
	}
	runErr := l.run(ctx, TriggerFlag)
	if err := l.cfg.Settings.SetRefreshFlag(ctx, schema.RefreshDefault); err != nil {
		l.logger.Warn().Err(err).Msg("failed to reset refresh flag")
	}
	return true, runErr
}

// RefreshNow runs a reload unless one started within the cooldown. The
// refresh flag is not touched.
func (l *Limiter) RefreshNow(ctx context.Context, trigger string) (bool, error) {
	if !l.claim() {
		l.logger.Debug().Str("trigger", trigger).Msg("refresh requested inside cooldown, ignoring")
		return false, nil
	}
	return true, l.run(ctx, trigger)
}

// LastRefresh returns the start time of the latest run.
func (l *Limiter) LastRefresh() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastRefresh
}

// Start launches the flag poll and the auto-refresh timer.
func (l *Limiter) Start(ctx context.Context) []*schedule.Task {
	poll := schedule.Every(ctx, l.cfg.PollInterval, func(ctx context.Context) bool {
		if _, err := l.CheckTrigger(ctx); err != nil {
			l.logger.Error().Err(err).Msg("refresh from flag failed")
		}
		return false
	})
	auto := schedule.Every(ctx, l.cfg.AutoInterval, func(ctx context.Context) bool {
		if l.now().Sub(l.LastRefresh()) < l.cfg.AutoInterval {
			return false
		}
		if _, err := l.RefreshNow(ctx, TriggerAuto); err != nil {
			l.logger.Error().Err(err).Msg("auto refresh failed")
		}
		return false
	})
	return []*schedule.Task{poll, auto}
}

func (l *Limiter) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.running {
		return false
	}
	if !l.lastRefresh.IsZero() && now.Sub(l.lastRefresh) < l.cfg.Cooldown {
		return false
	}
	l.running = true
	l.lastRefresh = now
	return true
}

func (l *Limiter) run(ctx context.Context, trigger string) error {
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.cfg.Metrics.RefreshRun(trigger)
	l.logger.Info().Str("trigger", trigger).Msg("refreshing wallet data")

	provider, err := l.cfg.Dialer.Dial(ctx, l.cfg.RPCURL)
	if err != nil {
		return err
	}
	defer provider.Close()

	return l.cfg.Loader.Load(ctx, provider)
}
