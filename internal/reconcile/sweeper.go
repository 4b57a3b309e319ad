// Package reconcile moves in-flight ledger rows to their final status once
// the chain has a receipt for them.
package reconcile

import (
	"context"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/chain"
	"github.com/Maphikza/sheet-wallet/internal/metrics"
	"github.com/Maphikza/sheet-wallet/internal/schedule"
	"github.com/Maphikza/sheet-wallet/internal/schema"
)

const defaultCheckInterval = time.Minute

// Config holds configuration for the ledger sweeper.
type Config struct {
	Ledger        *schema.LedgerTable
	Provider      chain.Provider
	CheckInterval time.Duration
	Metrics       *metrics.Metrics // Optional
	Logger        zerolog.Logger
}

// Result summarises one sweep.
type Result struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Sweeper polls receipts for Pending and Processing ledger rows and marks
// them Success or Failed. Rows without a receipt are left for the next pass.
type Sweeper struct {
	ledger        *schema.LedgerTable
	provider      chain.Provider
	checkInterval time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// NewSweeper creates a new ledger sweeper.
func NewSweeper(cfg Config) *Sweeper {
	interval := cfg.CheckInterval
	if interval == 0 {
		interval = defaultCheckInterval
	}
	return &Sweeper{
		ledger:        cfg.Ledger,
		provider:      cfg.Provider,
		checkInterval: interval,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With().Str("component", "ledger_sweeper").Logger(),
	}
}

// Start begins the background sweep loop. The returned task ends once ctx
// is done and any sweep in progress has returned.
func (s *Sweeper) Start(ctx context.Context) *schedule.Task {
	return schedule.Every(ctx, s.checkInterval, func(ctx context.Context) bool {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("ledger sweep failed")
		}
		return false
	})
}

// Sweep runs one pass over the ledger. Only a failure to read the ledger
// is returned; per-row failures are logged and counted as skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	recs, err := s.ledger.List(ctx)
	if err != nil {
		return res, errors.Wrap(err, "failed to read ledger")
	}

	for _, rec := range recs {
		if !rec.Status.InFlight() || schema.IsPlaceholderHash(rec.Hash) {
			continue
		}
		res.Checked++

		status, ok, err := s.resolve(ctx, rec.Hash)
		if err != nil {
			s.logger.Warn().Err(err).Str("tx_hash", rec.Hash).Msg("failed to fetch receipt")
			res.Skipped++
			continue
		}
		if !ok {
			continue
		}

		changed, err := s.ledger.SetStatus(ctx, rec.Hash, status)
		if err != nil {
			s.logger.Warn().Err(err).Str("tx_hash", rec.Hash).Msg("failed to update ledger row")
			res.Skipped++
			continue
		}
		if changed {
			res.Updated++
			s.metrics.SweepUpdated(string(status))
			s.logger.Info().Str("tx_hash", rec.Hash).Str("status", string(status)).Msg("transaction finalised")
		}
	}

	if res.Checked > 0 {
		s.logger.Debug().
			Int("checked", res.Checked).
			Int("updated", res.Updated).
			Int("skipped", res.Skipped).
			Msg("ledger sweep complete")
	}
	return res, nil
}

func (s *Sweeper) resolve(ctx context.Context, hash string) (schema.TxStatus, bool, error) {
	receipt, err := s.provider.Receipt(ctx, ethcommon.HexToHash(hash))
	if err != nil {
		return "", false, err
	}
	if receipt == nil {
		return "", false, nil
	}
	return StatusFromReceipt(receipt), true, nil
}

// StatusFromReceipt maps a receipt status to the ledger status.
func StatusFromReceipt(r *types.Receipt) schema.TxStatus {
	if r.Status == types.ReceiptStatusSuccessful {
		return schema.TxSuccess
	}
	return schema.TxFailed
}
