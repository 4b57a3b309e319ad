package refresh

import (
	"context"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Maphikza/sheet-wallet/internal/chain"
	werrors "github.com/Maphikza/sheet-wallet/internal/errors"
	"github.com/Maphikza/sheet-wallet/internal/reconcile"
	"github.com/Maphikza/sheet-wallet/internal/schema"
	"github.com/Maphikza/sheet-wallet/internal/wallet"
)

const defaultLookback = 200

type HistoryConfig struct {
	Ledger      *schema.LedgerTable
	Settings    *schema.SettingsTable
	Address     ethcommon.Address
	ChainID     int64
	Lookback    uint64
	ExplorerURL string
	Logger      zerolog.Logger
}

// History rebuilds the ledger from the chain: it settles in-flight rows and
// appends wallet transactions found in recent blocks.
type History struct {
	cfg    HistoryConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewHistory(cfg HistoryConfig) *History {
	if cfg.Lookback == 0 {
		cfg.Lookback = defaultLookback
	}
	return &History{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Load runs one reload against p and stamps Last Updated.
func (h *History) Load(ctx context.Context, p chain.Provider) error {
	sweeper := reconcile.NewSweeper(reconcile.Config{
		Ledger:   h.cfg.Ledger,
		Provider: p,
		Logger:   h.logger,
	})
	res, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}

	found, err := h.scan(ctx, p)
	if err != nil {
		return err
	}

	if err := h.cfg.Settings.SetLastUpdated(ctx, h.now()); err != nil {
		h.logger.Warn().Err(err).Msg("failed to stamp last updated")
	}

	h.logger.Info().
		Int("settled", res.Updated).
		Int("discovered", found).
		Msg("wallet history loaded")
	return nil
}

func (h *History) scan(ctx context.Context, p chain.Provider) (int, error) {
	recs, err := h.cfg.Ledger.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read ledger")
	}
	known := make(map[string]bool, len(recs))
	for _, r := range recs {
		known[strings.ToLower(r.Hash)] = true
	}

	head, err := p.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get latest block")
	}
	var from uint64
	if head >= h.cfg.Lookback {
		from = head - h.cfg.Lookback + 1
	}

	signer := types.LatestSignerForChainID(big.NewInt(h.cfg.ChainID))
	var found []schema.TxRecord
	for n := from; n <= head; n++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		block, err := p.BlockHashes(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			h.logger.Warn().Err(err).Uint64("block", n).Msg("failed to fetch block, skipping")
			continue
		}
		for _, hash := range block.Hashes {
			key := strings.ToLower(hash.Hex())
			if known[key] {
				continue
			}
			tx, _, err := p.Transaction(ctx, hash)
			if err != nil {
				if werrors.Is(err, werrors.KindUnsupported) {
					h.logger.Debug().Str("tx_hash", hash.Hex()).Msg("skipping transaction of unsupported type")
				} else {
					h.logger.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("failed to fetch transaction, skipping")
				}
				continue
			}
			if tx == nil {
				continue
			}
			rec, ok := h.match(ctx, p, signer, block.Time, tx)
			if !ok {
				continue
			}
			known[key] = true
			found = append(found, rec)
		}
	}

	if err := h.cfg.Ledger.Append(ctx, found...); err != nil {
		return 0, errors.Wrap(err, "failed to append history")
	}
	return len(found), nil
}

// match returns the ledger row for tx when it moves funds from or to the wallet.
func (h *History) match(ctx context.Context, p chain.Provider, signer types.Signer, blockTime uint64, tx *types.Transaction) (schema.TxRecord, bool) {
	sender, err := types.Sender(signer, tx)
	if err != nil {
		return schema.TxRecord{}, false
	}
	to := tx.To()
	if sender != h.cfg.Address && (to == nil || *to != h.cfg.Address) {
		return schema.TxRecord{}, false
	}

	hash := tx.Hash().Hex()
	status := schema.TxPending
	receipt, err := p.Receipt(ctx, tx.Hash())
	if err != nil {
		h.logger.Debug().Err(err).Str("tx_hash", hash).Msg("receipt lookup failed")
	} else if receipt != nil {
		status = reconcile.StatusFromReceipt(receipt)
	}

	rec := schema.TxRecord{
		Hash:        hash,
		From:        sender.Hex(),
		Amount:      wallet.FormatEther(tx.Value()),
		Timestamp:   time.Unix(int64(blockTime), 0).UTC().Format(schema.TimeFormat),
		Status:      status,
		ExplorerURL: h.cfg.ExplorerURL + hash,
	}
	if to != nil {
		rec.To = to.Hex()
	}
	return rec, true
}
