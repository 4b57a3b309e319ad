package session

import (
	"context"
	"strings"
	"time"

	"github.com/Maphikza/sheet-wallet/internal/dispatch"
	"github.com/Maphikza/sheet-wallet/internal/schedule"
	"github.com/Maphikza/sheet-wallet/internal/walletconnect"
)

// WatchPairing polls the pairing input cell every interval and connects to
// any wc: URI pasted there.
func (m *Manager) WatchPairing(ctx context.Context, interval time.Duration) *schedule.Task {
	return schedule.Now(ctx, interval, func(ctx context.Context) bool {
		if _, err := m.CheckPairingInput(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("pairing input check failed")
		}
		return false
	})
}

// CheckPairingInput reads the pairing cell once. A wc: URI is connected and
// the cell cleared, whether or not the connection succeeded, so a bad URI
// is tried only once. Other content is left alone.
func (m *Manager) CheckPairingInput(ctx context.Context) (string, error) {
	raw, err := m.cfg.Sessions.PairingInput(ctx)
	if err != nil {
		return "", err
	}
	uri := strings.TrimSpace(raw)
	if !strings.HasPrefix(uri, walletconnect.URIScheme) {
		return "", nil
	}

	m.logger.Info().Msg("new WalletConnect URL found in sheet")
	id, connErr := m.Connect(ctx, uri)
	if err := m.cfg.Sessions.ClearPairingInput(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear pairing input")
	}
	if connErr != nil && id == "" {
		// Rejected before a row existed, so nothing else tells the operator.
		m.audit(ctx, "Could not use WalletConnect URL: "+dispatch.Detail(connErr))
	}
	return id, connErr
}
