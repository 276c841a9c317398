package service

import (
	"context"

	"credit-ledger/internal/core/domain"
	"credit-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// notifyBalanceChanged publishes one balance-changed event per distinct wallet.
// It runs after commit, so a publish failure is logged and never undoes the
// ledger change.
func notifyBalanceChanged(ctx context.Context, events ports.EventPublisher, log zerolog.Logger, refs ...domain.WalletRef) {
	seen := make(map[domain.WalletRef]bool, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		err := events.PublishBalanceChanged(ctx, domain.BalanceChanged{WalletID: ref.WalletID, OwnerID: ref.OwnerID})
		if err != nil {
			log.Error().Err(err).
				Str("wallet_id", ref.WalletID.String()).
				Int64("owner_id", ref.OwnerID).
				Msg("failed to publish balance changed")
		}
	}
}
