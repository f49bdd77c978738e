package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/reconcile"
)

// ClaimRewards claims the missing rewards of a completed stage for the
// signing wallet. The flow waits on the confirmation dialog.
func (g *Game) ClaimRewards(ctx context.Context, stage int64) (reconcile.Result, error) {
	addr, err := g.signer()
	if err != nil {
		return reconcile.Result{}, err
	}

	res, err := g.reconciler.Claim(ctx, reconcile.Request{Address: addr, Stage: stage})
	if errors.Is(err, domain.ErrStageNotCompleted) {
		g.notify(domain.NotificationWarning, "Stage Not Completed",
			fmt.Sprintf("Complete Stage %d before claiming its rewards.", stage))
	}
	return res, err
}

// PurchaseItem spends in-game coins on a shop item
func (g *Game) PurchaseItem(ctx context.Context, itemType string, cost int64) error {
	addr, err := g.signer()
	if err != nil {
		return err
	}

	if p, ok := g.store.CachedPlayer(addr); ok && p.InGameCoins < cost {
		g.notify(domain.NotificationWarning, "Insufficient Coins",
			fmt.Sprintf("You have %d coins but need %d.", p.InGameCoins, cost))
		return domain.ErrInsufficientCoins
	}

	if _, err := g.writer.PurchaseItem(ctx, itemType, cost); err != nil {
		g.reportFailure("Purchase Failed", err)
		return err
	}
	g.notify(domain.NotificationSuccess, "Purchase Successful", fmt.Sprintf("Successfully purchased %s!", itemType))

	g.reload(ctx, addr)
	return nil
}
