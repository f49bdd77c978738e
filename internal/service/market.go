package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
)

// Marketplace returns every minted badge with its listing state as seen
// by the connected wallet. Anonymous viewers get listings only.
func (g *Game) Marketplace(ctx context.Context) ([]domain.TokenView, error) {
	return g.market.Views(ctx, g.store.Snapshot().Address)
}

// ApproveMarketplace lets the marketplace transfer the signer's badges
func (g *Game) ApproveMarketplace(ctx context.Context) (chain.TxResult, error) {
	if _, err := g.signer(); err != nil {
		return chain.TxResult{}, err
	}

	res, err := g.market.Approve(ctx)
	if err != nil {
		g.reportMarketFailure("Approval Failed", err)
		return res, err
	}
	g.notify(domain.NotificationSuccess, "Approved", "The marketplace can now transfer your badges.")
	return res, nil
}

// ListToken offers tokenID for sale at price whole currency units
func (g *Game) ListToken(ctx context.Context, tokenID uint64, price string) (chain.TxResult, error) {
	addr, err := g.signer()
	if err != nil {
		return chain.TxResult{}, err
	}

	res, err := g.market.List(ctx, addr, tokenID, price)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPrice) {
			g.notify(domain.NotificationWarning, "Invalid Price", "Enter a price greater than zero.")
			return res, err
		}
		g.reportMarketFailure("Listing Failed", err)
		return res, err
	}
	g.notify(domain.NotificationSuccess, "Listed!", fmt.Sprintf("Token #%d is listed for %s CELO.", tokenID, price))
	return res, nil
}

// BuyToken buys tokenID. A nil payment pays the listed price.
func (g *Game) BuyToken(ctx context.Context, tokenID uint64, payment *big.Int) (chain.TxResult, error) {
	if _, err := g.signer(); err != nil {
		return chain.TxResult{}, err
	}

	res, err := g.market.Buy(ctx, tokenID, payment)
	if err != nil {
		g.reportMarketFailure("Purchase Failed", err)
		return res, err
	}
	g.notify(domain.NotificationSuccess, "Purchased!", fmt.Sprintf("Token #%d is now yours.", tokenID))
	return res, nil
}

// CancelListing withdraws the signer's listing for tokenID
func (g *Game) CancelListing(ctx context.Context, tokenID uint64) (chain.TxResult, error) {
	addr, err := g.signer()
	if err != nil {
		return chain.TxResult{}, err
	}

	res, err := g.market.Cancel(ctx, addr, tokenID)
	if err != nil {
		g.reportMarketFailure("Cancel Failed", err)
		return res, err
	}
	g.notify(domain.NotificationSuccess, "Canceled", fmt.Sprintf("The listing for token #%d was canceled.", tokenID))
	return res, nil
}

func (g *Game) reportMarketFailure(title string, err error) {
	if errors.Is(err, domain.ErrMarketplaceMissing) {
		g.notify(domain.NotificationWarning, "Marketplace Not Deployed", "The marketplace contract address is not configured.")
		return
	}
	g.reportFailure(title, err)
}
