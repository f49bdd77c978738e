package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/metrics"
)

// Writer submits marketplace transactions.
type Writer interface {
	ApproveMarketplace(ctx context.Context) (chain.TxResult, error)
	ListItem(ctx context.Context, tokenID uint64, price *big.Int) (chain.TxResult, error)
	BuyItem(ctx context.Context, tokenID uint64, price *big.Int) (chain.TxResult, error)
	CancelListing(ctx context.Context, tokenID uint64) (chain.TxResult, error)
}

// MetadataFetcher loads token metadata.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (Metadata, error)
}

// Config holds the scan settings.
type Config struct {
	// ProbeCeiling bounds the scan when totalSupply cannot be read
	ProbeCeiling uint64
	ScanRate     float64
	ScanBurst    int
}

// Controller enumerates badges and guards marketplace actions with local
// precondition checks.
type Controller struct {
	badge      chain.Caller
	market     chain.Caller
	marketAddr common.Address
	writer     Writer
	metadata   MetadataFetcher
	limiter    *rate.Limiter
	ceiling    uint64
	logger     *slog.Logger
}

// NewController creates a marketplace controller. market may be nil when
// no marketplace contract is configured.
func NewController(badge, market chain.Caller, marketAddr common.Address, writer Writer, metadata MetadataFetcher, cfg Config, logger *slog.Logger) *Controller {
	limit := rate.Inf
	if cfg.ScanRate > 0 {
		limit = rate.Limit(cfg.ScanRate)
	}
	burst := cfg.ScanBurst
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		badge:      badge,
		market:     market,
		marketAddr: marketAddr,
		writer:     writer,
		metadata:   metadata,
		limiter:    rate.NewLimiter(limit, burst),
		ceiling:    cfg.ProbeCeiling,
		logger:     logger,
	}
}

// Enumerate scans token ids 1..totalSupply. The scan stops at the first
// ownerOf failure, so a burned or unreadable token truncates the result.
func (c *Controller) Enumerate(ctx context.Context, viewer string) ([]domain.NFT, error) {
	supply := c.ceiling
	if out, err := c.badge.Call(ctx, "totalSupply"); err != nil {
		c.logger.Warn("totalSupply unavailable, probing", "ceiling", c.ceiling, "error", err)
	} else if n, err := chain.ToBigInt(out[0]); err == nil && n.IsUint64() {
		supply = n.Uint64()
	}

	nfts := make([]domain.NFT, 0)
	for id := uint64(1); id <= supply; id++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		owner, err := c.ownerOf(ctx, id)
		if err != nil {
			c.logger.Info("marketplace scan stopped", "token_id", id, "error", err)
			break
		}
		if owner == (common.Address{}) {
			continue
		}

		badge := domain.BadgeForToken(id)
		nft := domain.NFT{
			TokenID:       id,
			Name:          badge.Name,
			Image:         badge.Image,
			Owner:         owner.Hex(),
			OwnedByViewer: chain.EqualAddress(owner.Hex(), viewer),
		}
		c.applyMetadata(ctx, &nft)
		nfts = append(nfts, nft)
	}

	metrics.SetScannedTokens(len(nfts))
	return nfts, nil
}

func (c *Controller) applyMetadata(ctx context.Context, nft *domain.NFT) {
	if c.metadata == nil {
		return
	}
	out, err := c.badge.Call(ctx, "tokenURI", new(big.Int).SetUint64(nft.TokenID))
	if err != nil {
		c.logger.Debug("tokenURI unavailable", "token_id", nft.TokenID, "error", err)
		return
	}
	uri, _ := out[0].(string)
	if uri == "" {
		return
	}
	md, err := c.metadata.Fetch(ctx, uri)
	if err != nil {
		c.logger.Debug("metadata unavailable", "token_id", nft.TokenID, "error", err)
		return
	}
	if md.Name != "" {
		nft.Name = md.Name
	}
	if md.Image != "" {
		nft.Image = md.Image
	}
}

func (c *Controller) ownerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	out, err := c.badge.Call(ctx, "ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return common.Address{}, err
	}
	switch owner := out[0].(type) {
	case common.Address:
		return owner, nil
	case string:
		return chain.ParseAddress(owner)
	}
	return common.Address{}, fmt.Errorf("ownerOf: unexpected type %T", out[0])
}

// Listing reads the listing of tokenID. A nil listing means not for sale.
func (c *Controller) Listing(ctx context.Context, tokenID uint64) (*domain.Listing, error) {
	if c.market == nil {
		return nil, domain.ErrMarketplaceMissing
	}
	out, err := c.market.Call(ctx, "getListing", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}
	listing, err := chain.DecodeListing(tokenID, out[0])
	if err != nil {
		return nil, err
	}
	if !listing.IsActive {
		return nil, nil
	}
	return &listing, nil
}

// Approved reports whether the marketplace may transfer owner's badges.
func (c *Controller) Approved(ctx context.Context, owner string) (bool, error) {
	if c.market == nil {
		return false, domain.ErrMarketplaceMissing
	}
	account, err := chain.ParseAddress(owner)
	if err != nil {
		return false, err
	}
	out, err := c.badge.Call(ctx, "isApprovedForAll", account, c.marketAddr)
	if err != nil {
		return false, err
	}
	approved, _ := out[0].(bool)
	return approved, nil
}

// Inspect combines nft with its listing and, for the viewer's own
// tokens, the approval state. Read failures show as not for sale and
// not approved.
func (c *Controller) Inspect(ctx context.Context, nft domain.NFT, viewer string) domain.TokenView {
	view := domain.TokenView{NFT: nft}

	listing, err := c.Listing(ctx, nft.TokenID)
	if err != nil {
		c.logger.Debug("listing unavailable", "token_id", nft.TokenID, "error", err)
	}
	if listing != nil {
		view.Listing = listing
		view.PriceDisplay = chain.FormatEther(listing.Price)
	}

	if nft.OwnedByViewer {
		approved, err := c.Approved(ctx, viewer)
		if err != nil {
			c.logger.Debug("approval unavailable", "owner", viewer, "error", err)
		}
		view.Approved = approved
	}
	return view
}

// Views enumerates every badge with its marketplace state.
func (c *Controller) Views(ctx context.Context, viewer string) ([]domain.TokenView, error) {
	nfts, err := c.Enumerate(ctx, viewer)
	if err != nil {
		return nil, err
	}
	views := make([]domain.TokenView, 0, len(nfts))
	for _, nft := range nfts {
		views = append(views, c.Inspect(ctx, nft, viewer))
	}
	return views, nil
}

// Approve grants the marketplace transfer rights over the viewer's badges.
func (c *Controller) Approve(ctx context.Context) (chain.TxResult, error) {
	return c.writer.ApproveMarketplace(ctx)
}

// List offers tokenID for sale. price is in whole currency units.
func (c *Controller) List(ctx context.Context, viewer string, tokenID uint64, price string) (chain.TxResult, error) {
	wei, err := chain.ParseEther(price)
	if err != nil {
		return chain.TxResult{}, err
	}
	if wei.Sign() <= 0 {
		return chain.TxResult{}, domain.ErrInvalidPrice
	}

	owner, err := c.ownerOf(ctx, tokenID)
	if err != nil {
		return chain.TxResult{}, fmt.Errorf("%w: %v", domain.ErrTokenNotFound, err)
	}
	if !chain.EqualAddress(owner.Hex(), viewer) {
		return chain.TxResult{}, domain.ErrNotOwner
	}

	approved, err := c.Approved(ctx, viewer)
	if err != nil {
		return chain.TxResult{}, err
	}
	if !approved {
		return chain.TxResult{}, domain.ErrNotApproved
	}

	listing, err := c.Listing(ctx, tokenID)
	if err != nil {
		return chain.TxResult{}, err
	}
	if listing != nil {
		return chain.TxResult{}, domain.ErrAlreadyListed
	}

	return c.writer.ListItem(ctx, tokenID, wei)
}

// Buy purchases tokenID. payment must equal the listed price; a nil
// payment pays the listed price.
func (c *Controller) Buy(ctx context.Context, tokenID uint64, payment *big.Int) (chain.TxResult, error) {
	listing, err := c.Listing(ctx, tokenID)
	if err != nil {
		return chain.TxResult{}, err
	}
	if listing == nil {
		return chain.TxResult{}, domain.ErrNotListed
	}
	if payment == nil {
		payment = listing.Price
	}
	if payment.Cmp(listing.Price) != 0 {
		return chain.TxResult{}, domain.ErrPriceMismatch
	}
	return c.writer.BuyItem(ctx, tokenID, payment)
}

// Cancel withdraws the viewer's listing for tokenID.
func (c *Controller) Cancel(ctx context.Context, viewer string, tokenID uint64) (chain.TxResult, error) {
	listing, err := c.Listing(ctx, tokenID)
	if err != nil {
		return chain.TxResult{}, err
	}
	if listing == nil {
		return chain.TxResult{}, domain.ErrNotListed
	}
	if !chain.EqualAddress(listing.Seller, viewer) {
		return chain.TxResult{}, domain.ErrNotSeller
	}
	return c.writer.CancelListing(ctx, tokenID)
}
