package domain

import "math/big"

// NFT is a minted badge discovered by the marketplace scan
type NFT struct {
	TokenID       uint64 `json:"token_id"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	Owner         string `json:"owner"`
	OwnedByViewer bool   `json:"owned_by_viewer"`
}

// Listing is an offer to sell one NFT at a fixed price.
// Price is in the smallest currency unit and is never narrowed.
type Listing struct {
	TokenID  uint64   `json:"token_id"`
	Seller   string   `json:"seller"`
	Price    *big.Int `json:"price"`
	IsActive bool     `json:"is_active"`
}

// TokenView combines an NFT with its listing and approval state
type TokenView struct {
	NFT
	Listing  *Listing `json:"listing,omitempty"`
	Approved bool     `json:"approved"`
	// PriceDisplay is the listing price formatted in whole currency units
	PriceDisplay string `json:"price_display,omitempty"`
}
