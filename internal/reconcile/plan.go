package reconcile

// Status is the claim state of one stage as read from the chain
type Status string

const (
	// FullyClaimed means both rewards were already minted
	FullyClaimed Status = "fully_claimed"
	// NFTMissing means tokens were claimed but the badge was not
	NFTMissing Status = "nft_missing"
	// TokensMissing means the badge was claimed but the tokens were not
	TokensMissing Status = "tokens_missing"
	// Unclaimed means neither reward was minted
	Unclaimed Status = "unclaimed"
)

// Plan lists the writes needed to finish a stage's rewards. Tokens are
// always minted before the badge.
type Plan struct {
	Stage      int64  `json:"stage"`
	Status     Status `json:"status"`
	MintTokens bool   `json:"mint_tokens"`
	MintNFT    bool   `json:"mint_nft"`
}

// Writes returns the number of transactions the plan needs.
func (p Plan) Writes() int {
	n := 0
	if p.MintTokens {
		n++
	}
	if p.MintNFT {
		n++
	}
	return n
}

// Decide maps the on-chain claim flags of a stage to a plan.
func Decide(stage int64, tokensClaimed, nftClaimed bool) Plan {
	p := Plan{Stage: stage, MintTokens: !tokensClaimed, MintNFT: !nftClaimed}
	switch {
	case tokensClaimed && nftClaimed:
		p.Status = FullyClaimed
	case tokensClaimed:
		p.Status = NFTMissing
	case nftClaimed:
		p.Status = TokensMissing
	default:
		p.Status = Unclaimed
	}
	return p
}
