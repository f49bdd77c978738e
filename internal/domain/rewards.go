package domain

import "fmt"

// TotalStages is the number of playable stages
const TotalStages = 3

// Badge describes the NFT class awarded for a stage
type Badge struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Difficulty  string `json:"difficulty"`
}

// StageReward is what a player may claim after completing a stage
type StageReward struct {
	Stage       int64 `json:"stage"`
	TokenAmount int64 `json:"token_amount"`
	Badge       Badge `json:"badge"`
}

// Description renders the reward for confirmation prompts
func (r StageReward) Description() string {
	return fmt.Sprintf("%d QuestCoin tokens + %s NFT", r.TokenAmount, r.Badge.Name)
}

var stageRewards = map[int64]StageReward{
	1: {
		Stage:       1,
		TokenAmount: 20,
		Badge: Badge{
			Name:        "Explorer Badge",
			Description: "Awarded to brave explorers who completed Stage 1 of Celo Runner",
			Image:       "https://orange-geographical-marsupial-110.mypinata.cloud/ipfs/bafkreia7hw6k7blhn7stmrm46arjyxktcqwkoexyaydzdib3dghy6zqyu4",
			Difficulty:  "Beginner",
		},
	},
	2: {
		Stage:       2,
		TokenAmount: 50,
		Badge: Badge{
			Name:        "Adventurer Badge",
			Description: "Awarded to skilled adventurers who conquered Stage 2 of Celo Runner",
			Image:       "https://orange-geographical-marsupial-110.mypinata.cloud/ipfs/bafkreihqx2cuolkk6wkzjsn632734ajlqt7vgsiy2nxzb2ugq76f3bwrh4",
			Difficulty:  "Intermediate",
		},
	},
	3: {
		Stage:       3,
		TokenAmount: 100,
		Badge: Badge{
			Name:        "Master Badge",
			Description: "Awarded to elite masters who triumphed over Stage 3 of Celo Runner",
			Image:       "https://orange-geographical-marsupial-110.mypinata.cloud/ipfs/bafybeibntv4534v2mis4cyyj6owmcnjzjpfswohvtlmta6rzzfjvprekja",
			Difficulty:  "Expert",
		},
	},
}

// RewardForStage returns the reward catalog entry for stage
func RewardForStage(stage int64) (StageReward, error) {
	r, ok := stageRewards[stage]
	if !ok {
		return StageReward{}, ErrInvalidStage
	}
	return r, nil
}

// BadgeForToken derives a fallback badge from a token id when no
// metadata is available
func BadgeForToken(tokenID uint64) Badge {
	stage := int64(tokenID % TotalStages)
	if stage == 0 {
		stage = TotalStages
	}
	return stageRewards[stage].Badge
}
