package domain

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// Username length bounds enforced before registration
const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

// Player is the canonical view of a player record owned by the game contract
type Player struct {
	Address           string `json:"address"`
	Username          string `json:"username"`
	IsRegistered      bool   `json:"is_registered"`
	CurrentStage      int64  `json:"current_stage"`
	TotalScore        int64  `json:"total_score"`
	InGameCoins       int64  `json:"in_game_coins"`
	QuestTokensEarned int64  `json:"quest_tokens_earned"`
	TotalGamesPlayed  int64  `json:"total_games_played"`
	RegistrationTime  int64  `json:"registration_time"`

	CompletedStages     StageSet `json:"completed_stages"`
	TokensClaimedStages StageSet `json:"tokens_claimed_stages"`
	NFTClaimedStages    StageSet `json:"nft_claimed_stages"`
}

// ClaimedStages returns the stages for which both rewards were minted
func (p *Player) ClaimedStages() StageSet {
	return p.TokensClaimedStages.Intersect(p.NFTClaimedStages)
}

// ValidateUsername trims name and checks its length
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	return name, nil
}

// StageSet is a set of stage numbers
type StageSet map[int64]struct{}

// NewStageSet builds a set from the given stages
func NewStageSet(stages ...int64) StageSet {
	s := make(StageSet, len(stages))
	for _, stage := range stages {
		s[stage] = struct{}{}
	}
	return s
}

// Has reports whether stage is in the set
func (s StageSet) Has(stage int64) bool {
	_, ok := s[stage]
	return ok
}

// Add inserts stage into the set
func (s StageSet) Add(stage int64) {
	s[stage] = struct{}{}
}

// Intersect returns the stages present in both sets
func (s StageSet) Intersect(other StageSet) StageSet {
	out := make(StageSet)
	for stage := range s {
		if other.Has(stage) {
			out.Add(stage)
		}
	}
	return out
}

// Sorted returns the stages in ascending order
func (s StageSet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for stage := range s {
		out = append(out, stage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array
func (s StageSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a set from an array of stage numbers
func (s *StageSet) UnmarshalJSON(data []byte) error {
	var stages []int64
	if err := json.Unmarshal(data, &stages); err != nil {
		return err
	}
	*s = NewStageSet(stages...)
	return nil
}

// GameStats contains global counters reported by the game contract
type GameStats struct {
	TotalPlayers     int64 `json:"total_players"`
	TotalGamesPlayed int64 `json:"total_games_played"`
}
