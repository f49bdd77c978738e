package domain

import (
	"time"
)

// GameSession is an immutable record of one completed play-through
type GameSession struct {
	Player         string `json:"player"`
	Stage          int64  `json:"stage"`
	Score          int64  `json:"score"`
	CoinsCollected int64  `json:"coins_collected"`
	StageCompleted bool   `json:"stage_completed"`
	Timestamp      int64  `json:"timestamp"`
}

// LeaderboardEntry represents a single ranked session in a leaderboard
type LeaderboardEntry struct {
	Rank int64 `json:"rank"`
	GameSession
}

// LeaderboardScope selects a per-stage or the general leaderboard
type LeaderboardScope struct {
	// Stage is zero for the general leaderboard
	Stage int64 `json:"stage"`
}

// IsGeneral reports whether the scope covers all stages
func (s LeaderboardScope) IsGeneral() bool {
	return s.Stage == 0
}

// SessionSubmission is a finished run ready to be saved on-chain
type SessionSubmission struct {
	Stage            int64 `json:"stage"`
	Score            int64 `json:"score"`
	CoinsCollected   int64 `json:"coins_collected"`
	QuestionsCorrect int64 `json:"questions_correct"`
	StageCompleted   bool  `json:"stage_completed"`
}

// Normalize applies the defaults used when saving a session and
// validates the counters
func (s SessionSubmission) Normalize() (SessionSubmission, error) {
	if s.Stage == 0 {
		s.Stage = 1
	}
	if s.Stage < 1 || s.Stage > TotalStages {
		return s, ErrInvalidStage
	}
	if s.Score < 0 || s.CoinsCollected < 0 || s.QuestionsCorrect < 0 {
		return s, ErrInvalidSession
	}
	return s, nil
}

// RunEvent is a completed run published by a game client
type RunEvent struct {
	EventID          string    `json:"event_id"`
	Player           string    `json:"player"`
	Stage            int64     `json:"stage"`
	Score            int64     `json:"score"`
	CoinsCollected   int64     `json:"coins_collected"`
	QuestionsCorrect int64     `json:"questions_correct"`
	Timestamp        time.Time `json:"timestamp"`
}

// TxEvent records a write-adapter lifecycle transition for auditing
type TxEvent struct {
	Operation string    `json:"operation"`
	State     string    `json:"state"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClaimRecord records the outcome of one reward reconciliation
type ClaimRecord struct {
	Player       string    `json:"player"`
	Stage        int64     `json:"stage"`
	Outcome      string    `json:"outcome"`
	TokensMinted bool      `json:"tokens_minted"`
	NFTMinted    bool      `json:"nft_minted"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
