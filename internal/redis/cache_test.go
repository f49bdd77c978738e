package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/domain"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "celo-runner:leaderboard:general", leaderboardKey(domain.LeaderboardScope{}))
	assert.Equal(t, "celo-runner:leaderboard:stage:2", leaderboardKey(domain.LeaderboardScope{Stage: 2}))
	assert.Equal(t,
		"celo-runner:player:0xabcdef0000000000000000000000000000000001",
		playerKey("0xABCDEF0000000000000000000000000000000001"),
	)
}

func TestEntriesKeepRankOrder(t *testing.T) {
	entries := []domain.LeaderboardEntry{
		{Rank: 1, GameSession: domain.GameSession{Player: "a", Stage: 1, Score: 900}},
		{Rank: 2, GameSession: domain.GameSession{Player: "b", Stage: 1, Score: 900}},
	}

	members, err := encodeEntries(entries)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 1.0, members[0].Score)
	assert.NotEqual(t, members[0].Member, members[1].Member)

	decoded, err := decodeEntries(members)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}
