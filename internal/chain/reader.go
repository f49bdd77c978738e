package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/metrics"
)

// ReadError reports a contract read that failed after all retries.
type ReadError struct {
	Method string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Method, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ClaimFlags are the per-stage completion and claim flags.
type ClaimFlags struct {
	Completed     bool `json:"completed"`
	TokensClaimed bool `json:"tokens_claimed"`
	NFTClaimed    bool `json:"nft_claimed"`
}

// Reader normalizes game contract reads into domain records.
type Reader struct {
	game   Caller
	retry  RetryPolicy
	logger *slog.Logger

	mu      sync.RWMutex
	players map[common.Address]domain.Player
}

// NewReader creates a read adapter over the game contract.
func NewReader(game Caller, retry RetryPolicy, logger *slog.Logger) *Reader {
	return &Reader{
		game:    game,
		retry:   retry,
		logger:  logger,
		players: make(map[common.Address]domain.Player),
	}
}

// call runs one contract method under the retry policy.
func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	attempts, err := r.retry.Do(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = r.game.Call(ctx, method, args...)
		return callErr
	})
	metrics.RecordRead(method, attempts, err)
	if err != nil {
		return nil, &ReadError{Method: method, Err: err}
	}
	if len(out) == 0 {
		return nil, &ReadError{Method: method, Err: fmt.Errorf("empty result")}
	}
	return out, nil
}

func (r *Reader) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	out, err := r.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, &ReadError{Method: method, Err: fmt.Errorf("unexpected type %T", out[0])}
	}
	return b, nil
}

// ParseAddress validates a hex wallet address.
func ParseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr), nil
}

// Player loads the player record together with its per-stage flags.
// The last good value is cached only when every read succeeds.
func (r *Reader) Player(ctx context.Context, addr string) (*domain.Player, error) {
	account, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	out, err := r.call(ctx, "getPlayer", account)
	if err != nil {
		return nil, err
	}
	player, err := DecodePlayer(out[0])
	if err != nil {
		return nil, &ReadError{Method: "getPlayer", Err: err}
	}
	player.Address = account.Hex()

	for stage := int64(1); stage <= domain.TotalStages; stage++ {
		flags, err := r.claimFlags(ctx, account, stage)
		if err != nil {
			return nil, err
		}
		if flags.Completed {
			player.CompletedStages.Add(stage)
		}
		if flags.TokensClaimed {
			player.TokensClaimedStages.Add(stage)
		}
		if flags.NFTClaimed {
			player.NFTClaimedStages.Add(stage)
		}
	}

	r.mu.Lock()
	r.players[account] = player
	r.mu.Unlock()

	return &player, nil
}

// CachedPlayer returns the last successfully read player.
func (r *Reader) CachedPlayer(addr string) (*domain.Player, bool) {
	if !common.IsHexAddress(addr) {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[common.HexToAddress(addr)]
	if !ok {
		return nil, false
	}
	return &p, true
}

// ClaimFlags reads the completion and claim flags for one stage.
func (r *Reader) ClaimFlags(ctx context.Context, addr string, stage int64) (ClaimFlags, error) {
	account, err := ParseAddress(addr)
	if err != nil {
		return ClaimFlags{}, err
	}
	if stage < 1 || stage > domain.TotalStages {
		return ClaimFlags{}, domain.ErrInvalidStage
	}
	return r.claimFlags(ctx, account, stage)
}

func (r *Reader) claimFlags(ctx context.Context, account common.Address, stage int64) (ClaimFlags, error) {
	s := big.NewInt(stage)

	var flags ClaimFlags
	var err error
	if flags.Completed, err = r.callBool(ctx, "isStageCompleted", account, s); err != nil {
		return ClaimFlags{}, err
	}
	if flags.TokensClaimed, err = r.callBool(ctx, "areTokensClaimed", account, s); err != nil {
		return ClaimFlags{}, err
	}
	if flags.NFTClaimed, err = r.callBool(ctx, "isNFTClaimed", account, s); err != nil {
		return ClaimFlags{}, err
	}
	// A claim cannot exist without completion.
	if flags.TokensClaimed || flags.NFTClaimed {
		flags.Completed = true
	}
	return flags, nil
}

// StageLeaderboard reads the top sessions for one stage.
func (r *Reader) StageLeaderboard(ctx context.Context, stage int64, limit int) ([]domain.GameSession, error) {
	if stage < 1 || stage > domain.TotalStages {
		return nil, domain.ErrInvalidStage
	}
	out, err := r.call(ctx, "getStageLeaderboard", big.NewInt(stage), big.NewInt(int64(limit)))
	if err != nil {
		return nil, err
	}
	sessions, err := DecodeSessions(out[0])
	if err != nil {
		return nil, &ReadError{Method: "getStageLeaderboard", Err: err}
	}
	return sessions, nil
}

// GeneralLeaderboard reads the top sessions across all stages.
func (r *Reader) GeneralLeaderboard(ctx context.Context, limit int) ([]domain.GameSession, error) {
	out, err := r.call(ctx, "getGeneralLeaderboard", big.NewInt(int64(limit)))
	if err != nil {
		return nil, err
	}
	sessions, err := DecodeSessions(out[0])
	if err != nil {
		return nil, &ReadError{Method: "getGeneralLeaderboard", Err: err}
	}
	return sessions, nil
}

// GameStats reads the global counters.
func (r *Reader) GameStats(ctx context.Context) (domain.GameStats, error) {
	out, err := r.call(ctx, "getGameStats")
	if err != nil {
		return domain.GameStats{}, err
	}
	stats, err := DecodeGameStats(out)
	if err != nil {
		return domain.GameStats{}, &ReadError{Method: "getGameStats", Err: err}
	}
	return stats, nil
}

// ShortAddress renders an address as 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// EqualAddress compares two hex addresses case-insensitively.
func EqualAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
