package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
)

// Cache keeps the last good chain reads in Redis so views survive an
// unreachable RPC endpoint
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache creates a new Redis snapshot cache
func NewCache(cfg *config.RedisConfig, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Cache{
		client: client,
		ttl:    cfg.SnapshotTTL,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// leaderboardKey returns the Redis key for a ranked snapshot
func leaderboardKey(scope domain.LeaderboardScope) string {
	if scope.IsGeneral() {
		return "celo-runner:leaderboard:general"
	}
	return fmt.Sprintf("celo-runner:leaderboard:stage:%d", scope.Stage)
}

// playerKey returns the Redis key for a player snapshot
func playerKey(addr string) string {
	return fmt.Sprintf("celo-runner:player:%s", strings.ToLower(addr))
}

// statsKey is the Redis key for the global counters
const statsKey = "celo-runner:stats"

// SavePlayer stores a player snapshot
func (c *Cache) SavePlayer(ctx context.Context, p *domain.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding player: %w", err)
	}
	if err := c.client.Set(ctx, playerKey(p.Address), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("saving player: %w", err)
	}
	return nil
}

// LoadPlayer retrieves a player snapshot
func (c *Cache) LoadPlayer(ctx context.Context, addr string) (*domain.Player, error) {
	data, err := c.client.Get(ctx, playerKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("loading player: %w", err)
	}

	var p domain.Player
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding player: %w", err)
	}
	return &p, nil
}

// SaveLeaderboard replaces the snapshot of scope. Entries are stored in a
// sorted set scored by rank.
func (c *Cache) SaveLeaderboard(ctx context.Context, scope domain.LeaderboardScope, entries []domain.LeaderboardEntry) error {
	members, err := encodeEntries(entries)
	if err != nil {
		return err
	}

	key := leaderboardKey(scope)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving leaderboard: %w", err)
	}
	return nil
}

// LoadLeaderboard retrieves the snapshot of scope in rank order
func (c *Cache) LoadLeaderboard(ctx context.Context, scope domain.LeaderboardScope) ([]domain.LeaderboardEntry, error) {
	results, err := c.client.ZRangeWithScores(ctx, leaderboardKey(scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	if len(results) == 0 {
		return nil, domain.ErrSnapshotNotFound
	}
	return decodeEntries(results)
}

// SaveStats stores the global counters
func (c *Cache) SaveStats(ctx context.Context, stats domain.GameStats) error {
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, statsKey,
		"total_players", stats.TotalPlayers,
		"total_games_played", stats.TotalGamesPlayed,
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, statsKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving stats: %w", err)
	}
	return nil
}

// LoadStats retrieves the global counters
func (c *Cache) LoadStats(ctx context.Context) (domain.GameStats, error) {
	result, err := c.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return domain.GameStats{}, fmt.Errorf("loading stats: %w", err)
	}
	if len(result) == 0 {
		return domain.GameStats{}, domain.ErrSnapshotNotFound
	}

	players, _ := strconv.ParseInt(result["total_players"], 10, 64)
	games, _ := strconv.ParseInt(result["total_games_played"], 10, 64)
	return domain.GameStats{TotalPlayers: players, TotalGamesPlayed: games}, nil
}

func encodeEntries(entries []domain.LeaderboardEntry) ([]redis.Z, error) {
	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encoding leaderboard entry: %w", err)
		}
		members[i] = redis.Z{Score: float64(e.Rank), Member: string(data)}
	}
	return members, nil
}

func decodeEntries(results []redis.Z) ([]domain.LeaderboardEntry, error) {
	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		member, ok := result.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type %T", result.Member)
		}
		if err := json.Unmarshal([]byte(member), &entries[i]); err != nil {
			return nil, fmt.Errorf("decoding leaderboard entry: %w", err)
		}
	}
	return entries, nil
}
