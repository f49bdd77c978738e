package leaderboard

import (
	"context"
	"log/slog"
	"sort"

	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
)

// Source reads raw sessions from the game contract
type Source interface {
	StageLeaderboard(ctx context.Context, stage int64, limit int) ([]domain.GameSession, error)
	GeneralLeaderboard(ctx context.Context, limit int) ([]domain.GameSession, error)
}

// Snapshots keeps the last ranking read for each scope
type Snapshots interface {
	SaveLeaderboard(ctx context.Context, scope domain.LeaderboardScope, entries []domain.LeaderboardEntry) error
	LoadLeaderboard(ctx context.Context, scope domain.LeaderboardScope) ([]domain.LeaderboardEntry, error)
}

// Rank orders sessions by score, highest first, and numbers them from 1.
// Sessions with equal scores keep their input order.
func Rank(sessions []domain.GameSession) []domain.LeaderboardEntry {
	sorted := make([]domain.GameSession, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	entries := make([]domain.LeaderboardEntry, len(sorted))
	for i, s := range sorted {
		entries[i] = domain.LeaderboardEntry{Rank: int64(i + 1), GameSession: s}
	}
	return entries
}

// Service provides ranked leaderboards with a snapshot fallback
type Service struct {
	source    Source
	snapshots Snapshots
	config    config.LeaderboardConfig
	logger    *slog.Logger
}

// NewService creates a leaderboard service. snapshots may be nil.
func NewService(source Source, snapshots Snapshots, cfg config.LeaderboardConfig, logger *slog.Logger) *Service {
	return &Service{
		source:    source,
		snapshots: snapshots,
		config:    cfg,
		logger:    logger,
	}
}

// Clamp bounds a requested limit to the configured default and maximum
func (s *Service) Clamp(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}
	return limit
}

// Get returns the ranked leaderboard for scope. A failed read falls back
// to the last snapshot, or an empty list when there is none.
func (s *Service) Get(ctx context.Context, scope domain.LeaderboardScope, limit int) ([]domain.LeaderboardEntry, error) {
	if scope.Stage < 0 || scope.Stage > domain.TotalStages {
		return nil, domain.ErrInvalidStage
	}
	limit = s.Clamp(limit)

	var (
		sessions []domain.GameSession
		err      error
	)
	if scope.IsGeneral() {
		sessions, err = s.source.GeneralLeaderboard(ctx, limit)
	} else {
		sessions, err = s.source.StageLeaderboard(ctx, scope.Stage, limit)
	}
	if err != nil {
		s.logger.Debug("leaderboard read failed", "stage", scope.Stage, "error", err)
		return s.fallback(ctx, scope, limit), nil
	}

	entries := Rank(sessions)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	if s.snapshots != nil {
		if err := s.snapshots.SaveLeaderboard(ctx, scope, entries); err != nil {
			s.logger.Warn("failed to save leaderboard snapshot", "stage", scope.Stage, "error", err)
		}
	}
	return entries, nil
}

func (s *Service) fallback(ctx context.Context, scope domain.LeaderboardScope, limit int) []domain.LeaderboardEntry {
	empty := []domain.LeaderboardEntry{}
	if s.snapshots == nil {
		return empty
	}
	entries, err := s.snapshots.LoadLeaderboard(ctx, scope)
	if err != nil {
		if !domain.IsNotFoundError(err) {
			s.logger.Warn("failed to load leaderboard snapshot", "stage", scope.Stage, "error", err)
		}
		return empty
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// All returns the general leaderboard followed by every stage leaderboard
func (s *Service) All(ctx context.Context, limit int) map[int64][]domain.LeaderboardEntry {
	boards := make(map[int64][]domain.LeaderboardEntry, domain.TotalStages+1)
	for stage := int64(0); stage <= domain.TotalStages; stage++ {
		entries, _ := s.Get(ctx, domain.LeaderboardScope{Stage: stage}, limit)
		boards[stage] = entries
	}
	return boards
}
