package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
)

// Score and coin ranges of a simulated run, lower bound inclusive
const (
	MinScore = 500
	MaxScore = 1500
	MinCoins = 20
	MaxCoins = 70
)

// Result is the outcome of one simulated run
type Result struct {
	Stage int64 `json:"stage"`
	Score int64 `json:"score"`
	Coins int64 `json:"coins"`
}

// Runner simulates obstacle runs and grades the quiz that follows them
type Runner struct {
	duration  time.Duration
	questions int64
	pass      int64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRunner creates a runner. A nil rng uses a randomly seeded source.
func NewRunner(cfg config.GameConfig, rng *rand.Rand) *Runner {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Runner{
		duration:  cfg.RunDuration,
		questions: int64(cfg.QuizQuestions),
		pass:      int64(cfg.QuizPass),
		rng:       rng,
	}
}

// Play runs stage for the configured duration and returns its score and
// coins. It returns early with the context error when ctx is done.
func (r *Runner) Play(ctx context.Context, stage int64) (Result, error) {
	if stage < 1 || stage > domain.TotalStages {
		return Result{}, domain.ErrInvalidStage
	}

	timer := time.NewTimer(r.duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Stage: stage,
		Score: MinScore + r.rng.Int64N(MaxScore-MinScore),
		Coins: MinCoins + r.rng.Int64N(MaxCoins-MinCoins),
	}, nil
}

// StageCompleted reports whether correct answers pass the quiz
func (r *Runner) StageCompleted(correct int64) bool {
	return correct >= r.pass
}

// Submission builds the session to save for res and the quiz result
func (r *Runner) Submission(res Result, correct int64) (domain.SessionSubmission, error) {
	if correct < 0 || correct > r.questions {
		return domain.SessionSubmission{}, domain.ErrInvalidSession
	}
	return domain.SessionSubmission{
		Stage:            res.Stage,
		Score:            res.Score,
		CoinsCollected:   res.Coins,
		QuestionsCorrect: correct,
		StageCompleted:   r.StageCompleted(correct),
	}.Normalize()
}
