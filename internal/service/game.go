package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/game"
	"github.com/celo-runner/internal/leaderboard"
	"github.com/celo-runner/internal/marketplace"
	"github.com/celo-runner/internal/reconcile"
	"github.com/celo-runner/internal/store"
)

// Cache keeps last-good chain reads
type Cache interface {
	leaderboard.Snapshots
	SavePlayer(ctx context.Context, p *domain.Player) error
	LoadPlayer(ctx context.Context, addr string) (*domain.Player, error)
	SaveStats(ctx context.Context, stats domain.GameStats) error
	LoadStats(ctx context.Context) (domain.GameStats, error)
}

// Audit persists sessions, claim outcomes and transaction transitions
type Audit interface {
	RecordSession(ctx context.Context, player string, sub domain.SessionSubmission, txHash string) error
	ListSessions(ctx context.Context, player string, limit int) ([]domain.GameSession, error)
	RecordClaim(ctx context.Context, rec domain.ClaimRecord) error
	ListClaims(ctx context.Context, player string, limit int) ([]domain.ClaimRecord, error)
	RecordTxEvents(ctx context.Context, events []domain.TxEvent) error
	MarkRunEvent(ctx context.Context, eventID string) (bool, error)
}

// Broadcaster pushes updates to subscribed views
type Broadcaster interface {
	BroadcastState(state interface{})
	BroadcastNotification(n domain.Notification)
	BroadcastLeaderboard(stage int64, entries []domain.LeaderboardEntry)
	BroadcastTx(status interface{})
	SetStateSource(fn func() interface{})
}

// Deps groups the collaborators of a Game. Cache, Audit and Hub are
// optional and must be left nil when disabled.
type Deps struct {
	Store  *store.Store
	Reader *chain.Reader
	Writer *chain.Writer
	Market *marketplace.Controller
	Runner *game.Runner
	Cache  Cache
	Audit  Audit
	Hub    Broadcaster
}

// Game composes the chain adapters, the store and the reward reconciler
// into the operations exposed to views
type Game struct {
	store      *store.Store
	reader     *chain.Reader
	writer     *chain.Writer
	market     *marketplace.Controller
	runner     *game.Runner
	boards     *leaderboard.Service
	reconciler *reconcile.Reconciler
	cache      Cache
	audit      Audit
	hub        Broadcaster
	logger     *slog.Logger

	mu          sync.Mutex
	lastNoteID  string
	txEvents    []domain.TxEvent
	unsubscribe []func()
	txBatches   chan []domain.TxEvent
	auditDone   chan struct{}
}

// History is the audit trail of the connected wallet
type History struct {
	Sessions []domain.GameSession `json:"sessions"`
	Claims   []domain.ClaimRecord `json:"claims"`
}

// New creates the game service and registers its callbacks and
// observers
func New(deps Deps, cfg *config.Config, logger *slog.Logger) *Game {
	g := &Game{
		store:  deps.Store,
		reader: deps.Reader,
		writer: deps.Writer,
		market: deps.Market,
		runner: deps.Runner,
		cache:  deps.Cache,
		audit:  deps.Audit,
		hub:    deps.Hub,
		logger: logger,
	}

	var snapshots leaderboard.Snapshots
	if deps.Cache != nil {
		snapshots = deps.Cache
	}
	g.boards = leaderboard.NewService(deps.Reader, snapshots, cfg.Leaderboard, logger)

	var recorder reconcile.Recorder
	if deps.Audit != nil {
		recorder = deps.Audit
	}
	g.reconciler = reconcile.New(reconcile.Deps{
		Flags:     deps.Reader,
		Cache:     deps.Store,
		Confirmer: deps.Store,
		Notifier:  deps.Store,
		Claimer:   deps.Writer,
		Refresher: deps.Store,
		Recorder:  recorder,
	}, reconcile.Config{
		RefreshDelay:        cfg.Rewards.RefreshDelay,
		PartialRefreshDelay: cfg.Rewards.PartialRefreshDelay,
	}, logger)

	g.store.SetCallbacks(store.Callbacks{
		ClaimTokens: func(ctx context.Context, stage int64) error {
			_, err := g.writer.ClaimTokens(ctx, stage)
			return err
		},
		ClaimNFT: func(ctx context.Context, stage int64) error {
			_, err := g.writer.ClaimNFT(ctx, stage)
			return err
		},
		PurchaseItem:   g.PurchaseItem,
		LoadPlayerData: g.LoadPlayerData,
	})

	g.wire()
	return g
}

// Close removes the store and transaction observers
func (g *Game) Close() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	batches := g.txBatches
	g.txBatches = nil
	g.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	if batches != nil {
		close(batches)
		<-g.auditDone
	}
}

// State returns the current application state
func (g *Game) State() store.State {
	return g.store.Snapshot()
}

// Connect records addr as the connected wallet and loads its player.
// A wallet other than the signer is connected read-only.
func (g *Game) Connect(ctx context.Context, addr string) (store.State, error) {
	account, err := chain.ParseAddress(addr)
	if err != nil {
		return g.store.Snapshot(), err
	}

	g.store.Dispatch(store.Connect{Address: account.Hex()})
	g.logger.Info("wallet connected",
		"address", account.Hex(),
		"signer", chain.EqualAddress(account.Hex(), g.writer.Account()),
	)

	if err := g.LoadPlayerData(ctx); err != nil {
		g.logger.Warn("initial player load failed", "address", account.Hex(), "error", err)
	}
	return g.store.Snapshot(), nil
}

// Disconnect clears the wallet and its player
func (g *Game) Disconnect() store.State {
	return g.store.Dispatch(store.Disconnect{})
}

// connected returns the connected wallet address
func (g *Game) connected() (string, error) {
	st := g.store.Snapshot()
	if !st.Connected || st.Address == "" {
		g.notify(domain.NotificationWarning, "Wallet Not Connected", "Please connect your wallet first.")
		return "", domain.ErrNotConnected
	}
	return st.Address, nil
}

// signer returns the connected wallet address when it can sign writes
func (g *Game) signer() (string, error) {
	addr, err := g.connected()
	if err != nil {
		return "", err
	}
	if !chain.EqualAddress(addr, g.writer.Account()) {
		g.notify(domain.NotificationWarning, "Read-Only Wallet", "This wallet can browse but cannot send transactions.")
		return "", domain.ErrReadOnly
	}
	return addr, nil
}

// LoadPlayerData reloads the connected player from the chain. On a read
// failure the last good player stays in place, or the cached snapshot is
// restored when there is none.
func (g *Game) LoadPlayerData(ctx context.Context) error {
	st := g.store.Snapshot()
	if !st.Connected {
		return domain.ErrNotConnected
	}
	addr := st.Address

	p, err := g.reader.Player(ctx, addr)
	if err != nil {
		g.logger.Warn("failed to load player", "address", addr, "error", err)
		if _, ok := g.store.CachedPlayer(addr); !ok && g.cache != nil {
			if cached, cacheErr := g.cache.LoadPlayer(ctx, addr); cacheErr == nil {
				g.dispatchPlayer(addr, cached)
			}
		}
		return fmt.Errorf("loading player: %w", err)
	}

	if !g.dispatchPlayer(addr, p) {
		return nil
	}
	if g.cache != nil {
		if err := g.cache.SavePlayer(ctx, p); err != nil {
			g.logger.Warn("failed to cache player", "address", addr, "error", err)
		}
	}
	return nil
}

// dispatchPlayer stores p unless the wallet changed during the read
func (g *Game) dispatchPlayer(addr string, p *domain.Player) bool {
	if !chain.EqualAddress(g.store.Snapshot().Address, addr) {
		g.logger.Debug("discarding player for disconnected wallet", "address", addr)
		return false
	}
	g.store.Dispatch(store.SetPlayer{Player: p})
	return true
}

// Player returns the connected player, reloading it when stale
func (g *Game) Player(ctx context.Context) (*domain.Player, error) {
	st := g.store.Snapshot()
	if !st.Connected {
		return nil, domain.ErrNotConnected
	}
	if st.Player == nil || st.PlayerStale {
		if err := g.LoadPlayerData(ctx); err != nil {
			if p, ok := g.store.CachedPlayer(st.Address); ok {
				return p, nil
			}
			return nil, err
		}
	}
	if p, ok := g.store.CachedPlayer(st.Address); ok {
		return p, nil
	}
	return nil, domain.ErrPlayerNotFound
}

// Register records username for the signing wallet. Registering twice
// is reported as information.
func (g *Game) Register(ctx context.Context, username string) (chain.TxResult, error) {
	addr, err := g.signer()
	if err != nil {
		return chain.TxResult{}, err
	}

	res, err := g.writer.RegisterPlayer(ctx, username)
	if err != nil {
		g.reportFailure("Registration Failed", err)
		return res, err
	}
	if res.Noop {
		g.notify(domain.NotificationInfo, "Already Registered", "This wallet is already registered.")
	} else {
		name, _ := domain.ValidateUsername(username)
		g.notify(domain.NotificationSuccess, "Registered!", fmt.Sprintf("Welcome, %s!", name))
	}

	g.reload(ctx, addr)
	return res, nil
}

// PlayRun plays stage and leaves the finished counters in the store
func (g *Game) PlayRun(ctx context.Context, stage int64) (game.Result, error) {
	if _, err := g.connected(); err != nil {
		return game.Result{}, err
	}
	if stage < 1 || stage > domain.TotalStages {
		return game.Result{}, domain.ErrInvalidStage
	}
	if _, started := g.store.Apply(store.StartRun{Stage: stage}); !started {
		return game.Result{}, domain.ErrRunInProgress
	}

	res, err := g.runner.Play(ctx, stage)
	if err != nil {
		g.store.Dispatch(store.EndRun{})
		return game.Result{}, fmt.Errorf("playing stage %d: %w", stage, err)
	}
	g.store.Dispatch(store.AddScore{Score: res.Score, Coins: res.Coins})
	g.store.Dispatch(store.EndRun{})

	g.logger.Info("run finished", "stage", stage, "score", res.Score, "coins", res.Coins)
	return res, nil
}

// SaveRun grades the quiz and saves the run on-chain
func (g *Game) SaveRun(ctx context.Context, res game.Result, correct int64) (chain.TxResult, error) {
	sub, err := g.runner.Submission(res, correct)
	if err != nil {
		return chain.TxResult{}, err
	}
	return g.SaveSession(ctx, sub)
}

// SaveSession saves a finished run on-chain and reloads the player
func (g *Game) SaveSession(ctx context.Context, sub domain.SessionSubmission) (chain.TxResult, error) {
	addr, err := g.signer()
	if err != nil {
		return chain.TxResult{}, err
	}
	sub, err = sub.Normalize()
	if err != nil {
		return chain.TxResult{}, err
	}

	g.store.Dispatch(store.SetSaving{Saving: true})
	defer g.store.Dispatch(store.SetSaving{Saving: false})

	res, err := g.writer.SaveGameSession(ctx, sub)
	if err != nil {
		g.reportFailure("Save Failed", err)
		return res, err
	}
	g.logger.Info("game session saved",
		"address", addr,
		"stage", sub.Stage,
		"score", sub.Score,
		"completed", sub.StageCompleted,
		"hash", res.Hash,
	)

	if g.audit != nil {
		if err := g.audit.RecordSession(ctx, addr, sub, res.Hash); err != nil {
			g.logger.Warn("failed to record session", "address", addr, "error", err)
		}
	}

	g.reload(ctx, addr)
	return res, nil
}

// reload marks the player stale and reads it again
func (g *Game) reload(ctx context.Context, addr string) {
	g.store.InvalidatePlayer(addr)
	if err := g.LoadPlayerData(ctx); err != nil {
		g.logger.Warn("player reload failed", "address", addr, "error", err)
	}
}

// ResolveDialog answers the open confirmation dialog
func (g *Game) ResolveDialog(confirmed bool) error {
	return g.store.ResolveDialog(confirmed)
}

// DismissNotification hides the visible notification
func (g *Game) DismissNotification() store.State {
	g.store.DismissCurrent()
	return g.store.Snapshot()
}

// TxStatus returns the write lifecycle state
func (g *Game) TxStatus() chain.TxStatus {
	return g.writer.Transactor().Status()
}

// Leaderboard returns the ranked sessions of scope
func (g *Game) Leaderboard(ctx context.Context, scope domain.LeaderboardScope, limit int) ([]domain.LeaderboardEntry, error) {
	return g.boards.Get(ctx, scope, limit)
}

// Stats returns the global counters, falling back to the cached copy
func (g *Game) Stats(ctx context.Context) (domain.GameStats, error) {
	stats, err := g.reader.GameStats(ctx)
	if err != nil {
		g.logger.Warn("failed to read game stats", "error", err)
		if g.cache != nil {
			if cached, cacheErr := g.cache.LoadStats(ctx); cacheErr == nil {
				return cached, nil
			}
		}
		return domain.GameStats{}, err
	}

	if g.cache != nil {
		if err := g.cache.SaveStats(ctx, stats); err != nil {
			g.logger.Warn("failed to cache game stats", "error", err)
		}
	}
	return stats, nil
}

// History returns the recorded sessions and claims of the connected
// wallet
func (g *Game) History(ctx context.Context, limit int) (History, error) {
	if g.audit == nil {
		return History{}, domain.ErrHistoryDisabled
	}
	st := g.store.Snapshot()
	if !st.Connected {
		return History{}, domain.ErrNotConnected
	}

	sessions, err := g.audit.ListSessions(ctx, st.Address, limit)
	if err != nil {
		return History{}, fmt.Errorf("listing sessions: %w", err)
	}
	claims, err := g.audit.ListClaims(ctx, st.Address, limit)
	if err != nil {
		return History{}, fmt.Errorf("listing claims: %w", err)
	}
	return History{Sessions: sessions, Claims: claims}, nil
}

// notify posts a notification with the default timeout
func (g *Game) notify(kind domain.NotificationKind, title, body string) {
	g.store.Notify(domain.Notification{Kind: kind, Title: title, Body: body})
}

// reportFailure posts err under title. Benign outcomes are information
// and local rejections are warnings.
func (g *Game) reportFailure(title string, err error) {
	kind := domain.NotificationError
	switch {
	case domain.IsBenign(err):
		kind = domain.NotificationInfo
	case domain.IsPreconditionError(err), errors.Is(err, domain.ErrOperationInFlight):
		kind = domain.NotificationWarning
	}
	g.notify(kind, title, err.Error())
}
