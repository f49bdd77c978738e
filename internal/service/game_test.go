package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/config"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/game"
	"github.com/celo-runner/internal/marketplace"
	"github.com/celo-runner/internal/reconcile"
	"github.com/celo-runner/internal/store"
)

const wallet = "0x00000000000000000000000000000000000000A1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type sent struct {
	method string
	args   []interface{}
}

// fakeGame is an in-memory game contract serving both reads and writes.
type fakeGame struct {
	mu         sync.Mutex
	registered bool
	coins      int64
	completed  domain.StageSet
	tokens     domain.StageSet
	nfts       domain.StageSet
	sent       []sent
	reads      map[string]int
	readErr    error
	sendErr    map[string]error
}

func newFakeGame() *fakeGame {
	return &fakeGame{
		registered: true,
		completed:  domain.NewStageSet(),
		tokens:     domain.NewStageSet(),
		nfts:       domain.NewStageSet(),
		reads:      make(map[string]int),
		sendErr:    make(map[string]error),
	}
}

func stageArg(args []interface{}) int64 {
	return args[len(args)-1].(*big.Int).Int64()
}

func (f *fakeGame) Call(_ context.Context, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[method]++
	if f.readErr != nil {
		return nil, f.readErr
	}

	switch method {
	case "getPlayer":
		return []interface{}{[]interface{}{"runner", f.registered, 1, 0, f.coins, 0, len(f.sent), 0}}, nil
	case "isStageCompleted":
		return []interface{}{f.completed.Has(stageArg(args))}, nil
	case "areTokensClaimed":
		return []interface{}{f.tokens.Has(stageArg(args))}, nil
	case "isNFTClaimed":
		return []interface{}{f.nfts.Has(stageArg(args))}, nil
	case "getGameStats":
		return []interface{}{big.NewInt(12), big.NewInt(40)}, nil
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeGame) Send(_ context.Context, _ *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.sendErr[method]; ok {
		return nil, err
	}

	switch method {
	case "saveGameSession":
		if args[4].(bool) {
			f.completed.Add(args[0].(*big.Int).Int64())
		}
	case "claimTokens":
		f.tokens.Add(stageArg(args))
	case "claimNFT":
		f.nfts.Add(stageArg(args))
	case "purchaseItem":
		f.coins -= args[1].(*big.Int).Int64()
	}
	f.sent = append(f.sent, sent{method: method, args: args})
	return types.NewTx(&types.LegacyTx{Nonce: uint64(len(f.sent)), GasPrice: big.NewInt(1), Gas: 21000}), nil
}

func (f *fakeGame) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.method)
	}
	return out
}

func (f *fakeGame) readCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[method]
}

type minedWaiter struct{}

func (minedWaiter) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

// recordingHub captures everything pushed to views.
type recordingHub struct {
	mu            sync.Mutex
	states        int
	notifications []domain.Notification
	txs           []chain.TxStatus
	boards        map[int64][]domain.LeaderboardEntry
	source        func() interface{}
}

func (h *recordingHub) BroadcastState(interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states++
}

func (h *recordingHub) BroadcastNotification(n domain.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, n)
}

func (h *recordingHub) BroadcastLeaderboard(stage int64, entries []domain.LeaderboardEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.boards == nil {
		h.boards = make(map[int64][]domain.LeaderboardEntry)
	}
	h.boards[stage] = entries
}

func (h *recordingHub) BroadcastTx(status interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txs = append(h.txs, status.(chain.TxStatus))
}

func (h *recordingHub) SetStateSource(fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = fn
}

func (h *recordingHub) titles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.notifications))
	for _, n := range h.notifications {
		out = append(out, n.Title)
	}
	return out
}

// memoryAudit is an in-memory audit log.
type memoryAudit struct {
	mu       sync.Mutex
	sessions []domain.SessionSubmission
	claims   []domain.ClaimRecord
	txEvents [][]domain.TxEvent
	seen     map[string]bool
	txGate   chan struct{}
}

func (a *memoryAudit) RecordSession(_ context.Context, _ string, sub domain.SessionSubmission, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, sub)
	return nil
}

func (a *memoryAudit) ListSessions(_ context.Context, player string, _ int) ([]domain.GameSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.GameSession, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, domain.GameSession{Player: player, Stage: s.Stage, Score: s.Score})
	}
	return out, nil
}

func (a *memoryAudit) RecordClaim(_ context.Context, rec domain.ClaimRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims = append(a.claims, rec)
	return nil
}

func (a *memoryAudit) ListClaims(context.Context, string, int) ([]domain.ClaimRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.ClaimRecord(nil), a.claims...), nil
}

func (a *memoryAudit) RecordTxEvents(_ context.Context, events []domain.TxEvent) error {
	a.mu.Lock()
	gate := a.txGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.txEvents = append(a.txEvents, events)
	return nil
}

func (a *memoryAudit) txBatchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.txEvents)
}

func (a *memoryAudit) MarkRunEvent(_ context.Context, eventID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen == nil {
		a.seen = make(map[string]bool)
	}
	if a.seen[eventID] {
		return false, nil
	}
	a.seen[eventID] = true
	return true, nil
}

type fixture struct {
	game  *Game
	chain *fakeGame
	store *store.Store
	hub   *recordingHub
	audit *memoryAudit
}

func newFixture(t *testing.T, signer string) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Rewards.RefreshDelay = 10 * time.Millisecond
	cfg.Rewards.PartialRefreshDelay = 10 * time.Millisecond
	cfg.Game.RunDuration = time.Millisecond

	logger := testLogger()
	fake := newFakeGame()
	retry := chain.RetryPolicy{MaxAttempts: 1}
	reader := chain.NewReader(fake, retry, logger)
	writer := chain.NewWriter(chain.WriterDeps{
		Account:    signer,
		Game:       fake,
		Badge:      fake,
		Reader:     reader,
		Transactor: chain.NewTransactor(minedWaiter{}, time.Hour, logger),
		Logger:     logger,
	})
	st := store.New(time.Minute, logger)
	t.Cleanup(st.Close)

	f := &fixture{chain: fake, store: st, hub: &recordingHub{}, audit: &memoryAudit{}}
	f.game = New(Deps{
		Store:  st,
		Reader: reader,
		Writer: writer,
		Market: marketplace.NewController(fake, nil, common.Address{}, writer, nil, marketplace.Config{ProbeCeiling: 3}, logger),
		Runner: game.NewRunner(cfg.Game, rand.New(rand.NewPCG(1, 2))),
		Audit:  f.audit,
		Hub:    f.hub,
	}, cfg, logger)
	t.Cleanup(f.game.Close)
	return f
}

// confirmWhenAsked resolves the next dialog with answer.
func (f *fixture) confirmWhenAsked(t *testing.T, answer bool) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if f.store.Snapshot().Dialog.IsOpen {
				_ = f.store.ResolveDialog(answer)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestStageOneEndToEnd(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()

	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	res, err := f.game.SaveSession(ctx, domain.SessionSubmission{
		Stage: 1, Score: 700, CoinsCollected: 35, QuestionsCorrect: 4, StageCompleted: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Hash)
	assert.False(t, f.store.Snapshot().IsSavingSession)
	assert.True(t, f.store.Snapshot().Player.CompletedStages.Has(1))

	f.confirmWhenAsked(t, true)
	claim, err := f.game.ClaimRewards(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeSuccess, claim.Outcome)
	assert.True(t, claim.TokensMinted)
	assert.True(t, claim.NFTMinted)

	assert.Equal(t, []string{"saveGameSession", "claimTokens", "claimNFT"}, f.chain.methods())
	assert.Contains(t, f.hub.titles(), "Rewards Claimed Successfully!")

	// the scheduled refresh reloads the player with both rewards
	require.Eventually(t, func() bool {
		p := f.store.Snapshot().Player
		return p != nil && !f.store.Snapshot().PlayerStale && p.ClaimedStages().Has(1)
	}, time.Second, 5*time.Millisecond)

	require.Len(t, f.audit.sessions, 1)
	require.Len(t, f.audit.claims, 1)
	assert.Equal(t, "success", f.audit.claims[0].Outcome)
	require.Eventually(t, func() bool {
		return f.audit.txBatchCount() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSlowAuditDoesNotHoldWrites(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()

	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	gate := make(chan struct{})
	f.audit.mu.Lock()
	f.audit.txGate = gate
	f.audit.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.game.SaveSession(ctx, domain.SessionSubmission{Stage: 1, Score: 600, CoinsCollected: 25})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(gate)
		t.Fatal("session save waited on the audit log")
	}
	assert.Equal(t, 0, f.audit.txBatchCount())

	close(gate)
	require.Eventually(t, func() bool {
		return f.audit.txBatchCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClaimAgainIsNoop(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	f.chain.completed.Add(2)
	f.chain.tokens.Add(2)
	f.chain.nfts.Add(2)

	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	res, err := f.game.ClaimRewards(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeAlreadyClaimed, res.Outcome)
	assert.Empty(t, f.chain.methods())
	assert.Contains(t, f.hub.titles(), "Already Claimed")
}

func TestClaimRequiresCompletedStage(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	_, err = f.game.ClaimRewards(ctx, 3)
	require.ErrorIs(t, err, domain.ErrStageNotCompleted)
	assert.Empty(t, f.chain.methods())
	assert.Equal(t, "Stage Not Completed", f.store.Snapshot().Notification.Title)
}

func TestWritesRequireConnectedSigner(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()

	_, err := f.game.ClaimRewards(ctx, 1)
	require.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, "Wallet Not Connected", f.store.Snapshot().Notification.Title)

	_, err = f.game.Connect(ctx, "0x00000000000000000000000000000000000000B2")
	require.NoError(t, err)
	_, err = f.game.Register(ctx, "runner")
	require.ErrorIs(t, err, domain.ErrReadOnly)
	assert.Empty(t, f.chain.methods())
}

func TestConnectRejectsInvalidAddress(t *testing.T) {
	f := newFixture(t, wallet)

	_, err := f.game.Connect(context.Background(), "not-an-address")
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.False(t, f.store.Snapshot().Connected)
}

func TestRegisterTwiceIsInformation(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	res, err := f.game.Register(ctx, "runner")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Empty(t, f.chain.methods())
	assert.Equal(t, domain.NotificationInfo, f.store.Snapshot().Notification.Kind)
}

func TestPurchaseItem(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	f.chain.coins = 50
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	err = f.game.PurchaseItem(ctx, "shield", 80)
	require.ErrorIs(t, err, domain.ErrInsufficientCoins)
	assert.Equal(t, "You have 50 coins but need 80.", f.store.Snapshot().Notification.Body)
	f.game.DismissNotification()

	require.NoError(t, f.game.PurchaseItem(ctx, "shield", 30))
	assert.Equal(t, "Purchase Successful", f.store.Snapshot().Notification.Title)
	assert.Equal(t, int64(20), f.store.Snapshot().Player.InGameCoins)
}

func TestPlayRunAndSaveRun(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	res, err := f.game.PlayRun(ctx, 2)
	require.NoError(t, err)
	run := f.store.Snapshot().Run
	assert.False(t, run.Playing)
	assert.Equal(t, res.Score, run.Score)
	assert.Equal(t, res.Coins, run.Coins)
	assert.GreaterOrEqual(t, res.Score, int64(game.MinScore))

	_, err = f.game.SaveRun(ctx, res, 2)
	require.NoError(t, err)
	require.Len(t, f.audit.sessions, 1)
	assert.False(t, f.audit.sessions[0].StageCompleted)
	assert.False(t, f.chain.completed.Has(2))
}

func TestPlayRunRejectsSecondRun(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	f.store.Dispatch(store.StartRun{Stage: 1})
	_, err = f.game.PlayRun(ctx, 2)
	require.ErrorIs(t, err, domain.ErrRunInProgress)

	run := f.store.Snapshot().Run
	assert.True(t, run.Playing)
	assert.Equal(t, int64(1), run.Stage)
}

func TestHandleRunEvent(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	event := domain.RunEvent{EventID: "e1", Player: wallet, Stage: 1, Score: 900, CoinsCollected: 40, QuestionsCorrect: 5}
	require.NoError(t, f.game.HandleRunEvent(ctx, event))
	require.NoError(t, f.game.HandleRunEvent(ctx, event))

	other := event
	other.EventID = "e2"
	other.Player = "0x00000000000000000000000000000000000000B2"
	require.NoError(t, f.game.HandleRunEvent(ctx, other))

	assert.Equal(t, []string{"saveGameSession"}, f.chain.methods())
	assert.True(t, f.chain.completed.Has(1))
}

func TestMarketplaceMissing(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)

	_, err = f.game.ApproveMarketplace(ctx)
	require.ErrorIs(t, err, domain.ErrMarketplaceMissing)
	assert.Equal(t, "Marketplace Not Deployed", f.store.Snapshot().Notification.Title)
	assert.Empty(t, f.chain.methods())
}

func TestLoadPlayerKeepsLastGood(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)
	before := f.store.Snapshot().Player
	require.NotNil(t, before)

	f.chain.readErr = errors.New("rpc down")
	require.Error(t, f.game.LoadPlayerData(ctx))
	assert.Same(t, before, f.store.Snapshot().Player)
}

func TestHistoryAndStateSource(t *testing.T) {
	f := newFixture(t, wallet)
	ctx := context.Background()
	_, err := f.game.Connect(ctx, wallet)
	require.NoError(t, err)
	_, err = f.game.SaveSession(ctx, domain.SessionSubmission{Stage: 1, Score: 10})
	require.NoError(t, err)

	h, err := f.game.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, h.Sessions, 1)

	f.hub.mu.Lock()
	source := f.hub.source
	f.hub.mu.Unlock()
	require.NotNil(t, source)
	assert.True(t, source().(store.State).Connected)
	assert.Greater(t, f.readsOf("getPlayer"), 0)
}

func (f *fixture) readsOf(method string) int {
	return f.chain.readCount(method)
}
