package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
)

const wallet = "0x1234567890abcdef1234567890abcdef12345678"

type fakeFlags struct {
	flags chain.ClaimFlags
	err   error
}

func (f *fakeFlags) ClaimFlags(context.Context, string, int64) (chain.ClaimFlags, error) {
	return f.flags, f.err
}

type fakeCache struct {
	player *domain.Player
}

func (f *fakeCache) CachedPlayer(string) (*domain.Player, bool) {
	return f.player, f.player != nil
}

type fakeConfirmer struct {
	answer   bool
	err      error
	titles   []string
	messages []string
}

func (f *fakeConfirmer) Confirm(_ context.Context, title, message string) (bool, error) {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return f.answer, f.err
}

type fakeNotifier struct {
	notes []domain.Notification
}

func (f *fakeNotifier) Notify(n domain.Notification) {
	f.notes = append(f.notes, n)
}

func (f *fakeNotifier) last() domain.Notification {
	if len(f.notes) == 0 {
		return domain.Notification{}
	}
	return f.notes[len(f.notes)-1]
}

// fakeClaimer flips the shared flags on success, like the contract does.
type fakeClaimer struct {
	flags *fakeFlags
	calls []string
	errs  map[string]error
}

func (f *fakeClaimer) ClaimTokens(_ context.Context, stage int64) (chain.TxResult, error) {
	f.calls = append(f.calls, "claimTokens")
	if err := f.errs["claimTokens"]; err != nil {
		return chain.TxResult{}, err
	}
	f.flags.flags.TokensClaimed = true
	return chain.TxResult{Hash: "0xaa"}, nil
}

func (f *fakeClaimer) ClaimNFT(_ context.Context, stage int64) (chain.TxResult, error) {
	f.calls = append(f.calls, "claimNFT")
	if err := f.errs["claimNFT"]; err != nil {
		return chain.TxResult{}, err
	}
	f.flags.flags.NFTClaimed = true
	return chain.TxResult{Hash: "0xbb"}, nil
}

type refreshCall struct {
	addr  string
	delay time.Duration
}

type fakeRefresher struct {
	invalidated []string
	scheduled   []refreshCall
}

func (f *fakeRefresher) InvalidatePlayer(addr string) {
	f.invalidated = append(f.invalidated, addr)
}

func (f *fakeRefresher) ScheduleRefresh(addr string, delay time.Duration) {
	f.scheduled = append(f.scheduled, refreshCall{addr, delay})
}

type fakeRecorder struct {
	records []domain.ClaimRecord
}

func (f *fakeRecorder) RecordClaim(_ context.Context, rec domain.ClaimRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fixture struct {
	r         *Reconciler
	flags     *fakeFlags
	cache     *fakeCache
	confirmer *fakeConfirmer
	notifier  *fakeNotifier
	claimer   *fakeClaimer
	refresher *fakeRefresher
	recorder  *fakeRecorder
}

func newFixture(tokensClaimed, nftClaimed bool) *fixture {
	flags := &fakeFlags{flags: chain.ClaimFlags{Completed: true, TokensClaimed: tokensClaimed, NFTClaimed: nftClaimed}}
	f := &fixture{
		flags:     flags,
		cache:     &fakeCache{},
		confirmer: &fakeConfirmer{answer: true},
		notifier:  &fakeNotifier{},
		claimer:   &fakeClaimer{flags: flags, errs: map[string]error{}},
		refresher: &fakeRefresher{},
		recorder:  &fakeRecorder{},
	}
	f.r = New(Deps{
		Flags:     f.flags,
		Cache:     f.cache,
		Confirmer: f.confirmer,
		Notifier:  f.notifier,
		Claimer:   f.claimer,
		Refresher: f.refresher,
		Recorder:  f.recorder,
	}, Config{RefreshDelay: 2 * time.Second, PartialRefreshDelay: 3 * time.Second},
		slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return f
}

func (f *fixture) claim(t *testing.T, stage int64) Result {
	t.Helper()
	res, err := f.r.Claim(context.Background(), Request{Address: wallet, Stage: stage})
	require.NoError(t, err)
	return res
}

func TestDecide(t *testing.T) {
	tests := []struct {
		tokens, nft bool
		want        Plan
	}{
		{true, true, Plan{Stage: 1, Status: FullyClaimed}},
		{true, false, Plan{Stage: 1, Status: NFTMissing, MintNFT: true}},
		{false, true, Plan{Stage: 1, Status: TokensMissing, MintTokens: true}},
		{false, false, Plan{Stage: 1, Status: Unclaimed, MintTokens: true, MintNFT: true}},
	}
	for _, tt := range tests {
		t.Run(string(tt.want.Status), func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(1, tt.tokens, tt.nft))
		})
	}
}

func TestFullyClaimedMakesNoWrites(t *testing.T) {
	f := newFixture(true, true)

	res := f.claim(t, 1)

	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)
	assert.Empty(t, f.claimer.calls)
	assert.Empty(t, f.confirmer.titles)
	assert.Equal(t, "Already Claimed", f.notifier.last().Title)
	assert.Equal(t, domain.NotificationInfo, f.notifier.last().Kind)
	assert.Empty(t, f.refresher.scheduled)
}

func TestMissingWritesInOrder(t *testing.T) {
	tests := []struct {
		name       string
		tokens     bool
		nft        bool
		wantCalls  []string
		wantTitle  string
		wantDialog string
	}{
		{"unclaimed", false, false, []string{"claimTokens", "claimNFT"}, "Rewards Claimed Successfully!", "Mint Explorer Badge?"},
		{"nft missing", true, false, []string{"claimNFT"}, "NFT Badge Minted!", "Partial Claim Detected"},
		{"tokens missing", false, true, []string{"claimTokens"}, "Tokens Minted!", "Partial Claim Detected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.tokens, tt.nft)

			res := f.claim(t, 1)

			assert.Equal(t, OutcomeSuccess, res.Outcome)
			assert.Equal(t, tt.wantCalls, f.claimer.calls)
			assert.Equal(t, []string{tt.wantDialog}, f.confirmer.titles)
			assert.Equal(t, tt.wantTitle, f.notifier.last().Title)
			assert.Equal(t, []string{wallet}, f.refresher.invalidated)
			assert.Equal(t, []refreshCall{{wallet, 2 * time.Second}}, f.refresher.scheduled)
		})
	}
}

func TestDialogShowsRewardAndShortWallet(t *testing.T) {
	f := newFixture(false, false)
	f.claim(t, 2)

	require.Len(t, f.confirmer.messages, 1)
	msg := f.confirmer.messages[0]
	assert.Equal(t, "Mint Adventurer Badge?", f.confirmer.titles[0])
	assert.Contains(t, msg, "QUEST Tokens: 50")
	assert.Contains(t, msg, "0x1234...5678")
}

func TestSecondClaimIsNoop(t *testing.T) {
	f := newFixture(false, false)

	first := f.claim(t, 1)
	require.Equal(t, OutcomeSuccess, first.Outcome)
	require.Len(t, f.claimer.calls, 2)

	second := f.claim(t, 1)
	assert.Equal(t, OutcomeAlreadyClaimed, second.Outcome)
	assert.Len(t, f.claimer.calls, 2)
	assert.Len(t, f.confirmer.titles, 1)
}

func TestDeclineMakesNoWrites(t *testing.T) {
	f := newFixture(false, false)
	f.confirmer.answer = false

	res := f.claim(t, 1)

	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.Empty(t, f.claimer.calls)
	assert.Empty(t, f.notifier.notes)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, "canceled", f.recorder.records[0].Outcome)
}

func TestPartialSuccess(t *testing.T) {
	f := newFixture(false, false)
	f.claimer.errs["claimNFT"] = errors.New("out of gas")

	res := f.claim(t, 1)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.True(t, res.TokensMinted)
	assert.False(t, res.NFTMinted)
	assert.Equal(t, []string{"claimTokens", "claimNFT"}, f.claimer.calls)

	note := f.notifier.last()
	assert.Equal(t, "Partial Success", note.Title)
	assert.Equal(t, domain.NotificationWarning, note.Kind)
	assert.Contains(t, note.Body, "NFT minting failed")
	assert.Equal(t, []refreshCall{{wallet, 3 * time.Second}}, f.refresher.scheduled)

	// A retry re-derives the plan from the chain and mints only the badge.
	delete(f.claimer.errs, "claimNFT")
	f.claimer.calls = nil
	retry := f.claim(t, 1)
	assert.Equal(t, NFTMissing, retry.Plan.Status)
	assert.Equal(t, []string{"claimNFT"}, f.claimer.calls)
}

func TestTokenFailureStillAttemptsBadge(t *testing.T) {
	f := newFixture(false, false)
	f.claimer.errs["claimTokens"] = errors.New("nonce too low")

	res := f.claim(t, 1)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, []string{"claimTokens", "claimNFT"}, f.claimer.calls)
	assert.Contains(t, f.notifier.last().Body, "token minting failed")
}

func TestPartialNamesAlreadyClaimedPart(t *testing.T) {
	f := newFixture(false, false)
	f.claimer.errs["claimTokens"] = domain.ErrAlreadyClaimed
	f.claimer.errs["claimNFT"] = errors.New("out of gas")

	res := f.claim(t, 1)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.False(t, res.TokensMinted)
	body := f.notifier.last().Body
	assert.Contains(t, body, "QuestCoin tokens already claimed")
	assert.NotContains(t, body, "tokens minted")

	f = newFixture(false, false)
	f.claimer.errs["claimTokens"] = errors.New("nonce too low")
	f.claimer.errs["claimNFT"] = domain.ErrAlreadyClaimed

	res = f.claim(t, 1)

	assert.Equal(t, OutcomePartial, res.Outcome)
	body = f.notifier.last().Body
	assert.Contains(t, body, "NFT badge already claimed")
	assert.NotContains(t, body, "badge minted")
}

func TestTotalFailure(t *testing.T) {
	f := newFixture(true, false)
	f.claimer.errs["claimNFT"] = errors.New("reverted")

	res := f.claim(t, 1)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	note := f.notifier.last()
	assert.Equal(t, "Minting Error", note.Title)
	assert.Equal(t, domain.NotificationError, note.Kind)
	assert.True(t, strings.HasPrefix(note.Body, "reverted"))
	assert.Empty(t, f.refresher.scheduled)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, "reverted", f.recorder.records[0].Error)
}

func TestMidFlightAlreadyClaimed(t *testing.T) {
	f := newFixture(false, false)
	f.claimer.errs["claimTokens"] = domain.ErrAlreadyClaimed
	f.claimer.errs["claimNFT"] = domain.ErrAlreadyClaimed

	res := f.claim(t, 1)

	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)
	assert.Equal(t, "Already Claimed", f.notifier.last().Title)
	assert.Equal(t, domain.NotificationInfo, f.notifier.last().Kind)
}

func TestMidFlightAlreadyClaimedOnePart(t *testing.T) {
	f := newFixture(false, false)
	f.claimer.errs["claimTokens"] = domain.ErrAlreadyClaimed

	res := f.claim(t, 1)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "NFT Badge Minted!", f.notifier.last().Title)
}

func TestFlagReadFailureFallsBackToCache(t *testing.T) {
	f := newFixture(false, false)
	f.flags.err = errors.New("rpc down")
	f.cache.player = &domain.Player{
		TokensClaimedStages: domain.NewStageSet(1),
		NFTClaimedStages:    domain.NewStageSet(1),
	}

	res := f.claim(t, 1)
	assert.Equal(t, OutcomeAlreadyClaimed, res.Outcome)
	assert.Empty(t, f.claimer.calls)
}

func TestClaimPreconditions(t *testing.T) {
	f := newFixture(false, false)

	_, err := f.r.Claim(context.Background(), Request{Stage: 1})
	require.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, "Wallet Not Connected", f.notifier.last().Title)

	_, err = f.r.Claim(context.Background(), Request{Address: wallet, Stage: 4})
	require.ErrorIs(t, err, domain.ErrInvalidStage)

	f.flags.flags.Completed = false
	_, err = f.r.Claim(context.Background(), Request{Address: wallet, Stage: 1})
	require.ErrorIs(t, err, domain.ErrStageNotCompleted)
	assert.Empty(t, f.claimer.calls)
}
