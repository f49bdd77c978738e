package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/domain"
)

type writerFixture struct {
	writer *Writer
	game   *fakeSender
	badge  *fakeSender
	market *fakeSender
	caller *fakeCaller
	states *stateRecorder
}

func newWriterFixture(t *testing.T, registered bool) *writerFixture {
	t.Helper()
	caller := newFakeCaller().
		on("getPlayer", func(...interface{}) ([]interface{}, error) {
			return []interface{}{[]interface{}{"", registered, 1, 0, 0, 0, 0, 0}}, nil
		}).
		on("isStageCompleted", stageFlag()).
		on("areTokensClaimed", stageFlag()).
		on("isNFTClaimed", stageFlag())

	tx := NewTransactor(fakeWaiter{}, time.Hour, testLogger())
	states := &stateRecorder{}
	tx.Observe(states.observe)

	f := &writerFixture{
		game:   newFakeSender(),
		badge:  newFakeSender(),
		market: newFakeSender(),
		caller: caller,
		states: states,
	}
	f.writer = NewWriter(WriterDeps{
		Account:    testWallet,
		Game:       f.game,
		Badge:      f.badge,
		Market:     f.market,
		MarketAddr: common.HexToAddress("0x370f6701cFDECC0A9D744a12b156317AA3CE32D1"),
		Reader:     NewReader(caller, fastRetry(), testLogger()),
		Transactor: tx,
		Logger:     testLogger(),
	})
	return f
}

func TestRegisterPlayer(t *testing.T) {
	f := newWriterFixture(t, false)

	res, err := f.writer.RegisterPlayer(context.Background(), "  runner  ")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Hash)
	assert.False(t, res.Noop)
	require.Len(t, f.game.sent, 1)
	assert.Equal(t, []interface{}{"runner"}, f.game.sent[0].args)
}

func TestRegisterPlayerValidatesUsername(t *testing.T) {
	f := newWriterFixture(t, false)

	_, err := f.writer.RegisterPlayer(context.Background(), "ab")
	require.ErrorIs(t, err, domain.ErrInvalidUsername)
	assert.Empty(t, f.game.sent)
	assert.Empty(t, f.states.get())
}

func TestRegisterPlayerPreflightShortCircuits(t *testing.T) {
	f := newWriterFixture(t, true)

	res, err := f.writer.RegisterPlayer(context.Background(), "runner")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Empty(t, f.game.sent)
	assert.Equal(t, []TxState{TxPending, TxSuccess}, f.states.get())
}

func TestRegisterPlayerAlreadyRegisteredRevertIsSuccess(t *testing.T) {
	f := newWriterFixture(t, false)
	f.game.errs["registerPlayer"] = errors.New("execution reverted: Player already registered")

	res, err := f.writer.RegisterPlayer(context.Background(), "runner")
	require.NoError(t, err)
	assert.True(t, res.Noop)
	assert.Equal(t, TxSuccess, f.writer.Transactor().Status().State)
}

func TestSaveGameSessionDefaultsStage(t *testing.T) {
	f := newWriterFixture(t, true)

	_, err := f.writer.SaveGameSession(context.Background(), domain.SessionSubmission{
		Score: 700, CoinsCollected: 35, QuestionsCorrect: 4, StageCompleted: true,
	})
	require.NoError(t, err)
	require.Len(t, f.game.sent, 1)
	args := f.game.sent[0].args
	assert.Equal(t, int64(1), args[0].(*big.Int).Int64())
	assert.Equal(t, int64(700), args[1].(*big.Int).Int64())
	assert.Equal(t, true, args[4])

	_, err = f.writer.SaveGameSession(context.Background(), domain.SessionSubmission{Stage: 1, Score: -1})
	require.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestClaimAlreadyClaimedIsInformational(t *testing.T) {
	f := newWriterFixture(t, true)
	f.game.errs["claimTokens"] = errors.New("execution reverted: Tokens already claimed")

	res, err := f.writer.ClaimTokens(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.True(t, domain.IsBenign(err))
	assert.True(t, res.Noop)
	assert.Equal(t, TxSuccess, f.writer.Transactor().Status().State)

	_, err = f.writer.ClaimNFT(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrInvalidStage)
}

func TestMarketplaceWrites(t *testing.T) {
	f := newWriterFixture(t, true)
	price := big.NewInt(5e17)

	_, err := f.writer.ApproveMarketplace(context.Background())
	require.NoError(t, err)
	_, err = f.writer.ListItem(context.Background(), 3, price)
	require.NoError(t, err)
	_, err = f.writer.BuyItem(context.Background(), 4, price)
	require.NoError(t, err)
	_, err = f.writer.CancelListing(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"setApprovalForAll"}, f.badge.methods())
	assert.Equal(t, []string{"listItem", "buyItem", "cancelListing"}, f.market.methods())
	assert.Nil(t, f.market.sent[0].value)
	assert.Equal(t, 0, price.Cmp(f.market.sent[1].value))
}

func TestMarketplaceWritesWithoutContract(t *testing.T) {
	w := NewWriter(WriterDeps{
		Account:    testWallet,
		Game:       newFakeSender(),
		Badge:      newFakeSender(),
		Transactor: NewTransactor(fakeWaiter{}, time.Second, testLogger()),
		Logger:     testLogger(),
	})
	_, err := w.BuyItem(context.Background(), 1, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrMarketplaceMissing)
}
