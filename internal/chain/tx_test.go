package chain

import (
	"context"
	"errors"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/metrics"
)

func sendOp(sender *fakeSender, method string) Operation {
	return Operation{
		Name: method,
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			return sender.Send(ctx, nil, method)
		},
	}
}

func TestTransactorHappyPath(t *testing.T) {
	tx := NewTransactor(fakeWaiter{}, 20*time.Millisecond, testLogger())
	rec := &stateRecorder{}
	tx.Observe(rec.observe)

	receipt, err := tx.Execute(context.Background(), sendOp(newFakeSender(), "saveGameSession"))
	require.NoError(t, err)
	require.NotNil(t, receipt)

	status := tx.Status()
	assert.Equal(t, TxSuccess, status.State)
	assert.Equal(t, receipt.TxHash.Hex(), status.Hash)

	require.Eventually(t, func() bool {
		return tx.Status().State == TxIdle
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []TxState{TxPending, TxConfirming, TxSuccess, TxIdle}, rec.get())
}

func TestTransactorSubmitFailureSkipsConfirming(t *testing.T) {
	tx := NewTransactor(fakeWaiter{}, time.Second, testLogger())
	rec := &stateRecorder{}
	tx.Observe(rec.observe)

	sender := newFakeSender()
	sender.errs["claimTokens"] = errors.New("user rejected")

	_, err := tx.Execute(context.Background(), sendOp(sender, "claimTokens"))
	require.Error(t, err)

	assert.Equal(t, []TxState{TxPending, TxError}, rec.get())
	assert.Equal(t, TxError, tx.Status().State)
	assert.Contains(t, tx.Status().Error, "user rejected")
}

func TestTransactorRevertedReceipt(t *testing.T) {
	tx := NewTransactor(fakeWaiter{reverted: true}, time.Second, testLogger())
	rec := &stateRecorder{}
	tx.Observe(rec.observe)

	_, err := tx.Execute(context.Background(), sendOp(newFakeSender(), "purchaseItem"))
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Equal(t, []TxState{TxPending, TxConfirming, TxError}, rec.get())
}

func TestTransactorRejectsOverlappingOperation(t *testing.T) {
	tx := NewTransactor(fakeWaiter{}, time.Second, testLogger())

	sender := newFakeSender()
	sender.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := tx.Execute(context.Background(), sendOp(sender, "claimTokens"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		return tx.Status().State == TxPending
	}, time.Second, time.Millisecond)

	_, err := tx.Execute(context.Background(), sendOp(newFakeSender(), "claimNFT"))
	require.ErrorIs(t, err, domain.ErrOperationInFlight)

	close(sender.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"claimTokens"}, sender.methods())

	// A finished operation no longer blocks the next one.
	_, err = tx.Execute(context.Background(), sendOp(newFakeSender(), "claimNFT"))
	require.NoError(t, err)
}

func TestTransactorConcurrentExecuteAdmitsOne(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(4))

	const callers = 32
	for round := 0; round < 50; round++ {
		tx := NewTransactor(fakeWaiter{}, time.Millisecond, testLogger())

		var entered atomic.Int32
		release := make(chan struct{})
		op := Operation{
			Name: "claimTokens",
			Submit: func(ctx context.Context) (*types.Transaction, error) {
				entered.Add(1)
				<-release
				return types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000}), nil
			},
		}

		start := make(chan struct{})
		errs := make(chan error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := tx.Execute(context.Background(), op)
				errs <- err
			}()
		}
		close(start)

		rejected := 0
		for rejected < callers-1 {
			err := <-errs
			require.ErrorIs(t, err, domain.ErrOperationInFlight)
			rejected++
		}
		assert.Equal(t, int32(1), entered.Load(), "round %d", round)
		assert.Equal(t, TxPending, tx.Status().State)

		close(release)
		wg.Wait()
		require.NoError(t, <-errs)
	}
}

func TestTransactorToleratedOutcome(t *testing.T) {
	tx := NewTransactor(fakeWaiter{}, time.Second, testLogger())
	rec := &stateRecorder{}
	tx.Observe(rec.observe)

	sender := newFakeSender()
	sender.errs["claimNFT"] = errors.New("execution reverted: NFT already claimed")

	op := sendOp(sender, "claimNFT")
	op.Tolerate = func(err error) bool { return errors.Is(err, domain.ErrAlreadyClaimed) }

	receipt, err := tx.Execute(context.Background(), op)
	assert.Nil(t, receipt)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, []TxState{TxPending, TxSuccess}, rec.get())
}

func TestTransactorUnobserve(t *testing.T) {
	tx := NewTransactor(fakeWaiter{}, time.Second, testLogger())
	rec := &stateRecorder{}
	stop := tx.Observe(rec.observe)
	stop()

	_, err := tx.Execute(context.Background(), sendOp(newFakeSender(), "registerPlayer"))
	require.NoError(t, err)
	assert.Empty(t, rec.get())
}

func TestTransactorToleratedOutcomeRecordsSettle(t *testing.T) {
	before, err := testutil.GatherAndCount(metrics.Registry, "celo_runner_tx_duration_seconds")
	require.NoError(t, err)

	tx := NewTransactor(fakeWaiter{}, time.Second, testLogger())
	sender := newFakeSender()
	sender.errs["registerPlayerAgain"] = errors.New("execution reverted: Player already registered")

	op := sendOp(sender, "registerPlayerAgain")
	op.Tolerate = func(err error) bool { return errors.Is(err, domain.ErrAlreadyRegistered) }

	_, err = tx.Execute(context.Background(), op)
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	after, err := testutil.GatherAndCount(metrics.Registry, "celo_runner_tx_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}
