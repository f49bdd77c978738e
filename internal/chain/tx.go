package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/metrics"
)

// TxState is a write adapter lifecycle state
type TxState string

const (
	TxIdle       TxState = "idle"
	TxPending    TxState = "pending"
	TxConfirming TxState = "confirming"
	TxSuccess    TxState = "success"
	TxError      TxState = "error"
)

// TxStatus is the observable state of a Transactor
type TxStatus struct {
	Operation string    `json:"operation,omitempty"`
	State     TxState   `json:"state"`
	Hash      string    `json:"hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Busy reports whether an operation is in flight.
func (s TxStatus) Busy() bool {
	return s.State == TxPending || s.State == TxConfirming
}

// ReceiptWaiter blocks until a transaction is mined.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// BackendWaiter waits for receipts through a deploy backend.
type BackendWaiter struct {
	Backend bind.DeployBackend
}

// WaitMined implements ReceiptWaiter.
func (w BackendWaiter) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, w.Backend, tx)
}

// Operation is one mutating contract call.
type Operation struct {
	Name   string
	Submit func(ctx context.Context) (*types.Transaction, error)
	// Tolerate reports whether a classified submit error is an expected
	// outcome. Tolerated errors end in success and are still returned.
	Tolerate func(err error) bool
}

// Transactor drives the idle, pending, confirming, success and error
// lifecycle for one wallet. Only one operation may be in flight.
type Transactor struct {
	waiter ReceiptWaiter
	hold   time.Duration
	logger *slog.Logger

	mu         sync.Mutex
	status     TxStatus
	generation uint64
	resetTimer *time.Timer
	observers  map[int]func(TxStatus)
	nextID     int
}

// NewTransactor creates a Transactor. hold is how long a success stays
// visible before the state returns to idle.
func NewTransactor(waiter ReceiptWaiter, hold time.Duration, logger *slog.Logger) *Transactor {
	return &Transactor{
		waiter:    waiter,
		hold:      hold,
		logger:    logger,
		status:    TxStatus{State: TxIdle, UpdatedAt: time.Now()},
		observers: make(map[int]func(TxStatus)),
	}
}

// Status returns the current lifecycle state.
func (t *Transactor) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Observe registers fn for every transition and returns a function that
// removes it.
func (t *Transactor) Observe(fn func(TxStatus)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.observers, id)
	}
}

// Execute runs op through the lifecycle and returns its receipt. It fails
// fast with domain.ErrOperationInFlight while another operation is pending
// or confirming.
func (t *Transactor) Execute(ctx context.Context, op Operation) (*types.Receipt, error) {
	gen, err := t.begin(op.Name)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	tx, err := op.Submit(ctx)
	if err != nil {
		err = Classify(err)
		if op.Tolerate != nil && op.Tolerate(err) {
			t.logger.Info("transaction outcome tolerated", "operation", op.Name, "reason", err)
			t.succeed(gen, op.Name, "")
			metrics.RecordTxSettled(op.Name, time.Since(start), true)
			return nil, err
		}
		t.fail(gen, op.Name, "", err)
		metrics.RecordTxSettled(op.Name, time.Since(start), false)
		return nil, fmt.Errorf("%s: %w", op.Name, err)
	}

	hash := tx.Hash().Hex()
	t.transition(gen, TxStatus{Operation: op.Name, State: TxConfirming, Hash: hash})
	t.logger.Info("transaction submitted", "operation", op.Name, "hash", hash)

	receipt, err := t.waiter.WaitMined(ctx, tx)
	if err != nil {
		t.fail(gen, op.Name, hash, err)
		metrics.RecordTxSettled(op.Name, time.Since(start), false)
		return nil, fmt.Errorf("%s: waiting for %s: %w", op.Name, hash, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		t.fail(gen, op.Name, hash, domain.ErrTransactionFailed)
		metrics.RecordTxSettled(op.Name, time.Since(start), false)
		return receipt, fmt.Errorf("%s: %s: %w", op.Name, hash, domain.ErrTransactionFailed)
	}

	t.succeed(gen, op.Name, hash)
	metrics.RecordTxSettled(op.Name, time.Since(start), true)
	return receipt, nil
}

func (t *Transactor) begin(name string) (uint64, error) {
	t.mu.Lock()
	if t.status.Busy() {
		t.mu.Unlock()
		return 0, domain.ErrOperationInFlight
	}
	if t.resetTimer != nil {
		t.resetTimer.Stop()
		t.resetTimer = nil
	}
	t.generation++
	gen := t.generation
	// pending is set under the same lock as the busy check
	next, observers := t.setLocked(TxStatus{Operation: name, State: TxPending})
	t.mu.Unlock()

	t.notify(next, observers)
	return gen, nil
}

func (t *Transactor) succeed(gen uint64, name, hash string) {
	t.transition(gen, TxStatus{Operation: name, State: TxSuccess, Hash: hash})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.generation != gen {
		return
	}
	t.resetTimer = time.AfterFunc(t.hold, func() {
		t.transition(gen, TxStatus{State: TxIdle})
	})
}

func (t *Transactor) fail(gen uint64, name, hash string, err error) {
	t.logger.Error("transaction failed", "operation", name, "hash", hash, "error", err)
	t.transition(gen, TxStatus{Operation: name, State: TxError, Hash: hash, Error: err.Error()})
}

// transition applies next if gen is still the current operation and
// notifies observers outside the lock.
func (t *Transactor) transition(gen uint64, next TxStatus) {
	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		return
	}
	next, observers := t.setLocked(next)
	t.mu.Unlock()

	t.notify(next, observers)
}

// setLocked stores next and snapshots the observers. t.mu must be held.
func (t *Transactor) setLocked(next TxStatus) (TxStatus, []func(TxStatus)) {
	next.UpdatedAt = time.Now()
	t.status = next
	observers := make([]func(TxStatus), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	return next, observers
}

func (t *Transactor) notify(next TxStatus, observers []func(TxStatus)) {
	metrics.RecordTxTransition(next.Operation, string(next.State))
	for _, fn := range observers {
		fn(next)
	}
}
