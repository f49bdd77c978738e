package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type callFunc func(args ...interface{}) ([]interface{}, error)

type fakeCaller struct {
	mu      sync.Mutex
	methods map[string]callFunc
	calls   map[string]int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		methods: make(map[string]callFunc),
		calls:   make(map[string]int),
	}
}

func (f *fakeCaller) on(method string, fn callFunc) *fakeCaller {
	f.methods[method] = fn
	return f
}

func (f *fakeCaller) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeCaller) Call(_ context.Context, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	f.calls[method]++
	fn, ok := f.methods[method]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return fn(args...)
}

type sentCall struct {
	method string
	value  *big.Int
	args   []interface{}
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentCall
	errs  map[string]error
	nonce uint64
	block chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{errs: make(map[string]error)}
}

func (f *fakeSender) Send(_ context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	f.sent = append(f.sent, sentCall{method: method, value: value, args: args})
	f.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.nonce, GasPrice: big.NewInt(1), Gas: 21000}), nil
}

func (f *fakeSender) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, c := range f.sent {
		out = append(out, c.method)
	}
	return out
}

type fakeWaiter struct {
	reverted bool
	err      error
}

func (f fakeWaiter) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: tx.Hash()}, nil
}

// stateRecorder collects lifecycle transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []TxState
}

func (r *stateRecorder) observe(s TxStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *stateRecorder) get() []TxState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TxState(nil), r.states...)
}
