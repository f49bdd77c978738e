package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReadOnly is returned when a contract bound without a signer is asked
// to send a transaction.
var ErrReadOnly = errors.New("contract is bound without a signer")

// Caller performs read-only contract calls.
type Caller interface {
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
}

// Sender submits state-changing contract calls. A non-nil value is
// attached to the transaction.
type Sender interface {
	Send(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error)
}

// Contract is a deployed contract bound to an ABI and optionally a signer.
type Contract struct {
	name     string
	address  common.Address
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// NewContract binds the contract at addr. opts may be nil for a
// read-only binding.
func NewContract(name, abiJSON string, addr common.Address, backend bind.ContractBackend, opts *bind.TransactOpts) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing %s abi: %w", name, err)
	}
	return &Contract{
		name:     name,
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		opts:     opts,
	}, nil
}

// Name returns the contract's display name.
func (c *Contract) Name() string { return c.name }

// Address returns the deployed address.
func (c *Contract) Address() common.Address { return c.address }

// Call invokes a view method and returns its unpacked outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.name, method, err)
	}
	return out, nil
}

// Send signs and broadcasts a transaction. The shared transact options are
// copied so concurrent callers never observe each other's value.
func (c *Contract) Send(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	if c.opts == nil {
		return nil, ErrReadOnly
	}
	opts := *c.opts
	opts.Context = ctx
	opts.Value = value
	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.name, method, err)
	}
	return tx, nil
}
