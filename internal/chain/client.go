package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/celo-runner/internal/config"
)

// Client is the wallet session: one RPC connection, one signing key and
// the three bound contracts.
type Client struct {
	eth     *ethclient.Client
	account common.Address

	Game        *Contract
	Badge       *Contract
	Marketplace *Contract
}

// Dial connects to the configured RPC endpoint and binds the contracts.
// Without a private key the contracts are bound read-only.
func Dial(ctx context.Context, cfg config.ChainConfig, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.RPCURL, err)
	}

	var opts *bind.TransactOpts
	var account common.Address
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		opts, err = bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("creating transactor: %w", err)
		}
		account = crypto.PubkeyToAddress(key.PublicKey)
	}

	c := &Client{eth: eth, account: account}

	bindings := []struct {
		name string
		abi  string
		addr string
		dst  **Contract
	}{
		{"CeloRunner", CeloRunnerABI, cfg.CeloRunner, &c.Game},
		{"RunnerBadge", BadgeABI, cfg.Badge, &c.Badge},
		{"Marketplace", MarketplaceABI, cfg.Marketplace, &c.Marketplace},
	}
	for _, b := range bindings {
		if b.addr == "" {
			logger.Warn("contract address not configured", "contract", b.name)
			continue
		}
		addr, err := ParseAddress(b.addr)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("%s address: %w", b.name, err)
		}
		if *b.dst, err = NewContract(b.name, b.abi, addr, eth, opts); err != nil {
			eth.Close()
			return nil, err
		}
	}
	if c.Game == nil || c.Badge == nil {
		eth.Close()
		return nil, fmt.Errorf("game and badge contract addresses are required")
	}

	logger.Info("connected to chain",
		"rpc", cfg.RPCURL,
		"chain_id", cfg.ChainID,
		"account", account.Hex(),
	)
	return c, nil
}

// Account returns the signing wallet address, or the zero address when
// the client is read-only.
func (c *Client) Account() common.Address { return c.account }

// HasSigner reports whether writes can be signed.
func (c *Client) HasSigner() bool { return c.account != (common.Address{}) }

// Waiter returns a receipt waiter backed by the RPC connection.
func (c *Client) Waiter() ReceiptWaiter { return BackendWaiter{Backend: c.eth} }

// Ping checks the RPC connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.eth.ChainID(ctx)
	return err
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
