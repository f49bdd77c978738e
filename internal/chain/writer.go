package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/celo-runner/internal/domain"
)

// TxResult is the outcome of a write.
type TxResult struct {
	Hash string `json:"hash,omitempty"`
	// Noop is set when the chain already held the requested state
	Noop bool `json:"noop,omitempty"`
}

// Writer submits the game and marketplace writes for one wallet. All
// writes share a single Transactor so at most one is in flight.
type Writer struct {
	account    string
	game       Sender
	badge      Sender
	market     Sender
	marketAddr common.Address
	reader     *Reader
	tx         *Transactor
	logger     *slog.Logger
}

// WriterDeps groups the collaborators of a Writer.
type WriterDeps struct {
	Account    string
	Game       Sender
	Badge      Sender
	Market     Sender
	MarketAddr common.Address
	Reader     *Reader
	Transactor *Transactor
	Logger     *slog.Logger
}

// NewWriter creates a write adapter.
func NewWriter(deps WriterDeps) *Writer {
	return &Writer{
		account:    deps.Account,
		game:       deps.Game,
		badge:      deps.Badge,
		market:     deps.Market,
		marketAddr: deps.MarketAddr,
		reader:     deps.Reader,
		tx:         deps.Transactor,
		logger:     deps.Logger,
	}
}

// Account returns the signing wallet address.
func (w *Writer) Account() string { return w.account }

// Transactor returns the shared lifecycle.
func (w *Writer) Transactor() *Transactor { return w.tx }

func resultOf(receipt *types.Receipt) TxResult {
	if receipt == nil {
		return TxResult{Noop: true}
	}
	return TxResult{Hash: receipt.TxHash.Hex()}
}

func isAlreadyRegistered(err error) bool { return errors.Is(err, domain.ErrAlreadyRegistered) }

func isAlreadyClaimed(err error) bool { return errors.Is(err, domain.ErrAlreadyClaimed) }

// RegisterPlayer registers username for the wallet. Registering an
// address twice succeeds with Noop set.
func (w *Writer) RegisterPlayer(ctx context.Context, username string) (TxResult, error) {
	name, err := domain.ValidateUsername(username)
	if err != nil {
		return TxResult{}, err
	}

	receipt, err := w.tx.Execute(ctx, Operation{
		Name: "registerPlayer",
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			if w.reader != nil {
				if p, readErr := w.reader.Player(ctx, w.account); readErr == nil && p.IsRegistered {
					return nil, domain.ErrAlreadyRegistered
				}
			}
			return w.game.Send(ctx, nil, "registerPlayer", name)
		},
		Tolerate: isAlreadyRegistered,
	})
	if isAlreadyRegistered(err) {
		w.logger.Info("player already registered", "address", w.account)
		return TxResult{Noop: true}, nil
	}
	if err != nil {
		return TxResult{}, err
	}
	return resultOf(receipt), nil
}

// SaveGameSession records a finished run.
func (w *Writer) SaveGameSession(ctx context.Context, sub domain.SessionSubmission) (TxResult, error) {
	sub, err := sub.Normalize()
	if err != nil {
		return TxResult{}, err
	}

	receipt, err := w.tx.Execute(ctx, Operation{
		Name: "saveGameSession",
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			return w.game.Send(ctx, nil, "saveGameSession",
				big.NewInt(sub.Stage),
				big.NewInt(sub.Score),
				big.NewInt(sub.CoinsCollected),
				big.NewInt(sub.QuestionsCorrect),
				sub.StageCompleted,
			)
		},
	})
	if err != nil {
		return TxResult{}, err
	}
	return resultOf(receipt), nil
}

// ClaimTokens mints the stage token reward. A reward that was already
// claimed ends in success and returns domain.ErrAlreadyClaimed.
func (w *Writer) ClaimTokens(ctx context.Context, stage int64) (TxResult, error) {
	return w.claim(ctx, "claimTokens", stage)
}

// ClaimNFT mints the stage badge. A badge that was already claimed ends
// in success and returns domain.ErrAlreadyClaimed.
func (w *Writer) ClaimNFT(ctx context.Context, stage int64) (TxResult, error) {
	return w.claim(ctx, "claimNFT", stage)
}

func (w *Writer) claim(ctx context.Context, method string, stage int64) (TxResult, error) {
	if stage < 1 || stage > domain.TotalStages {
		return TxResult{}, domain.ErrInvalidStage
	}

	receipt, err := w.tx.Execute(ctx, Operation{
		Name: method,
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			return w.game.Send(ctx, nil, method, big.NewInt(stage))
		},
		Tolerate: isAlreadyClaimed,
	})
	if isAlreadyClaimed(err) {
		return TxResult{Noop: true}, err
	}
	if err != nil {
		return TxResult{}, err
	}
	return resultOf(receipt), nil
}

// PurchaseItem spends in-game coins on a shop item.
func (w *Writer) PurchaseItem(ctx context.Context, itemType string, cost int64) (TxResult, error) {
	if itemType == "" || cost <= 0 {
		return TxResult{}, domain.ErrInvalidRequest
	}

	receipt, err := w.tx.Execute(ctx, Operation{
		Name: "purchaseItem",
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			return w.game.Send(ctx, nil, "purchaseItem", itemType, big.NewInt(cost))
		},
	})
	if err != nil {
		return TxResult{}, err
	}
	return resultOf(receipt), nil
}

// ApproveMarketplace lets the marketplace transfer all of the wallet's badges.
func (w *Writer) ApproveMarketplace(ctx context.Context) (TxResult, error) {
	if w.market == nil {
		return TxResult{}, domain.ErrMarketplaceMissing
	}
	return w.send(ctx, w.badge, "setApprovalForAll", nil, w.marketAddr, true)
}

// ListItem offers tokenID for sale at price wei.
func (w *Writer) ListItem(ctx context.Context, tokenID uint64, price *big.Int) (TxResult, error) {
	if w.market == nil {
		return TxResult{}, domain.ErrMarketplaceMissing
	}
	return w.send(ctx, w.market, "listItem", nil, new(big.Int).SetUint64(tokenID), price)
}

// BuyItem buys tokenID, attaching price as the transaction value.
func (w *Writer) BuyItem(ctx context.Context, tokenID uint64, price *big.Int) (TxResult, error) {
	if w.market == nil {
		return TxResult{}, domain.ErrMarketplaceMissing
	}
	return w.send(ctx, w.market, "buyItem", price, new(big.Int).SetUint64(tokenID))
}

// CancelListing withdraws the wallet's listing for tokenID.
func (w *Writer) CancelListing(ctx context.Context, tokenID uint64) (TxResult, error) {
	if w.market == nil {
		return TxResult{}, domain.ErrMarketplaceMissing
	}
	return w.send(ctx, w.market, "cancelListing", nil, new(big.Int).SetUint64(tokenID))
}

func (w *Writer) send(ctx context.Context, to Sender, method string, value *big.Int, args ...interface{}) (TxResult, error) {
	receipt, err := w.tx.Execute(ctx, Operation{
		Name: method,
		Submit: func(ctx context.Context) (*types.Transaction, error) {
			return to.Send(ctx, value, method, args...)
		},
	})
	if err != nil {
		return TxResult{}, err
	}
	return resultOf(receipt), nil
}
