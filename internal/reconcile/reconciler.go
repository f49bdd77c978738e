package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/celo-runner/internal/chain"
	"github.com/celo-runner/internal/domain"
	"github.com/celo-runner/internal/metrics"
)

// Outcome is the terminal result of a claim flow
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartial        Outcome = "partial"
	OutcomeFailed         Outcome = "failed"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
)

// FlagReader reads per-stage claim flags from the chain.
type FlagReader interface {
	ClaimFlags(ctx context.Context, addr string, stage int64) (chain.ClaimFlags, error)
}

// PlayerCache supplies the last known player when flags cannot be read.
type PlayerCache interface {
	CachedPlayer(addr string) (*domain.Player, bool)
}

// Confirmer asks the user to approve an action.
type Confirmer interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

// Notifier shows a notification.
type Notifier interface {
	Notify(n domain.Notification)
}

// Claimer submits the reward writes.
type Claimer interface {
	ClaimTokens(ctx context.Context, stage int64) (chain.TxResult, error)
	ClaimNFT(ctx context.Context, stage int64) (chain.TxResult, error)
}

// Refresher reloads player data after a claim.
type Refresher interface {
	InvalidatePlayer(addr string)
	ScheduleRefresh(addr string, delay time.Duration)
}

// Recorder persists claim outcomes.
type Recorder interface {
	RecordClaim(ctx context.Context, rec domain.ClaimRecord) error
}

// Deps groups the collaborators of a Reconciler.
type Deps struct {
	Flags     FlagReader
	Cache     PlayerCache
	Confirmer Confirmer
	Notifier  Notifier
	Claimer   Claimer
	Refresher Refresher
	// Recorder is optional
	Recorder Recorder
}

// Config holds the reload delays after a claim.
type Config struct {
	RefreshDelay        time.Duration
	PartialRefreshDelay time.Duration
}

// Request identifies the stage to claim for a wallet.
type Request struct {
	Address string
	Stage   int64
}

// Result describes what a claim flow did.
type Result struct {
	Plan         Plan    `json:"plan"`
	Outcome      Outcome `json:"outcome"`
	TokensMinted bool    `json:"tokens_minted"`
	NFTMinted    bool    `json:"nft_minted"`
	TokensError  string  `json:"tokens_error,omitempty"`
	NFTError     string  `json:"nft_error,omitempty"`
}

// Reconciler drives the reward claim flow for completed stages.
type Reconciler struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New creates a Reconciler.
func New(deps Deps, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{deps: deps, cfg: cfg, logger: logger}
}

// Claim reconciles the rewards of req.Stage against the chain and
// submits only the missing writes.
func (r *Reconciler) Claim(ctx context.Context, req Request) (Result, error) {
	if req.Address == "" {
		r.notify(domain.NotificationWarning, "Wallet Not Connected", "Please connect your wallet to claim rewards.", 0)
		return Result{}, domain.ErrNotConnected
	}
	reward, err := domain.RewardForStage(req.Stage)
	if err != nil {
		return Result{}, err
	}

	tokensClaimed, nftClaimed, err := r.claimState(ctx, req)
	if err != nil {
		return Result{}, err
	}
	plan := Decide(req.Stage, tokensClaimed, nftClaimed)

	logger := r.logger.With("address", req.Address, "stage", req.Stage, "status", plan.Status)
	logger.Info("reward claim planned", "writes", plan.Writes())

	if plan.Status == FullyClaimed {
		r.notifyAlreadyClaimed(reward)
		return r.finish(ctx, req, Result{Plan: plan, Outcome: OutcomeAlreadyClaimed}), nil
	}

	title, message := confirmText(plan, reward, req.Address)
	ok, err := r.deps.Confirmer.Confirm(ctx, title, message)
	if err != nil {
		return Result{Plan: plan}, fmt.Errorf("confirming claim: %w", err)
	}
	if !ok {
		logger.Info("reward claim canceled")
		return r.finish(ctx, req, Result{Plan: plan, Outcome: OutcomeCanceled}), nil
	}

	res := Result{Plan: plan}
	tokensDone, nftDone := !plan.MintTokens, !plan.MintNFT
	var tokensErr, nftErr error

	// The badge write starts only after the token write has settled.
	if plan.MintTokens {
		tokensDone, res.TokensMinted, tokensErr = r.settle(logger, "tokens", func() error {
			_, err := r.deps.Claimer.ClaimTokens(ctx, req.Stage)
			return err
		})
	}
	if plan.MintNFT {
		nftDone, res.NFTMinted, nftErr = r.settle(logger, "nft", func() error {
			_, err := r.deps.Claimer.ClaimNFT(ctx, req.Stage)
			return err
		})
	}
	if tokensErr != nil {
		res.TokensError = tokensErr.Error()
	}
	if nftErr != nil {
		res.NFTError = nftErr.Error()
	}

	progressed := (plan.MintTokens && tokensDone) || (plan.MintNFT && nftDone)
	switch {
	case tokensDone && nftDone && !res.TokensMinted && !res.NFTMinted:
		// Every missing part turned out to be claimed already.
		res.Outcome = OutcomeAlreadyClaimed
		r.notifyAlreadyClaimed(reward)
	case tokensDone && nftDone:
		res.Outcome = OutcomeSuccess
		r.notifySuccess(res, reward)
		r.refresh(req.Address, r.cfg.RefreshDelay)
	case progressed:
		res.Outcome = OutcomePartial
		r.notifyPartial(res, tokensDone, reward)
		r.refresh(req.Address, r.cfg.PartialRefreshDelay)
	default:
		res.Outcome = OutcomeFailed
		cause := tokensErr
		if cause == nil {
			cause = nftErr
		}
		r.notify(domain.NotificationError, "Minting Error", fmt.Sprintf("%v\n\nPlease try again.", cause), 8*time.Second)
	}

	return r.finish(ctx, req, res), nil
}

// claimState reads the claim flags, falling back to the cached player.
func (r *Reconciler) claimState(ctx context.Context, req Request) (tokens, nft bool, err error) {
	flags, readErr := r.deps.Flags.ClaimFlags(ctx, req.Address, req.Stage)
	if readErr == nil {
		if !flags.Completed {
			return false, false, domain.ErrStageNotCompleted
		}
		return flags.TokensClaimed, flags.NFTClaimed, nil
	}

	r.logger.Warn("claim flags unavailable, using cached player",
		"address", req.Address,
		"stage", req.Stage,
		"error", readErr,
	)
	if r.deps.Cache != nil {
		if p, ok := r.deps.Cache.CachedPlayer(req.Address); ok {
			return p.TokensClaimedStages.Has(req.Stage), p.NFTClaimedStages.Has(req.Stage), nil
		}
	}
	return false, false, nil
}

// settle runs one claim write. A mid-flight "already claimed" counts as
// done without a mint.
func (r *Reconciler) settle(logger *slog.Logger, part string, write func() error) (done, minted bool, err error) {
	err = write()
	switch {
	case err == nil:
		logger.Info("reward minted", "part", part)
		return true, true, nil
	case errors.Is(err, domain.ErrAlreadyClaimed):
		logger.Info("reward already claimed on chain", "part", part)
		return true, false, nil
	default:
		logger.Error("reward mint failed", "part", part, "error", err)
		return false, false, err
	}
}

func (r *Reconciler) refresh(addr string, delay time.Duration) {
	r.deps.Refresher.InvalidatePlayer(addr)
	r.deps.Refresher.ScheduleRefresh(addr, delay)
}

func (r *Reconciler) finish(ctx context.Context, req Request, res Result) Result {
	metrics.RecordClaim(req.Stage, string(res.Outcome))
	if r.deps.Recorder == nil {
		return res
	}

	rec := domain.ClaimRecord{
		Player:       req.Address,
		Stage:        req.Stage,
		Outcome:      string(res.Outcome),
		TokensMinted: res.TokensMinted,
		NFTMinted:    res.NFTMinted,
		Timestamp:    time.Now().UTC(),
	}
	switch {
	case res.TokensError != "":
		rec.Error = res.TokensError
	case res.NFTError != "":
		rec.Error = res.NFTError
	}
	if err := r.deps.Recorder.RecordClaim(ctx, rec); err != nil {
		r.logger.Warn("failed to record claim", "address", req.Address, "stage", req.Stage, "error", err)
	}
	return res
}

func (r *Reconciler) notify(kind domain.NotificationKind, title, body string, timeout time.Duration) {
	r.deps.Notifier.Notify(domain.Notification{Kind: kind, Title: title, Body: body, Timeout: timeout})
}

func (r *Reconciler) notifyAlreadyClaimed(reward domain.StageReward) {
	r.notify(domain.NotificationInfo, "Already Claimed", fmt.Sprintf(
		"You have already claimed all Stage %d rewards:\n• %d QuestCoin tokens\n• %s NFT badge",
		reward.Stage, reward.TokenAmount, reward.Badge.Name,
	), 6*time.Second)
}

func (r *Reconciler) notifySuccess(res Result, reward domain.StageReward) {
	const explorer = "\n\nCheck Celo Explorer for transaction details."
	switch {
	case res.TokensMinted && res.NFTMinted:
		r.notify(domain.NotificationSuccess, "Rewards Claimed Successfully!", fmt.Sprintf(
			"%d QuestCoin tokens claimed\n%s NFT badge claimed%s",
			reward.TokenAmount, reward.Badge.Name, explorer,
		), 7*time.Second)
	case res.NFTMinted:
		r.notify(domain.NotificationSuccess, "NFT Badge Minted!", fmt.Sprintf(
			"%s NFT badge minted\nTokens were already claimed previously%s",
			reward.Badge.Name, explorer,
		), 7*time.Second)
	default:
		r.notify(domain.NotificationSuccess, "Tokens Minted!", fmt.Sprintf(
			"%d QuestCoin tokens minted\nNFT was already claimed previously%s",
			reward.TokenAmount, explorer,
		), 7*time.Second)
	}
}

func (r *Reconciler) notifyPartial(res Result, tokensDone bool, reward domain.StageReward) {
	if tokensDone {
		tokens := fmt.Sprintf("%d QuestCoin tokens minted", reward.TokenAmount)
		if !res.TokensMinted {
			tokens = "QuestCoin tokens already claimed"
		}
		r.notify(domain.NotificationWarning, "Partial Success", fmt.Sprintf(
			"%s\n%s NFT minting failed\n\nYou can try again to mint just the NFT - tokens are already claimed.",
			tokens, reward.Badge.Name,
		), 8*time.Second)
		return
	}
	nft := fmt.Sprintf("%s NFT badge minted", reward.Badge.Name)
	if !res.NFTMinted {
		nft = fmt.Sprintf("%s NFT badge already claimed", reward.Badge.Name)
	}
	r.notify(domain.NotificationWarning, "Partial Success", fmt.Sprintf(
		"%s\n%d QuestCoin token minting failed\n\nYou can try again to mint just the tokens - the NFT is already claimed.",
		nft, reward.TokenAmount,
	), 8*time.Second)
}

func confirmText(plan Plan, reward domain.StageReward, addr string) (title, message string) {
	wallet := chain.ShortAddress(addr)
	switch plan.Status {
	case NFTMissing:
		return "Partial Claim Detected", fmt.Sprintf(
			"You already have QuestCoins but missing the %s NFT.\n• Wallet: %s\n\nWould you like to claim just the missing NFT badge?",
			reward.Badge.Name, wallet,
		)
	case TokensMissing:
		return "Partial Claim Detected", fmt.Sprintf(
			"You already have the %s NFT but are missing QuestCoins.\n• Wallet: %s\n\nWould you like to claim the missing %d QuestCoins?",
			reward.Badge.Name, wallet, reward.TokenAmount,
		)
	default:
		return fmt.Sprintf("Mint %s?", reward.Badge.Name), fmt.Sprintf(
			"• NFT Badge: %s\n• QUEST Tokens: %d\n• Wallet: %s\n\nThis will mint QUEST tokens and NFT badge to your wallet address.",
			reward.Badge.Name, reward.TokenAmount, wallet,
		)
	}
}
