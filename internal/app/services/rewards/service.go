// Package rewards issues token rewards for attendance claims. A claim is
// reserved in the store before any transfer leaves the service, so the
// irreversible external side effect happens at most once per address.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/decentracode/attendme/internal/app/domain/reward"
	"github.com/decentracode/attendme/internal/app/storage"
	"github.com/decentracode/attendme/internal/chain"
	"github.com/decentracode/attendme/internal/ethsign"
	"github.com/decentracode/attendme/pkg/logger"
)

// Sentinel errors surfaced to the HTTP boundary.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAlreadyClaimed = errors.New("reward already claimed")
	ErrClaimInFlight  = errors.New("a claim for this address is still being processed")
	ErrIssuance       = errors.New("reward issuance failed")
)

// Ledger is the external token ledger consumed by the issuer.
type Ledger interface {
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	Decimals(ctx context.Context) uint8
	Reward(ctx context.Context, participant string, amount *big.Int) (string, error)
	WaitMined(ctx context.Context, txHash string) (chain.TxStatus, error)
	TransactionStatus(ctx context.Context, txHash string) (chain.TxStatus, error)
}

// BalanceCache is an optional read-through cache for balance queries.
type BalanceCache interface {
	GetBalance(ctx context.Context, address string) (string, bool)
	SetBalance(ctx context.Context, address, balance string)
}

// Config controls issuance timing.
type Config struct {
	// ConfirmTimeout bounds the wait for transaction inclusion. On expiry
	// the claim stays pending with its hash for the reconciler.
	ConfirmTimeout time.Duration
	// ReconcileGrace is how long an unsettled claim may sit before the
	// reconciler fails it when the ledger does not know its transaction.
	ReconcileGrace time.Duration
}

// Service is the reward issuer.
type Service struct {
	store  storage.ClaimStore
	ledger Ledger
	cache  BalanceCache
	cfg    Config
	log    *logger.Logger
}

// New constructs a reward service. cache may be nil.
func New(store storage.ClaimStore, ledger Ledger, cache BalanceCache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.ReconcileGrace == 0 {
		cfg.ReconcileGrace = 10 * time.Minute
	}
	return &Service{store: store, ledger: ledger, cache: cache, cfg: cfg, log: log}
}

// Claim issues the reward for an address. At most one transfer is ever
// submitted per address: the pending claim row reserved here is the
// idempotency key, and concurrent calls lose the reservation race instead of
// double-spending.
func (s *Service) Claim(ctx context.Context, address, amount string) (reward.Claim, error) {
	if !ethsign.IsHexAddress(address) {
		return reward.Claim{}, fmt.Errorf("%w: invalid address", ErrValidation)
	}
	addr := ethsign.Normalize(address)

	units, err := chain.ParseUnits(amount, s.ledger.Decimals(ctx))
	if err != nil {
		return reward.Claim{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	claim, err := s.store.ReserveClaim(ctx, reward.Claim{Address: addr, Amount: amount})
	if err != nil {
		if errors.Is(err, storage.ErrClaimExists) {
			return s.resolveExistingClaim(ctx, addr)
		}
		return reward.Claim{}, err
	}

	log := s.log.WithField("claim_id", claim.ID).WithField("address", addr)

	txHash, err := s.ledger.Reward(ctx, addr, units)
	if err != nil {
		// Nothing reached the ledger; release the reservation so a retry
		// can reserve again.
		if settleErr := s.store.SettleClaim(ctx, claim.ID, reward.StatusFailed, err.Error()); settleErr != nil {
			log.WithError(settleErr).Error("failed to settle claim after submit error")
		}
		log.WithError(err).Warn("reward submission failed")
		return reward.Claim{}, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	claim.TxHash = txHash
	if err := s.store.SetClaimTxHash(ctx, claim.ID, txHash); err != nil {
		// The transfer is in flight; keep the claim pending and let the
		// reconciler settle it rather than risking a duplicate submit.
		log.WithError(err).Error("failed to record tx hash; claim left for reconciliation")
		return claim, fmt.Errorf("%w: transaction %s submitted but not recorded", ErrIssuance, txHash)
	}
	log.WithField("tx", txHash).Info("reward submitted")

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	status, err := s.ledger.WaitMined(waitCtx, txHash)
	if err != nil {
		// Timeout or transport failure: the transaction may still land, so
		// the claim stays pending with its hash until reconciled.
		log.WithError(err).Warn("confirmation wait ended without a receipt")
		return claim, fmt.Errorf("%w: transaction %s awaiting confirmation", ErrIssuance, txHash)
	}

	switch status {
	case chain.TxConfirmed:
		if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusSucceeded, ""); err != nil {
			log.WithError(err).Error("failed to settle confirmed claim")
			return claim, fmt.Errorf("%w: transaction %s confirmed but claim not settled", ErrIssuance, txHash)
		}
		claim.Status = reward.StatusSucceeded
		log.WithField("tx", txHash).Info("reward confirmed")
		return claim, nil
	default:
		cause := fmt.Sprintf("transaction %s %s", txHash, status)
		if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusFailed, cause); err != nil {
			log.WithError(err).Error("failed to settle reverted claim")
		}
		log.WithField("tx", txHash).Warn("reward transaction reverted")
		return reward.Claim{}, fmt.Errorf("%w: %s", ErrIssuance, cause)
	}
}

// resolveExistingClaim reports why a reservation was refused. A pending claim
// with a hash is reconciled on the spot so a caller retrying after a timeout
// learns the final outcome.
func (s *Service) resolveExistingClaim(ctx context.Context, address string) (reward.Claim, error) {
	existing, err := s.store.GetActiveClaimByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The competing claim settled to failed between the insert and
			// this lookup; the caller can simply retry.
			return reward.Claim{}, ErrClaimInFlight
		}
		return reward.Claim{}, err
	}

	if existing.Status == reward.StatusSucceeded {
		return existing, ErrAlreadyClaimed
	}
	if existing.TxHash != "" {
		if settled, ok := s.reconcileClaim(ctx, existing); ok && settled.Status == reward.StatusSucceeded {
			return settled, ErrAlreadyClaimed
		}
	}
	return existing, ErrClaimInFlight
}

// TokenBalance returns the formatted token balance of an address.
func (s *Service) TokenBalance(ctx context.Context, address string) (string, error) {
	if !ethsign.IsHexAddress(address) {
		return "", fmt.Errorf("%w: invalid address", ErrValidation)
	}
	addr := ethsign.Normalize(address)

	if s.cache != nil {
		if balance, ok := s.cache.GetBalance(ctx, addr); ok {
			return balance, nil
		}
	}

	raw, err := s.ledger.BalanceOf(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("fetch balance: %w", err)
	}
	balance := chain.FormatUnits(raw, s.ledger.Decimals(ctx))

	if s.cache != nil {
		s.cache.SetBalance(ctx, addr, balance)
	}
	return balance, nil
}

// ReconcilePending settles claims whose confirmation outlived a request:
// confirmed transactions succeed, reverted ones fail, and claims the ledger
// has never heard of fail once the grace period passes.
func (s *Service) ReconcilePending(ctx context.Context) error {
	pending, err := s.store.ListPendingClaims(ctx)
	if err != nil {
		return fmt.Errorf("list pending claims: %w", err)
	}

	for _, claim := range pending {
		if claim.TxHash == "" {
			// Reservation without a submission: the process died between
			// reserve and submit, or the submit failed before settling.
			if time.Since(claim.CreatedAt) > s.cfg.ReconcileGrace {
				if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusFailed, "no transaction submitted"); err != nil {
					s.log.WithError(err).WithField("claim_id", claim.ID).Error("failed to expire stale claim")
				}
			}
			continue
		}
		s.reconcileClaim(ctx, claim)
	}
	return nil
}

func (s *Service) reconcileClaim(ctx context.Context, claim reward.Claim) (reward.Claim, bool) {
	log := s.log.WithField("claim_id", claim.ID).WithField("tx", claim.TxHash)

	status, err := s.ledger.TransactionStatus(ctx, claim.TxHash)
	if err != nil && !errors.Is(err, chain.ErrNoReceipt) {
		log.WithError(err).Warn("reconcile: status lookup failed")
		return claim, false
	}

	switch status {
	case chain.TxConfirmed:
		if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusSucceeded, ""); err != nil {
			log.WithError(err).Error("reconcile: failed to settle confirmed claim")
			return claim, false
		}
		claim.Status = reward.StatusSucceeded
		log.Info("reconcile: claim confirmed")
		return claim, true
	case chain.TxReverted:
		cause := fmt.Sprintf("transaction %s reverted", claim.TxHash)
		if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusFailed, cause); err != nil {
			log.WithError(err).Error("reconcile: failed to settle reverted claim")
			return claim, false
		}
		claim.Status = reward.StatusFailed
		claim.Error = cause
		log.Warn("reconcile: claim reverted")
		return claim, true
	case chain.TxUnknown:
		if time.Since(claim.UpdatedAt) > s.cfg.ReconcileGrace {
			cause := fmt.Sprintf("transaction %s unknown to the ledger", claim.TxHash)
			if err := s.store.SettleClaim(ctx, claim.ID, reward.StatusFailed, cause); err != nil {
				log.WithError(err).Error("reconcile: failed to expire unknown claim")
				return claim, false
			}
			claim.Status = reward.StatusFailed
			claim.Error = cause
			log.Warn("reconcile: claim expired, transaction never seen")
			return claim, true
		}
	}
	return claim, false
}
