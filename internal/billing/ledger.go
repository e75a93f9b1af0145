package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/models"
	"github.com/tesseract-hub/translation-engine/internal/repository"
)

// ErrInsufficientCredits is returned when a debit cannot be covered and
// auto-recharge is disabled or failed.
var ErrInsufficientCredits = errors.New("insufficient credits")

// EventPublisher receives billing lifecycle notifications. Publishing is
// fire-and-forget; billing correctness never depends on it.
type EventPublisher interface {
	CreditsDebited(workspaceID string, txn *models.CreditTransaction)
	CreditsRecharged(workspaceID string, txn *models.CreditTransaction)
	LowBalance(workspaceID string, balance decimal.Decimal)
}

// Config holds ledger defaults for newly provisioned workspaces.
type Config struct {
	Currency                 string
	FreemiumStartingBalance  decimal.Decimal
	AutoRechargeDefault      bool
	RechargeThresholdDefault decimal.Decimal
	RechargeAmountDefault    decimal.Decimal
	LowBalanceThreshold      decimal.Decimal
}

// Ledger owns all balance mutation. Debits for the same workspace are
// serialized through a per-workspace mutex on top of the repository's row
// lock, so two concurrent cheap requests can never both pass the balance
// check and jointly overdraw the account.
type Ledger struct {
	repo      repository.CreditsRepository
	payments  PaymentClient
	publisher EventPublisher
	config    Config
	logger    *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates the billing ledger. publisher may be nil.
func NewLedger(repo repository.CreditsRepository, payments PaymentClient, publisher EventPublisher, config Config, logger *logrus.Entry) *Ledger {
	return &Ledger{
		repo:      repo,
		payments:  payments,
		publisher: publisher,
		config:    config,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) workspaceLock(workspaceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[workspaceID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[workspaceID] = lock
	}
	return lock
}

func (l *Ledger) defaults() models.WorkspaceCredits {
	return models.WorkspaceCredits{
		Balance:           l.config.FreemiumStartingBalance,
		Currency:          l.config.Currency,
		Plan:              "free",
		AutoRecharge:      l.config.AutoRechargeDefault,
		RechargeThreshold: l.config.RechargeThresholdDefault,
		RechargeAmount:    l.config.RechargeAmountDefault,
	}
}

// GetCredits returns the workspace's credits row, provisioning a freemium
// balance on first sight.
func (l *Ledger) GetCredits(ctx context.Context, workspaceID string) (*models.WorkspaceCredits, error) {
	return l.repo.GetOrCreate(ctx, workspaceID, l.defaults())
}

// CheckBalance reports whether the workspace can cover the estimated cost.
// A passing check is advisory only; the debit itself re-validates under the
// workspace lock.
func (l *Ledger) CheckBalance(ctx context.Context, workspaceID string, estimatedCost decimal.Decimal) (bool, error) {
	credits, err := l.GetCredits(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return !credits.Balance.LessThan(estimatedCost), nil
}

// DeductCredits is the only mutating debit path. Re-issuing the same
// requestID returns the already-recorded transaction instead of charging
// twice. When the balance is short and auto-recharge is enabled, the ledger
// recharges once and retries the debit once.
func (l *Ledger) DeductCredits(ctx context.Context, workspaceID string, amount decimal.Decimal, description, requestID string) (*models.CreditTransaction, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("debit amount must not be negative: %s", amount)
	}

	credits, err := l.GetCredits(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	lock := l.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	if requestID != "" {
		existing, err := l.repo.FindByRequestID(ctx, workspaceID, requestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	txn, err := l.repo.ApplyDebit(ctx, workspaceID, amount, description, requestID)
	if errors.Is(err, repository.ErrInsufficientBalance) {
		if !credits.AutoRecharge {
			return nil, fmt.Errorf("%w: workspace %s", ErrInsufficientCredits, workspaceID)
		}
		if _, rechargeErr := l.rechargeLocked(ctx, credits); rechargeErr != nil {
			l.logger.WithField("workspace_id", workspaceID).
				WithError(rechargeErr).Warn("Auto-recharge failed")
			return nil, fmt.Errorf("%w: workspace %s", ErrInsufficientCredits, workspaceID)
		}
		txn, err = l.repo.ApplyDebit(ctx, workspaceID, amount, description, requestID)
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: workspace %s", ErrInsufficientCredits, workspaceID)
		}
	}
	if err != nil {
		return nil, err
	}

	if l.publisher != nil {
		l.publisher.CreditsDebited(workspaceID, txn)
		if txn.BalanceAfter.LessThan(l.config.LowBalanceThreshold) {
			l.publisher.LowBalance(workspaceID, txn.BalanceAfter)
		}
	}
	return txn, nil
}

// Recharge charges the workspace's payment method and credits the balance.
func (l *Ledger) Recharge(ctx context.Context, workspaceID string, amount decimal.Decimal) (*models.CreditTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("recharge amount must be positive: %s", amount)
	}

	credits, err := l.GetCredits(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	credits.RechargeAmount = amount

	lock := l.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	return l.rechargeLocked(ctx, credits)
}

// rechargeLocked performs the external payment call and the balance credit.
// Callers must hold the workspace lock.
func (l *Ledger) rechargeLocked(ctx context.Context, credits *models.WorkspaceCredits) (*models.CreditTransaction, error) {
	amount := credits.RechargeAmount
	if !amount.IsPositive() {
		amount = l.config.RechargeAmountDefault
	}

	paymentRef, err := l.payments.Charge(ctx, credits.WorkspaceID, amount, credits.Currency)
	if err != nil {
		return nil, fmt.Errorf("charge payment method: %w", err)
	}

	txn, err := l.repo.ApplyCredit(ctx, credits.WorkspaceID, amount, "auto-recharge", paymentRef)
	if err != nil {
		// The charge went through but the credit did not; surface loudly so
		// the payment can be reconciled.
		l.logger.WithFields(logrus.Fields{
			"workspace_id": credits.WorkspaceID,
			"payment_ref":  paymentRef,
		}).WithError(err).Error("Payment charged but balance credit failed")
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"workspace_id": credits.WorkspaceID,
		"amount":       amount.String(),
		"payment_ref":  paymentRef,
	}).Info("Workspace recharged")

	if l.publisher != nil {
		l.publisher.CreditsRecharged(credits.WorkspaceID, txn)
	}
	return txn, nil
}

// UpdateAutoRecharge changes a workspace's auto-recharge settings.
func (l *Ledger) UpdateAutoRecharge(ctx context.Context, workspaceID string, enabled bool, threshold, amount decimal.Decimal) error {
	if _, err := l.GetCredits(ctx, workspaceID); err != nil {
		return err
	}
	return l.repo.UpdateSettings(ctx, workspaceID, enabled, threshold, amount)
}

// ListTransactions returns the workspace's ledger rows, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, workspaceID string, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return l.repo.ListTransactions(ctx, workspaceID, limit, offset)
}
