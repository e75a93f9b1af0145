package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tesseract-hub/translation-engine/internal/models"
)

// ErrInsufficientBalance is returned by ApplyDebit when the workspace cannot
// cover the amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// CreditsRepository is the storage side of the billing ledger. Every balance
// mutation runs inside a transaction holding a row lock on the workspace's
// credits row, so the balance and the transaction log cannot diverge.
type CreditsRepository interface {
	GetOrCreate(ctx context.Context, workspaceID string, defaults models.WorkspaceCredits) (*models.WorkspaceCredits, error)
	Get(ctx context.Context, workspaceID string) (*models.WorkspaceCredits, error)
	UpdateSettings(ctx context.Context, workspaceID string, autoRecharge bool, threshold, amount decimal.Decimal) error

	ApplyDebit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, requestID string) (*models.CreditTransaction, error)
	ApplyCredit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, paymentRef string) (*models.CreditTransaction, error)

	FindByRequestID(ctx context.Context, workspaceID, requestID string) (*models.CreditTransaction, error)
	ListTransactions(ctx context.Context, workspaceID string, limit, offset int) ([]models.CreditTransaction, error)
}

// creditsRepository implements CreditsRepository
type creditsRepository struct {
	db *gorm.DB
}

// NewCreditsRepository creates a new credits repository
func NewCreditsRepository(db *gorm.DB) CreditsRepository {
	return &creditsRepository{db: db}
}

// GetOrCreate returns the workspace's credits row, creating it with the
// given defaults on first sight (freemium provisioning).
func (r *creditsRepository) GetOrCreate(ctx context.Context, workspaceID string, defaults models.WorkspaceCredits) (*models.WorkspaceCredits, error) {
	var credits models.WorkspaceCredits
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		First(&credits).Error
	if err == nil {
		return &credits, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	defaults.WorkspaceID = workspaceID
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}},
			DoNothing: true,
		}).
		Create(&defaults).Error; err != nil {
		return nil, err
	}

	// Re-read: a concurrent creator may have won the conflict.
	err = r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		First(&credits).Error
	if err != nil {
		return nil, err
	}
	return &credits, nil
}

// Get returns the workspace's credits row
func (r *creditsRepository) Get(ctx context.Context, workspaceID string) (*models.WorkspaceCredits, error) {
	var credits models.WorkspaceCredits
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		First(&credits).Error
	if err != nil {
		return nil, err
	}
	return &credits, nil
}

// UpdateSettings changes the auto-recharge configuration for a workspace
func (r *creditsRepository) UpdateSettings(ctx context.Context, workspaceID string, autoRecharge bool, threshold, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.WorkspaceCredits{}).
		Where("workspace_id = ?", workspaceID).
		Updates(map[string]interface{}{
			"auto_recharge":      autoRecharge,
			"recharge_threshold": threshold,
			"recharge_amount":    amount,
		}).Error
}

// ApplyDebit atomically subtracts amount from the workspace balance and
// appends the matching ledger row. Returns ErrInsufficientBalance without
// mutating anything when the balance cannot cover the amount.
func (r *creditsRepository) ApplyDebit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, requestID string) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var credits models.WorkspaceCredits
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ?", workspaceID).
			First(&credits).Error; err != nil {
			return fmt.Errorf("lock credits row: %w", err)
		}

		if credits.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		newBalance := credits.Balance.Sub(amount)
		if err := tx.Model(&models.WorkspaceCredits{}).
			Where("workspace_id = ?", workspaceID).
			Update("balance", newBalance).Error; err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		txn = &models.CreditTransaction{
			WorkspaceID:   workspaceID,
			Type:          models.TransactionDebit,
			Amount:        amount,
			BalanceBefore: credits.Balance,
			BalanceAfter:  newBalance,
			Description:   description,
			RequestID:     requestID,
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ApplyCredit atomically adds amount to the workspace balance and appends
// the matching ledger row.
func (r *creditsRepository) ApplyCredit(ctx context.Context, workspaceID string, amount decimal.Decimal, description, paymentRef string) (*models.CreditTransaction, error) {
	var txn *models.CreditTransaction

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var credits models.WorkspaceCredits
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("workspace_id = ?", workspaceID).
			First(&credits).Error; err != nil {
			return fmt.Errorf("lock credits row: %w", err)
		}

		newBalance := credits.Balance.Add(amount)
		if err := tx.Model(&models.WorkspaceCredits{}).
			Where("workspace_id = ?", workspaceID).
			Update("balance", newBalance).Error; err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		txn = &models.CreditTransaction{
			WorkspaceID:   workspaceID,
			Type:          models.TransactionCredit,
			Amount:        amount,
			BalanceBefore: credits.Balance,
			BalanceAfter:  newBalance,
			Description:   description,
			PaymentRef:    paymentRef,
		}
		return tx.Create(txn).Error
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// FindByRequestID returns the debit already recorded for a request id, or
// nil when none exists. Used for idempotent retries.
func (r *creditsRepository) FindByRequestID(ctx context.Context, workspaceID, requestID string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND request_id = ?", workspaceID, requestID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns the workspace's ledger rows, newest first
func (r *creditsRepository) ListTransactions(ctx context.Context, workspaceID string, limit, offset int) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error
	return txns, err
}
