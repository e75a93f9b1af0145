package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TransactionType is the direction of a ledger row.
type TransactionType string

const (
	TransactionDebit  TransactionType = "debit"
	TransactionCredit TransactionType = "credit"
)

// WorkspaceCredits holds the prepaid balance for a workspace. The balance
// column is only ever mutated by the billing ledger inside a row-locked
// transaction.
type WorkspaceCredits struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	WorkspaceID       string          `json:"workspace_id" gorm:"type:varchar(50);uniqueIndex;not null"`
	Balance           decimal.Decimal `json:"balance" gorm:"type:decimal(14,6);not null"`
	Currency          string          `json:"currency" gorm:"type:varchar(3);default:'USD'"`
	Plan              string          `json:"plan" gorm:"type:varchar(30);default:'free'"`
	AutoRecharge      bool            `json:"auto_recharge" gorm:"default:false"`
	RechargeThreshold decimal.Decimal `json:"recharge_threshold" gorm:"type:decimal(14,6);default:0"`
	RechargeAmount    decimal.Decimal `json:"recharge_amount" gorm:"type:decimal(14,6);default:0"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BeforeCreate hook to generate UUID
func (w *WorkspaceCredits) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// CreditTransaction is an immutable, append-only ledger row. The sequence of
// rows for a workspace reconstructs the current balance exactly:
// balance_after == balance_before ± amount.
type CreditTransaction struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	WorkspaceID   string          `json:"workspace_id" gorm:"type:varchar(50);index;not null"`
	Type          TransactionType `json:"type" gorm:"type:varchar(10);not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(14,6);not null"`
	BalanceBefore decimal.Decimal `json:"balance_before" gorm:"type:decimal(14,6);not null"`
	BalanceAfter  decimal.Decimal `json:"balance_after" gorm:"type:decimal(14,6);not null"`
	Description   string          `json:"description" gorm:"type:varchar(255)"`
	PaymentRef    string          `json:"payment_ref,omitempty" gorm:"type:varchar(100)"`
	RequestID     string          `json:"request_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt     time.Time       `json:"created_at"`
}

// BeforeCreate hook to generate UUID
func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// UsageRecord is one translation's worth of usage, queued in memory and
// flushed in batches.
type UsageRecord struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	WorkspaceID    string          `json:"workspace_id" gorm:"type:varchar(50);index;not null"`
	UserID         string          `json:"user_id" gorm:"type:varchar(50)"`
	ChannelID      string          `json:"channel_id" gorm:"type:varchar(50)"`
	MessageID      string          `json:"message_id" gorm:"type:varchar(64)"`
	Characters     int64           `json:"characters"`
	TokensUsed     int64           `json:"tokens_used"`
	SourceLang     string          `json:"source_lang" gorm:"type:varchar(10)"`
	TargetLang     string          `json:"target_lang" gorm:"type:varchar(10)"`
	Provider       string          `json:"provider" gorm:"type:varchar(50)"`
	Model          string          `json:"model" gorm:"type:varchar(80)"`
	Cost           decimal.Decimal `json:"cost" gorm:"type:decimal(14,6);default:0"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	CacheHit       bool            `json:"cache_hit"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BeforeCreate hook to generate UUID
func (u *UsageRecord) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// DailyUsage is the per-workspace, per-day rollup of usage records.
// Language-pair and provider breakdowns are stored as JSONB count maps.
type DailyUsage struct {
	ID                uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	WorkspaceID       string          `json:"workspace_id" gorm:"type:varchar(50);not null;uniqueIndex:idx_daily_usage_workspace_date"`
	Date              time.Time       `json:"date" gorm:"type:date;not null;uniqueIndex:idx_daily_usage_workspace_date"`
	TranslationCount  int64           `json:"translation_count" gorm:"default:0"`
	DistinctUsers     int64           `json:"distinct_users" gorm:"default:0"`
	TotalCost         decimal.Decimal `json:"total_cost" gorm:"type:decimal(14,6);default:0"`
	CacheHits         int64           `json:"cache_hits" gorm:"default:0"`
	AvgResponseTimeMs float64         `json:"avg_response_time_ms" gorm:"default:0"`
	LanguagePairs     datatypes.JSON  `json:"language_pairs"`
	Providers         datatypes.JSON  `json:"providers"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BeforeCreate hook to generate UUID
func (d *DailyUsage) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
