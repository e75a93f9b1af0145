package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/translation-engine/internal/models"
)

// Subjects for billing lifecycle events.
const (
	SubjectCreditsDebited   = "billing.credits.debited"
	SubjectCreditsRecharged = "billing.credits.recharged"
	SubjectLowBalance       = "billing.credits.low_balance"
)

// CreditEvent is the wire form of a ledger notification.
type CreditEvent struct {
	WorkspaceID   string          `json:"workspace_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publisher pushes billing events to NATS. Publishing is best-effort; a
// failed publish is logged and dropped.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS. Returns nil (publishing disabled) when the
// URL is empty.
func NewPublisher(url, name string, logger *logrus.Entry) (*Publisher, error) {
	if url == "" {
		logger.Warn("NATS URL not set, event publishing disabled")
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	logger.WithField("url", url).Info("Connected to NATS")
	return &Publisher{conn: conn, logger: logger}, nil
}

// CreditsDebited publishes a debit notification.
func (p *Publisher) CreditsDebited(workspaceID string, txn *models.CreditTransaction) {
	p.publish(SubjectCreditsDebited, CreditEvent{
		WorkspaceID:   workspaceID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		BalanceAfter:  txn.BalanceAfter,
		TransactionID: txn.ID.String(),
		Timestamp:     time.Now(),
	})
}

// CreditsRecharged publishes a recharge notification.
func (p *Publisher) CreditsRecharged(workspaceID string, txn *models.CreditTransaction) {
	p.publish(SubjectCreditsRecharged, CreditEvent{
		WorkspaceID:   workspaceID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		BalanceAfter:  txn.BalanceAfter,
		TransactionID: txn.ID.String(),
		Timestamp:     time.Now(),
	})
}

// LowBalance warns downstream consumers that a workspace is running out of
// credits.
func (p *Publisher) LowBalance(workspaceID string, balance decimal.Decimal) {
	p.publish(SubjectLowBalance, CreditEvent{
		WorkspaceID:  workspaceID,
		Type:         "low_balance",
		BalanceAfter: balance,
		Timestamp:    time.Now(),
	})
}

func (p *Publisher) publish(subject string, event CreditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithFields(logrus.Fields{
			"subject":      subject,
			"workspace_id": event.WorkspaceID,
		}).WithError(err).Warn("Failed to publish event")
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
