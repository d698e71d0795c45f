package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionKind is the business reason for a credit movement.
type TransactionKind string

const (
	TransactionKindPurchase TransactionKind = "purchase"
	TransactionKindUsage    TransactionKind = "usage"
	TransactionKindRefund   TransactionKind = "refund"
)

// CreditAccount holds a user's spendable balance. Balance only moves
// through ledger operations; the conditional decrement in Reserve keeps
// it non-negative under concurrent spends.
type CreditAccount struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex"`
	Balance   int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction is an immutable, append-only ledger record. The
// running sum of signed amounts (+purchase, -usage, +refund) equals the
// account balance at all times.
type CreditTransaction struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	UserID      snowflake.ID    `gorm:"not null;index"`
	Kind        TransactionKind `gorm:"type:text;not null;uniqueIndex:ux_credit_tx_report_kind,priority:2"`
	Amount      int64           `gorm:"not null"`
	ReportID    *snowflake.ID   `gorm:"uniqueIndex:ux_credit_tx_report_kind,priority:1"`
	Reference   string          `gorm:"type:text"`
	Description string          `gorm:"type:text"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Signed returns the amount with the sign the running balance sees.
func (t CreditTransaction) Signed() int64 {
	if t.Kind == TransactionKindUsage {
		return -t.Amount
	}
	return t.Amount
}
