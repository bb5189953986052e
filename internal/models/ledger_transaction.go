package models

import "time"

// TransactionKind classifies a ledger transaction.
type TransactionKind string

// Ledger transaction kinds. Amounts are negative only for spent/admin_taken.
const (
	KindEarned        TransactionKind = "earned"
	KindSpent         TransactionKind = "spent"
	KindAdminGiven    TransactionKind = "admin_given"
	KindAdminTaken    TransactionKind = "admin_taken"
	KindMessageReward TransactionKind = "message_reward"
	KindActivityBonus TransactionKind = "activity_bonus"
)

// Debit reports whether the kind carries a negative amount.
func (k TransactionKind) Debit() bool {
	return k == KindSpent || k == KindAdminTaken
}

// LedgerTransaction is the immutable, signed record behind every balance
// change. Balances are cached sums; transactions are the source of truth.
type LedgerTransaction struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserExternalID int64           `gorm:"index:idx_ledger_user_created;not null" json:"user_external_id"`
	ChatID         int64           `gorm:"index" json:"chat_id"`
	Amount         int64           `gorm:"not null" json:"amount"`
	Kind           TransactionKind `gorm:"type:varchar(20);not null;index" json:"kind"`
	Reason         string          `gorm:"type:text" json:"reason"`
	AdminID        *int64          `json:"admin_id,omitempty"`
	CreatedAt      time.Time       `gorm:"index:idx_ledger_user_created" json:"created_at"`
}

// SignValid reports whether the amount sign matches the transaction kind.
func (t *LedgerTransaction) SignValid() bool {
	if t.Kind.Debit() {
		return t.Amount < 0
	}
	return t.Amount > 0
}
