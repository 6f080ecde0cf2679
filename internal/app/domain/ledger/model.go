// Package ledger defines token balances and the journal of every balance
// mutation.
package ledger

import "time"

// Token amounts granted by registration events.
const (
	// StartingBalance is credited to every new user.
	StartingBalance int64 = 1000
	// ReferralBonus is credited to the referrer when a recruit registers.
	ReferralBonus int64 = 100
)

// TransactionType classifies a journal row.
type TransactionType string

const (
	TransactionGrant         TransactionType = "grant"
	TransactionReferralBonus TransactionType = "referral_bonus"
	TransactionPurchase      TransactionType = "purchase"
	TransactionFunnelCost    TransactionType = "funnel_cost"
	TransactionFunnelReward  TransactionType = "funnel_reward"
	TransactionSpend         TransactionType = "spend"
)

// Entry is a user's current spendable balance. The balance never goes
// negative; stores enforce the guard atomically with the decrement.
type Entry struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one journal row. Amount is signed: credits are positive,
// debits negative, so the rows for a user sum to the current balance.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Reference    string          `json:"reference,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
