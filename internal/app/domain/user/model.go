// Package user holds the identity record shared by all services.
package user

import "time"

// User is a registered player. Earned tracks referral commissions and is
// separate from the spendable token balance in the ledger.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	ReferrerID string    `json:"referrer_id,omitempty"`
	RefCode    string    `json:"ref_code"`
	Earned     int64     `json:"earned"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
