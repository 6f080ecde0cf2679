// Package referral defines the commission rules for the recruitment graph.
package referral

// Commission terms for a qualifying subscription purchase.
const (
	// CommissionPerLevel is credited to each upline level.
	CommissionPerLevel int64 = 30
	// CommissionDepth is how many levels up the referrer chain is walked.
	CommissionDepth = 2
)
