package domain

import "time"

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TransactionUsage    TransactionType = "usage"
	TransactionPurchase TransactionType = "purchase"
	TransactionRefund   TransactionType = "refund"
	TransactionBonus    TransactionType = "bonus"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionUsage, TransactionPurchase, TransactionRefund, TransactionBonus:
		return true
	}
	return false
}

// CreditTransaction is an append-only ledger row.
type CreditTransaction struct {
	ID          string
	UserID      string
	Amount      int
	Type        TransactionType
	Description string
	EditID      string
	JobID       string
	CreatedAt   time.Time
}

// RefundPolicy decides whether a failed job's charge is returned.
type RefundPolicy string

const (
	RefundNever     RefundPolicy = "never"
	RefundOnFailure RefundPolicy = "on_failure"
)

// ParseRefundPolicy maps configuration to a policy, defaulting to on_failure.
func ParseRefundPolicy(v string) RefundPolicy {
	if RefundPolicy(v) == RefundNever {
		return RefundNever
	}
	return RefundOnFailure
}

// ShouldRefund applies the policy to a terminal job.
func (p RefundPolicy) ShouldRefund(job *Job) bool {
	if p != RefundOnFailure || job == nil || job.CreditsCharged <= 0 {
		return false
	}
	return job.Status == JobStatusFailed || job.Status == JobStatusCancelled
}

// CreditPackage is a purchasable bundle.
type CreditPackage struct {
	ID       string  `json:"id"`
	Credits  int     `json:"credits"`
	PriceUSD float64 `json:"priceUsd"`
}

// CreditPackages lists the bundles sold through the payment gateway.
var CreditPackages = []CreditPackage{
	{ID: "100", Credits: 100, PriceUSD: 5},
	{ID: "200", Credits: 200, PriceUSD: 8},
	{ID: "500", Credits: 500, PriceUSD: 18},
	{ID: "1000", Credits: 1000, PriceUSD: 25},
	{ID: "2000", Credits: 2000, PriceUSD: 40},
	{ID: "5000", Credits: 5000, PriceUSD: 80},
	{ID: "10000", Credits: 10000, PriceUSD: 120},
}
