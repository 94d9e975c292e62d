package domain

import "time"

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// Paid reports whether the plan unlocks paid-only options.
func (p Plan) Paid() bool {
	return p == PlanPro || p == PlanBusiness
}

// ParsePlan normalizes a plan name, defaulting to free.
func ParsePlan(v string) Plan {
	switch Plan(v) {
	case PlanPro, PlanBusiness:
		return Plan(v)
	default:
		return PlanFree
	}
}

// SignupBonusCredits is granted once when a user row is first created.
const SignupBonusCredits = 10

// User captures account fields relevant to billing.
type User struct {
	ID        string
	Email     string
	Plan      Plan
	Credits   int
	CreatedAt time.Time
}
