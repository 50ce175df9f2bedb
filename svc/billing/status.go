package billing

import "strings"

// MapStatus converts a provider subscription status into the local status.
// Unknown statuses fall closed to CANCELED.
func MapStatus(providerStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active":
		return StatusActive
	case "past_due", "unpaid", "incomplete":
		return StatusWarning
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled
	default:
		return StatusCanceled
	}
}

// DerivePlan returns YEARLY when the price lookup key or id mentions a year
// or the recurring interval is yearly, MONTHLY otherwise.
func DerivePlan(sub ProviderSubscription) Plan {
	for _, s := range []string{sub.LookupKey, sub.PriceID} {
		s = strings.ToLower(s)
		if strings.Contains(s, "year") || strings.Contains(s, "annual") {
			return PlanYearly
		}
	}
	if strings.EqualFold(sub.Interval, "year") {
		return PlanYearly
	}
	return PlanMonthly
}
