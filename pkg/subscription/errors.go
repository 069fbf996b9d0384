package subscription

import "errors"

var (
	// ErrNoActiveSubscription means the user has no subscription with
	// status active. Surfaced to callers, never retried internally.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrSubscriptionNotFound means the referenced subscription row does
	// not exist.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrUpgradeNotAllowed means the target plan's price is not strictly
	// higher than the current plan's price.
	ErrUpgradeNotAllowed = errors.New("upgrade requires a higher priced plan")

	// ErrInvalidQuotaOverride means a custom quota map contains unknown
	// feature codes or values below the unlimited sentinel.
	ErrInvalidQuotaOverride = errors.New("invalid custom quota override")

	ErrFailedToActivate           = errors.New("failed to activate subscription")
	ErrFailedToQuerySubscription  = errors.New("failed to query subscription")
	ErrFailedToUpdateSubscription = errors.New("failed to update subscription")
)
