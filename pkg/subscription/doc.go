// Package subscription owns the subscription lifecycle: plan activation,
// paid upgrades, and the expiration sweep that downgrades lapsed users to
// the free plan.
//
// A user has at most one active subscription at any instant. Activating a
// new plan atomically flips the previous active row to replaced, inserts
// the new row, re-initializes the usage counters for the new plan's
// feature set, and refreshes the storage quota snapshot; all four steps
// commit or roll back together. Terminal states (replaced, expired) never
// transition further.
//
// Key components:
//
//   - Service: activation, upgrade quoting/confirmation, expiration
//     processing, expiry reminders
//   - Store: durable state with the transactional plan-change contract
//     (PGStore for PostgreSQL, MemStore for tests)
//   - Sweeper: periodic worker driving ProcessExpired and the 7/3/1-day
//     expiry reminders
//
// The sweep is idempotent and safe under concurrent workers: selection
// requires status=active, and MarkExpired reports false when another
// worker already claimed the row.
package subscription
