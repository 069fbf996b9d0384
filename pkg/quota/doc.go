// Package quota is the evaluation core of the accounting engine: it
// decides whether a user may perform a gated action and records the
// usage the action consumes.
//
// The effective limit for a feature is resolved in two steps: the
// subscription's custom override if present, else the plan's value. A
// limit of -1 means unlimited. The storage_space feature is special:
// its usage comes from a byte-denominated accounting table (converted
// to MB), and a separately purchased storage add-on is folded into the
// limit.
//
// RecordUsage drives the whole pipeline of a successful gated action:
// atomic ledger increment, alert threshold evaluation, push
// notification, anomaly check. Only the increment can fail the call;
// everything after it is best-effort.
package quota
