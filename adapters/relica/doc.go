// Package relica provides Relica query-builder backed read repositories for
// the broker's admin surface: topic, subscription, and dead-letter lookups
// that have no transactional or locking requirements and so do not need
// the engine in internal/store. Every write and every operation touching
// the reservation protocol goes through internal/store instead; this
// package exists purely to give the operator-facing HTTP API (cmd/brokerd)
// a lightweight way to list and inspect what the engine has written.
package relica
