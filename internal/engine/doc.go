// Package engine runs outreach campaigns against the prospect ledger.
//
// The engine decides, for every prospect, whether the next step of its
// sequence may go out now, later, or never. It never keeps state of its
// own between calls: the store is the only source of truth, so any number
// of engines (processes or goroutines) can share one ledger.
//
// ARCHITECTURE:
//
// Pass Pipeline:
// RunPass is one scheduling cycle. Each stage reads and writes the store:
// 1. ReapExpiredLeases returns claims of crashed workers to the queue
// 2. processEnrichment gives due enriching prospects another attempt
// 3. PromoteDue moves validated and awaiting prospects whose time has come to queued
// 4. dequeueReady claims queued prospects, one quota slot per claim
// 5. dispatchAll sends the claimed steps, one worker per sending identity
//
// Claims:
// A claim is a lease on one prospect plus one reserved quota slot, taken
// in a single transaction. Dispatch settles every claim exactly once: the
// slot is consumed when the provider accepted the step and freed
// otherwise. A claim whose lease expired is reaped by the next pass and
// its late settlement fails with a lease-lost error.
//
// Signals:
// ApplySignal records an external observation (reply, acceptance,
// withdrawal, bounce) and applies it in the same transaction. Signals do
// not revoke leases. A worker holding a claim re-reads the prospect
// before the provider call and settles without sending when the status
// moved.
//
// CRITICAL PATTERNS:
//
// Idempotency:
// Every write that may be repeated after a crash is keyed by content:
//   - SignalID hashes prospect, kind and observation second, so a
//     redelivered event is recorded once and reported as a duplicate
//   - SendID hashes prospect and step, so the delivery log holds at most
//     one row per step even when a settlement is retried
//   - Prospect rows carry a version; every update is a compare-and-set
//
// Quota Safety:
// The sum of consumed and reserved slots never exceeds an identity's
// quota. Reservations are taken under the same transaction that sets the
// lease, and released or consumed by the settlement that clears it.
//
// Time:
// Every decision reads the injected Clock. Tests drive the engine with a
// fake clock and a sequence ID generator, which makes passes reproducible.
package engine
