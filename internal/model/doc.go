// Package model defines the outreach domain types shared by every other
// package: prospects, sending identities, campaigns with their sequence
// definitions, and signal events.
//
// This package contains types and pure validation only. It imports
// internal/calendar for the campaign delivery window and nothing else
// internal, so it stays the foundational layer.
//
// Key constraints:
//   - A prospect's status only moves along edges allowed by CanTransition.
//   - StepIndex is the index of the step to dispatch next; it only grows,
//     except when enrichment restarts the sequence at zero.
//   - Signal events carry content-addressed IDs so one observation is
//     applied at most once, whichever source reported it.
//   - All JSON tags use snake_case.
package model
