// Package provider defines the boundary to the external messaging platform
// that delivers outreach on behalf of a sending identity.
//
// The wire protocol and account connection lifecycle live behind this
// interface. Errors are classified with the sentinels below so the engine
// can decide between retrying, failing and enriching.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/cadence/internal/model"
)

// Sentinel errors. Implementations wrap them with fmt.Errorf("...: %w").
var (
	// ErrRateLimited means the platform throttled the identity. Retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable means the platform could not be reached. Retryable.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrInvalidContact means the contact can never be addressed. Fatal.
	ErrInvalidContact = errors.New("invalid contact")

	// ErrPolicyRejected means the platform refused the message. Fatal.
	ErrPolicyRejected = errors.New("rejected by policy")

	// ErrNotFound means the contact could not be resolved yet and needs
	// enrichment before another attempt.
	ErrNotFound = errors.New("contact not found")
)

// Relationship is the network state between an identity and a contact.
type Relationship string

const (
	RelationshipNone      Relationship = "none"
	RelationshipPending   Relationship = "pending"
	RelationshipConnected Relationship = "connected"
	RelationshipWithdrawn Relationship = "withdrawn"
)

// SendResult is returned by a successful delivery.
type SendResult struct {
	// ProviderRef addresses the contact in later calls. It may differ from
	// the reference passed in when the platform re-resolves the contact.
	ProviderRef string
	MessageID   string
}

// Reply is one inbound message observed by the platform.
type Reply struct {
	ProviderRef string
	ReceivedAt  time.Time
}

// Provider is the messaging platform client.
type Provider interface {
	// LookupContact resolves a contact to the platform's own reference.
	LookupContact(ctx context.Context, identityID string, contact model.Contact) (string, error)

	// SendInitialOutreach delivers step 0 (connection request or opener).
	// ref may be empty when the contact has not been resolved.
	SendInitialOutreach(ctx context.Context, identityID string, contact model.Contact, ref, message string) (SendResult, error)

	// SendFollowUp delivers a later step to an already resolved contact.
	SendFollowUp(ctx context.Context, identityID, ref, message string) (SendResult, error)

	// GetNetworkRelationship reports the connection state with a contact.
	GetNetworkRelationship(ctx context.Context, identityID, ref string) (Relationship, error)

	// ListRecentReplies lists inbound messages received since the given time.
	ListRecentReplies(ctx context.Context, identityID string, since time.Time) ([]Reply, error)
}

// IsRetryable reports whether err is a transient platform failure.
// Deadline expiry of the call's own context counts as transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal reports whether err means the step can never be delivered.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidContact) || errors.Is(err, ErrPolicyRejected)
}
