package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/cadence/internal/model"
)

// DryRun is a Provider that delivers nothing. Every send succeeds with a
// synthetic reference and is logged at info level, so a campaign can be
// rehearsed against a real store.
type DryRun struct {
	logger *slog.Logger
}

// NewDryRun creates a DryRun provider. A nil logger uses slog.Default().
func NewDryRun(logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{logger: logger}
}

var _ Provider = (*DryRun)(nil)

func (d *DryRun) LookupContact(ctx context.Context, identityID string, contact model.Contact) (string, error) {
	if contact.Identity == "" {
		return "", ErrNotFound
	}
	return "dry:" + contact.Identity, nil
}

func (d *DryRun) SendInitialOutreach(ctx context.Context, identityID string, contact model.Contact, ref, message string) (SendResult, error) {
	if ref == "" {
		ref = "dry:" + contact.Identity
	}
	d.logger.Info("dry-run initial outreach",
		"identity", identityID,
		"contact", contact.Identity,
		"ref", ref,
		"message", message)
	return SendResult{ProviderRef: ref}, nil
}

func (d *DryRun) SendFollowUp(ctx context.Context, identityID, ref, message string) (SendResult, error) {
	d.logger.Info("dry-run follow-up",
		"identity", identityID,
		"ref", ref,
		"message", message)
	return SendResult{ProviderRef: ref}, nil
}

func (d *DryRun) GetNetworkRelationship(ctx context.Context, identityID, ref string) (Relationship, error) {
	return RelationshipPending, nil
}

func (d *DryRun) ListRecentReplies(ctx context.Context, identityID string, since time.Time) ([]Reply, error) {
	return nil, nil
}
