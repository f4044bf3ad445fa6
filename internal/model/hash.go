package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSignal = "cadence/signal/v1"
	DomainSend   = "cadence/send/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + part + 0x00 + part ...)
// The null separators keep adjacent parts from running together.
func hashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(norm.NFC.String(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SignalID is the identity of one observation. The same prospect, kind and
// second-truncated observation time always hash to the same ID, so a reply
// reported by both the poller and a webhook is applied once.
func SignalID(prospectID string, kind SignalKind, observedAt time.Time) string {
	ts := observedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	return hashWithDomain(DomainSignal, prospectID, string(kind), ts)
}

// SendID identifies the delivery of one step to one prospect. It is stable
// across retries of the same step so the audit log holds one row per step.
func SendID(prospectID string, step int) string {
	return hashWithDomain(DomainSend, prospectID, strconv.Itoa(step))
}
