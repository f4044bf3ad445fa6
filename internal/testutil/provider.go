package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
)

// Call records one provider invocation.
type Call struct {
	Method     string `json:"method" yaml:"method"`
	IdentityID string `json:"identity_id" yaml:"identity_id"`
	Contact    string `json:"contact,omitempty" yaml:"contact,omitempty"`
	Ref        string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Provider method names recorded in Call.Method.
const (
	MethodLookup       = "lookup_contact"
	MethodInitial      = "send_initial"
	MethodFollowUp     = "send_follow_up"
	MethodRelationship = "get_relationship"
	MethodReplies      = "list_replies"
)

// ScriptedProvider is an in-memory provider.Provider whose answers are set
// up by the test. Sends succeed unless errors were queued with FailSends;
// every call is recorded.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedProvider struct {
	mu            sync.Mutex
	calls         []Call
	sendErrs      []error
	lookupErr     error
	refs          map[string]string
	relationships map[string]provider.Relationship
	replies       map[string][]provider.Reply
	sendDelay     time.Duration

	inflight    map[string]int
	maxInflight int

	// OnSend runs inside every send call before it returns. Tests use it
	// to change state while a claim is held.
	OnSend func(call Call)
}

var _ provider.Provider = (*ScriptedProvider)(nil)

// NewScriptedProvider creates a provider where every call succeeds.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		refs:          make(map[string]string),
		relationships: make(map[string]provider.Relationship),
		replies:       make(map[string][]provider.Reply),
		inflight:      make(map[string]int),
	}
}

// FailSends queues errors returned by the next sends, one per call.
func (p *ScriptedProvider) FailSends(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErrs = append(p.sendErrs, errs...)
}

// SetSendDelay makes every send take d, or until its context ends.
func (p *ScriptedProvider) SetSendDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendDelay = d
}

// SetLookup makes LookupContact resolve contact to ref.
func (p *ScriptedProvider) SetLookup(contact, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs[contact] = ref
}

// SetLookupError makes every LookupContact fail with err.
func (p *ScriptedProvider) SetLookupError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookupErr = err
}

// SetRelationship sets the answer of GetNetworkRelationship for ref.
func (p *ScriptedProvider) SetRelationship(ref string, rel provider.Relationship) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.relationships[ref] = rel
}

// AddReply adds an inbound message seen by identityID.
func (p *ScriptedProvider) AddReply(identityID string, r provider.Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[identityID] = append(p.replies[identityID], r)
}

// Calls returns a copy of every recorded call in order.
func (p *ScriptedProvider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Sends returns the recorded send calls in order.
func (p *ScriptedProvider) Sends() []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == MethodInitial || c.Method == MethodFollowUp {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns how many times method was called.
func (p *ScriptedProvider) CallCount(method string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MaxConcurrentPerIdentity is the highest number of sends seen in flight
// at once for a single identity.
func (p *ScriptedProvider) MaxConcurrentPerIdentity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInflight
}

func (p *ScriptedProvider) record(c Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *ScriptedProvider) LookupContact(ctx context.Context, identityID string, contact model.Contact) (string, error) {
	p.record(Call{Method: MethodLookup, IdentityID: identityID, Contact: contact.Identity})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lookupErr != nil {
		return "", p.lookupErr
	}
	if ref, ok := p.refs[contact.Identity]; ok {
		return ref, nil
	}
	if contact.Identity == "" {
		return "", provider.ErrNotFound
	}
	return "ref:" + contact.Identity, nil
}

func (p *ScriptedProvider) SendInitialOutreach(ctx context.Context, identityID string, contact model.Contact, ref, message string) (provider.SendResult, error) {
	if ref == "" {
		ref = "ref:" + contact.Identity
	}
	return p.send(ctx, Call{
		Method:     MethodInitial,
		IdentityID: identityID,
		Contact:    contact.Identity,
		Ref:        ref,
		Message:    message,
	})
}

func (p *ScriptedProvider) SendFollowUp(ctx context.Context, identityID, ref, message string) (provider.SendResult, error) {
	return p.send(ctx, Call{
		Method:     MethodFollowUp,
		IdentityID: identityID,
		Ref:        ref,
		Message:    message,
	})
}

func (p *ScriptedProvider) send(ctx context.Context, c Call) (provider.SendResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.inflight[c.IdentityID]++
	p.maxInflight = max(p.maxInflight, p.inflight[c.IdentityID])
	var err error
	if len(p.sendErrs) > 0 {
		err = p.sendErrs[0]
		p.sendErrs = p.sendErrs[1:]
	}
	delay := p.sendDelay
	hook := p.OnSend
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inflight[c.IdentityID]--
		p.mu.Unlock()
	}()

	if hook != nil {
		hook(c)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return provider.SendResult{}, ctx.Err()
		}
	}
	if err != nil {
		return provider.SendResult{}, err
	}
	return provider.SendResult{ProviderRef: c.Ref}, nil
}

func (p *ScriptedProvider) GetNetworkRelationship(ctx context.Context, identityID, ref string) (provider.Relationship, error) {
	p.record(Call{Method: MethodRelationship, IdentityID: identityID, Ref: ref})
	p.mu.Lock()
	defer p.mu.Unlock()
	if rel, ok := p.relationships[ref]; ok {
		return rel, nil
	}
	return provider.RelationshipPending, nil
}

func (p *ScriptedProvider) ListRecentReplies(ctx context.Context, identityID string, since time.Time) ([]provider.Reply, error) {
	p.record(Call{Method: MethodReplies, IdentityID: identityID})
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []provider.Reply
	for _, r := range p.replies[identityID] {
		if !r.ReceivedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}
