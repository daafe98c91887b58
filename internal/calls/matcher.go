package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-telephony/internal/leads"
	"crm-telephony/internal/users"

	"github.com/google/uuid"
)

// ErrNoAgent means the full agent-resolution chain came up empty.
// Inbound events are still recorded with a null agent in that case.
var ErrNoAgent = errors.New("calls: no agent resolvable")

// Matcher resolves or creates the CRM lead for a call event and
// resolves the owning agent.
type Matcher struct {
	Leads leads.Repository
	Users users.Repository

	Now func() time.Time
}

func NewMatcher(leadRepo leads.Repository, userRepo users.Repository) *Matcher {
	return &Matcher{Leads: leadRepo, Users: userRepo, Now: time.Now}
}

// MatchOrCreateLead finds the lead owning phone, creating a
// placeholder for inbound calls from unrecognized numbers. Outbound
// misses propagate leads.ErrNotFound; the originating request should
// have carried a lead reference.
func (m *Matcher) MatchOrCreateLead(ctx context.Context, phone string, inbound bool) (lead leads.Lead, created bool, err error) {
	l, err := m.Leads.GetByMobile(ctx, phone)
	if err == nil {
		return l, false, nil
	}
	if !errors.Is(err, leads.ErrNotFound) {
		return leads.Lead{}, false, err
	}
	if !inbound {
		return leads.Lead{}, false, err
	}

	l = leads.Lead{
		ID:           uuid.NewString(),
		Name:         fmt.Sprintf("Unknown Caller (%s)", phone),
		MobileNumber: phone,
		Status:       leads.StatusNew,
		Source:       leads.SourceIncomingCall,
		CreatedAt:    m.now(),
	}
	if err := m.Leads.Create(ctx, l); err != nil {
		return leads.Lead{}, false, err
	}
	return l, true, nil
}

// ResolveAgent walks the assignment chain: agent number from the
// payload, correlation-token identifier, the lead's creator, then any
// administrator. Each miss falls through to the next rule.
func (m *Matcher) ResolveAgent(ctx context.Context, ev Event, lead leads.Lead) (users.User, error) {
	if ev.AgentNumber != "" {
		u, err := m.Users.GetByAgentNumber(ctx, ev.AgentNumber)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return users.User{}, err
		}
	}

	if id, ok := ParseCorrelationToken(ev.CustomIdentifier); ok {
		u, err := m.Users.GetByID(ctx, id)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return users.User{}, err
		}
	}

	if lead.CreatedBy != "" {
		u, err := m.Users.GetByID(ctx, lead.CreatedBy)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, users.ErrNotFound) {
			return users.User{}, err
		}
	}

	u, err := m.Users.FirstAdmin(ctx)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return users.User{}, err
	}
	return users.User{}, ErrNoAgent
}

func (m *Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}
