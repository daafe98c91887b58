package calls

import (
	"context"
	"testing"
	"time"

	"crm-telephony/internal/leads"
	"crm-telephony/internal/users"
)

func TestParseCorrelationToken(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()

	tok := NewCorrelationToken("lead-42", at)
	id, ok := ParseCorrelationToken(tok)
	if !ok || id != "lead-42" {
		t.Fatalf("round trip failed: %q %v", id, ok)
	}

	// Entity ids containing underscores survive.
	tok = NewCorrelationToken("lead_a_b", at)
	id, ok = ParseCorrelationToken(tok)
	if !ok || id != "lead_a_b" {
		t.Fatalf("underscore id failed: %q %v", id, ok)
	}

	for _, bad := range []string{"", "CRM_", "CRM_1700", "XYZ_lead_1700", "lead-42"} {
		if _, ok := ParseCorrelationToken(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestMatcher_AgentChain(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	leadRepo := leads.NewMemoryRepo()
	userRepo := users.NewMemoryRepo()
	m := NewMatcher(leadRepo, userRepo)
	m.Now = func() time.Time { return now }

	admin := users.User{ID: "u-admin", Role: users.RoleAdmin, CreatedAt: now}
	creator := users.User{ID: "u-creator", Role: users.RoleAgent, CreatedAt: now}
	byNumber := users.User{ID: "u-number", Role: users.RoleAgent, SmartfloAgentNumber: "1001", CreatedAt: now}
	userRepo.Add(admin)
	userRepo.Add(creator)
	userRepo.Add(byNumber)

	lead := leads.Lead{ID: "l1", CreatedBy: "u-creator"}

	// (a) agent number wins over everything.
	u, err := m.ResolveAgent(context.Background(), Event{AgentNumber: "1001"}, lead)
	if err != nil || u.ID != "u-number" {
		t.Fatalf("expected agent-number match, got %v %v", u.ID, err)
	}

	// (b) token id when agent number is absent or unknown.
	tok := NewCorrelationToken("u-creator", now)
	u, err = m.ResolveAgent(context.Background(), Event{AgentNumber: "9999", CustomIdentifier: tok}, lead)
	if err != nil || u.ID != "u-creator" {
		t.Fatalf("expected token match, got %v %v", u.ID, err)
	}

	// (c) lead creator.
	u, err = m.ResolveAgent(context.Background(), Event{}, lead)
	if err != nil || u.ID != "u-creator" {
		t.Fatalf("expected creator match, got %v %v", u.ID, err)
	}

	// (d) any admin.
	u, err = m.ResolveAgent(context.Background(), Event{}, leads.Lead{ID: "l2"})
	if err != nil || u.ID != "u-admin" {
		t.Fatalf("expected admin fallback, got %v %v", u.ID, err)
	}
}

func TestMatcher_NoAgentAnywhere(t *testing.T) {
	m := NewMatcher(leads.NewMemoryRepo(), users.NewMemoryRepo())
	_, err := m.ResolveAgent(context.Background(), Event{}, leads.Lead{})
	if err != ErrNoAgent {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestMatcher_OutboundMissDoesNotCreate(t *testing.T) {
	leadRepo := leads.NewMemoryRepo()
	m := NewMatcher(leadRepo, users.NewMemoryRepo())

	_, created, err := m.MatchOrCreateLead(context.Background(), "9000000000", false)
	if err == nil || created {
		t.Fatalf("expected outbound miss to propagate not-found")
	}
	if len(leadRepo.Leads) != 0 {
		t.Fatalf("expected no placeholder for outbound calls")
	}
}

func TestMatcher_InboundUnknownSentinelStillCreates(t *testing.T) {
	leadRepo := leads.NewMemoryRepo()
	m := NewMatcher(leadRepo, users.NewMemoryRepo())

	lead, created, err := m.MatchOrCreateLead(context.Background(), UnknownPhone, true)
	if err != nil || !created {
		t.Fatalf("expected sentinel lead creation, got %v %v", created, err)
	}
	if lead.MobileNumber != UnknownPhone {
		t.Fatalf("expected sentinel number kept, got %q", lead.MobileNumber)
	}
}
