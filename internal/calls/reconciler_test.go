package calls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crm-telephony/internal/cache"
	"crm-telephony/internal/leads"
	"crm-telephony/internal/users"
)

type fakeScheduler struct {
	jobs []string
}

func (f *fakeScheduler) Schedule(callLogID, providerCallID string) {
	f.jobs = append(f.jobs, callLogID)
}

// missFirstRepo simulates the duplicate-race window: the first N
// provider-id lookups miss even though an insert will conflict.
type missFirstRepo struct {
	*MemoryRepo
	misses int
}

func (r *missFirstRepo) GetByProviderCallID(ctx context.Context, id string) (CallRecord, error) {
	if r.misses > 0 {
		r.misses--
		return CallRecord{}, ErrNotFound
	}
	return r.MemoryRepo.GetByProviderCallID(ctx, id)
}

type fixture struct {
	calls      *MemoryRepo
	leads      *leads.MemoryRepo
	users      *users.MemoryRepo
	store      *cache.Store
	sched      *fakeScheduler
	reconciler *Reconciler
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		calls: NewMemoryRepo(),
		leads: leads.NewMemoryRepo(),
		users: users.NewMemoryRepo(),
		sched: &fakeScheduler{},
		now:   time.Unix(1700000000, 0).UTC(),
	}
	f.store = cache.New(cache.Options{SweepInterval: time.Hour})
	t.Cleanup(f.store.Close)

	matcher := NewMatcher(f.leads, f.users)
	matcher.Now = func() time.Time { return f.now }

	f.reconciler = NewReconciler(f.calls, f.leads, matcher, f.store, f.sched, ReconcilerConfig{
		ShortConversationSeconds: 30,
		CallbackDelay:            24 * time.Hour,
	})
	f.reconciler.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) seedAdmin() users.User {
	admin := users.User{ID: "admin-1", Name: "Admin", Email: "admin@example.com", Role: users.RoleAdmin, CreatedAt: f.now}
	f.users.Add(admin)
	return admin
}

func intptr(n int) *int { return &n }

func TestReconcile_InboundUnknownNumberCreatesPlaceholderLead(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-1",
		Direction:         DirectionInbound,
		RawStatus:         "ringing",
		VirtualNumber:     "8888888888",
		CallerID:          "9999999999",
		CounterpartyPhone: "9999999999",
	}
	rec, err := f.reconciler.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.Direction != DirectionInbound {
		t.Fatalf("expected inbound, got %q", rec.Direction)
	}
	if rec.UserID != "admin-1" {
		t.Fatalf("expected admin fallback agent, got %q", rec.UserID)
	}

	lead, err := f.leads.GetByID(context.Background(), rec.LeadID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(lead.Name, "9999999999") {
		t.Fatalf("expected placeholder name to carry the number, got %q", lead.Name)
	}
	if lead.Source != leads.SourceIncomingCall {
		t.Fatalf("expected INCOMING_CALL source, got %q", lead.Source)
	}
	if lead.CreatedBy != "admin-1" {
		t.Fatalf("expected placeholder creator assignment, got %q", lead.CreatedBy)
	}
	if lead.TotalInboundCalls != 1 {
		t.Fatalf("expected 1 inbound call, got %d", lead.TotalInboundCalls)
	}
}

func TestReconcile_Idempotence(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-dup",
		Direction:         DirectionInbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9876543210",
		DurationSeconds:   intptr(42),
	}
	var last CallRecord
	for i := 0; i < 3; i++ {
		rec, err := f.reconciler.Reconcile(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected err on delivery %d: %v", i, err)
		}
		last = rec
	}

	if len(f.calls.Records) != 1 {
		t.Fatalf("expected exactly one call record, got %d", len(f.calls.Records))
	}
	if last.Status != StatusCompleted || last.DurationSeconds != 42 {
		t.Fatalf("unexpected final state: %q %d", last.Status, last.DurationSeconds)
	}
}

func TestReconcile_OrderTolerance(t *testing.T) {
	evA := Event{
		ProviderCallID:    "call-ord",
		Direction:         DirectionInbound,
		RawStatus:         "ringing",
		CounterpartyPhone: "9876543210",
	}
	evB := Event{
		ProviderCallID:    "call-ord",
		Direction:         DirectionInbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9876543210",
		DurationSeconds:   intptr(42),
	}

	for name, order := range map[string][]Event{
		"a_then_b": {evA, evB},
		"b_then_a": {evB, evA},
	} {
		f := newFixture(t)
		f.seedAdmin()
		var rec CallRecord
		var err error
		for _, ev := range order {
			rec, err = f.reconciler.Reconcile(context.Background(), ev)
			if err != nil {
				t.Fatalf("%s: unexpected err: %v", name, err)
			}
		}
		final, err := f.calls.GetByID(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("%s: unexpected err: %v", name, err)
		}
		if final.Status != StatusCompleted {
			t.Fatalf("%s: expected completed, got %q", name, final.Status)
		}
		if final.DurationSeconds != 42 {
			t.Fatalf("%s: expected duration 42, got %d", name, final.DurationSeconds)
		}
	}
}

func TestReconcile_DirectionCorrectionTowardInbound(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	first := Event{
		ProviderCallID:    "call-dir",
		Direction:         DirectionOutbound,
		RawStatus:         "initiated",
		CounterpartyPhone: "9876543210",
	}
	f.leads.Create(context.Background(), leads.Lead{ID: "lead-1", Name: "Known", MobileNumber: "9876543210", Status: leads.StatusNew, CreatedAt: f.now})

	if _, err := f.reconciler.Reconcile(context.Background(), first); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	second := Event{
		ProviderCallID:    "call-dir",
		Direction:         DirectionInbound,
		RawStatus:         "answered",
		CounterpartyPhone: "9876543210",
	}
	rec, err := f.reconciler.Reconcile(context.Background(), second)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.Direction != DirectionInbound {
		t.Fatalf("expected direction corrected to inbound, got %q", rec.Direction)
	}
}

func TestReconcile_SparseEventDoesNotErase(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	rich := Event{
		ProviderCallID:    "call-rich",
		Direction:         DirectionInbound,
		RawStatus:         "answered",
		AgentNumber:       "1001",
		VirtualNumber:     "8888888888",
		CounterpartyPhone: "9876543210",
	}
	if _, err := f.reconciler.Reconcile(context.Background(), rich); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	sparse := Event{
		ProviderCallID:    "call-rich",
		Direction:         DirectionInbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9876543210",
	}
	rec, err := f.reconciler.Reconcile(context.Background(), sparse)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.AgentNumber != "1001" || rec.VirtualNumber != "8888888888" {
		t.Fatalf("sparse event erased richer data: %+v", rec)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected status overwritten, got %q", rec.Status)
	}
}

func TestReconcile_DuplicateInsertRaceFallsBackToMerge(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-race",
		Direction:         DirectionInbound,
		RawStatus:         "ringing",
		CounterpartyPhone: "9876543210",
	}
	if _, err := f.reconciler.Reconcile(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Second delivery races: the lookup misses once, the insert
	// conflicts, and the reconciler must merge into the winner's row.
	raced := &missFirstRepo{MemoryRepo: f.calls, misses: 2}
	f.reconciler.calls = raced

	ev.RawStatus = "completed"
	ev.DurationSeconds = intptr(10)
	rec, err := f.reconciler.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(f.calls.Records) != 1 {
		t.Fatalf("expected single record after race, got %d", len(f.calls.Records))
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected merged status, got %q", rec.Status)
	}
}

func TestReconcile_ClickToCallRoundTrip(t *testing.T) {
	f := newFixture(t)
	agent := users.User{ID: "agent-9", Name: "Agent", Email: "a@example.com", Role: users.RoleAgent, SmartfloAgentNumber: "2001", CreatedAt: f.now}
	f.users.Add(agent)
	f.leads.Create(context.Background(), leads.Lead{ID: "lead-9", Name: "Prospect", MobileNumber: "9000000001", Status: leads.StatusNew, CreatedBy: "agent-9", CreatedAt: f.now})

	token := NewCorrelationToken("lead-9", f.now)
	orig, err := f.reconciler.RecordOrigination(context.Background(), "lead-9", "agent-9", "2001", "9000000001", "8000000000", token)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if orig.Status != StatusInitiated || orig.Direction != DirectionOutbound {
		t.Fatalf("unexpected origination record: %+v", orig)
	}

	ev := Event{
		ProviderCallID:    "prov-77",
		CustomIdentifier:  token,
		Direction:         DirectionOutbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9000000001",
		DurationSeconds:   intptr(95),
	}
	rec, err := f.reconciler.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.ID != orig.ID {
		t.Fatalf("expected webhook to reconcile against the origination record")
	}
	if rec.ProviderCallID != "prov-77" {
		t.Fatalf("expected provider id adopted, got %q", rec.ProviderCallID)
	}
	if rec.Status != StatusCompleted || rec.DurationSeconds != 95 {
		t.Fatalf("unexpected final state: %q %d", rec.Status, rec.DurationSeconds)
	}

	lead, _ := f.leads.GetByID(context.Background(), "lead-9")
	if lead.Status != leads.StatusInterested {
		t.Fatalf("expected engaged-status advance, got %q", lead.Status)
	}
	if lead.CallbackScheduled != nil {
		t.Fatalf("expected no callback for a completed call")
	}
}

func TestReconcile_NoAnswerSchedulesCallback(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-na",
		Direction:         DirectionInbound,
		RawStatus:         "timeout",
		CounterpartyPhone: "9111111111",
	}
	rec, err := f.reconciler.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if rec.Status != StatusNoAnswer {
		t.Fatalf("expected no_answer, got %q", rec.Status)
	}

	lead, _ := f.leads.GetByID(context.Background(), rec.LeadID)
	if lead.CallbackScheduled == nil {
		t.Fatalf("expected callback scheduled")
	}
	want := f.now.Add(24 * time.Hour)
	if !lead.CallbackScheduled.Equal(want) {
		t.Fatalf("expected callback at %v, got %v", want, lead.CallbackScheduled)
	}

	// A second no-answer must not move the existing callback.
	if _, err := f.reconciler.Reconcile(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	lead, _ = f.leads.GetByID(context.Background(), rec.LeadID)
	if !lead.CallbackScheduled.Equal(want) {
		t.Fatalf("expected callback unchanged, got %v", lead.CallbackScheduled)
	}
}

func TestReconcile_CompletedWithoutRecordingSchedulesFetch(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-rec",
		Direction:         DirectionInbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9222222222",
		DurationSeconds:   intptr(60),
	}
	rec, err := f.reconciler.Reconcile(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(f.sched.jobs) != 1 || f.sched.jobs[0] != rec.ID {
		t.Fatalf("expected one recording fetch job for %s, got %v", rec.ID, f.sched.jobs)
	}

	// With a URL already present no fetch is scheduled.
	ev.RecordingURL = "https://recordings.example.com/call-rec.mp3"
	if _, err := f.reconciler.Reconcile(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(f.sched.jobs) != 1 {
		t.Fatalf("expected no additional fetch job, got %v", f.sched.jobs)
	}
}

func TestReconcile_OutboundNoLeadAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	ev := Event{
		ProviderCallID:    "call-orphan",
		Direction:         DirectionOutbound,
		RawStatus:         "completed",
		CounterpartyPhone: "9333333333",
	}
	_, err := f.reconciler.Reconcile(context.Background(), ev)
	if !errors.Is(err, ErrNoMatchingLead) {
		t.Fatalf("expected ErrNoMatchingLead, got %v", err)
	}
	if len(f.calls.Records) != 0 {
		t.Fatalf("expected no record created, got %d", len(f.calls.Records))
	}
}

func TestReconcile_CacheInvalidationScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.seedAdmin()

	_ = f.store.Set("call_history_admin-1_1", "stale", 0)
	_ = f.store.Set("call_history_other_1", "fresh", 0)
	_ = f.store.Set("entries_admin-1_1", "stale", 0)

	ev := Event{
		ProviderCallID:    "call-cache",
		Direction:         DirectionInbound,
		RawStatus:         "ringing",
		CounterpartyPhone: "9444444444",
	}
	if _, err := f.reconciler.Reconcile(context.Background(), ev); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if _, ok := f.store.Get("call_history_admin-1_1"); ok {
		t.Fatalf("expected owner's call history invalidated")
	}
	if _, ok := f.store.Get("entries_admin-1_1"); ok {
		t.Fatalf("expected owner's entries invalidated")
	}
	if _, ok := f.store.Get("call_history_other_1"); !ok {
		t.Fatalf("expected unrelated user's cache untouched")
	}
}
