package calls

import (
	"context"
	"errors"
	"time"

	"crm-telephony/internal/cache"
	"crm-telephony/internal/leads"
	"crm-telephony/pkg/logger"

	"github.com/google/uuid"
)

// ErrNoMatchingLead means no lead could be resolved for an outbound
// event; the webhook endpoint acknowledges without creating state.
var ErrNoMatchingLead = errors.New("calls: no matching lead")

// RecordingScheduler accepts deferred recording-URL fetch jobs for
// completed calls. Implementations must not block.
type RecordingScheduler interface {
	Schedule(callLogID, providerCallID string)
}

// ReconcilerConfig carries the tunables of the lead-outcome heuristics.
type ReconcilerConfig struct {
	// ShortConversationSeconds is the duration above which a completed
	// call counts as a real conversation.
	ShortConversationSeconds int
	// CallbackDelay is how far out a callback is scheduled after a
	// no_answer/failed outcome.
	CallbackDelay time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	out := c
	if out.ShortConversationSeconds <= 0 {
		out.ShortConversationSeconds = 30
	}
	if out.CallbackDelay <= 0 {
		out.CallbackDelay = 24 * time.Hour
	}
	return out
}

// Reconciler merges unordered, possibly-duplicated provider events
// into call records and keeps lead statistics and the cache in step.
//
// Every field merge is independently idempotent; nothing is rolled
// back on failure because the next duplicate delivery converges to the
// same state.
type Reconciler struct {
	calls      Repository
	leads      leads.Repository
	matcher    *Matcher
	cache      *cache.Store
	recordings RecordingScheduler

	cfg ReconcilerConfig
	now func() time.Time
}

func NewReconciler(callRepo Repository, leadRepo leads.Repository, matcher *Matcher, store *cache.Store, recordings RecordingScheduler, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		calls:      callRepo,
		leads:      leadRepo,
		matcher:    matcher,
		cache:      store,
		recordings: recordings,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// Reconcile applies one provider event: find-or-create the call
// record, merge fields, update the linked lead, schedule the recording
// fetch, and invalidate the owner's cache partitions.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (CallRecord, error) {
	log := logger.From(ctx)

	status, known := NormalizeStatus(ev.RawStatus)
	if ev.RawStatus != "" && !known {
		log.Warn("unknown call status", "raw_status", ev.RawStatus, "provider_call_id", ev.ProviderCallID)
	}

	rec, err := r.lookup(ctx, ev)
	switch {
	case err == nil:
		rec = mergeEvent(rec, ev, status)
		if err := r.calls.Update(ctx, rec); err != nil {
			return CallRecord{}, err
		}
	case errors.Is(err, ErrNotFound):
		rec, err = r.createFromEvent(ctx, ev, status)
		if errors.Is(err, ErrDuplicate) {
			// Lost the first-seen race; the winner's row exists now.
			existing, lookupErr := r.lookup(ctx, ev)
			if lookupErr != nil {
				return CallRecord{}, lookupErr
			}
			rec = mergeEvent(existing, ev, status)
			err = r.calls.Update(ctx, rec)
		}
		if err != nil {
			return CallRecord{}, err
		}
	default:
		return CallRecord{}, err
	}

	r.applyLeadOutcome(ctx, rec)

	if rec.Status == StatusCompleted && rec.RecordingURL == "" && r.recordings != nil {
		r.recordings.Schedule(rec.ID, rec.ProviderCallID)
	}

	r.invalidateOwner(rec.UserID)
	return rec, nil
}

// RecordOrigination creates the initiated outbound record for a
// click-to-call request so later webhooks carrying the correlation
// token reconcile against it.
func (r *Reconciler) RecordOrigination(ctx context.Context, leadID, userID, agentNumber, destination, callerID, token string) (CallRecord, error) {
	now := r.now().UTC()
	rec := CallRecord{
		ID:                uuid.NewString(),
		CustomIdentifier:  token,
		Direction:         DirectionOutbound,
		Status:            StatusInitiated,
		AgentNumber:       agentNumber,
		DestinationNumber: destination,
		CallerID:          callerID,
		LeadID:            leadID,
		UserID:            userID,
		StartTime:         &now,
		CreatedAt:         now,
	}
	if err := r.calls.Insert(ctx, rec); err != nil {
		return CallRecord{}, err
	}
	r.invalidateOwner(userID)
	return rec, nil
}

func (r *Reconciler) lookup(ctx context.Context, ev Event) (CallRecord, error) {
	rec, err := r.calls.GetByProviderCallID(ctx, ev.ProviderCallID)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	return r.calls.GetByCustomIdentifier(ctx, ev.CustomIdentifier)
}

func (r *Reconciler) createFromEvent(ctx context.Context, ev Event, status CallStatus) (CallRecord, error) {
	log := logger.From(ctx)
	inbound := ev.Direction == DirectionInbound

	lead, created, err := r.resolveLead(ctx, ev, inbound)
	if err != nil {
		return CallRecord{}, err
	}

	userID := ""
	agent, err := r.matcher.ResolveAgent(ctx, ev, lead)
	switch {
	case err == nil:
		userID = agent.ID
	case errors.Is(err, ErrNoAgent):
		// Record with a null agent rather than rejecting the event.
		log.Warn("no agent resolvable for call event", "provider_call_id", ev.ProviderCallID, "lead_id", lead.ID)
	default:
		return CallRecord{}, err
	}

	if created && lead.CreatedBy == "" && userID != "" {
		if err := r.leads.AssignCreatorIfUnset(ctx, lead.ID, userID); err != nil {
			return CallRecord{}, err
		}
	}

	now := r.now().UTC()
	rec := CallRecord{
		ID:                uuid.NewString(),
		ProviderCallID:    ev.ProviderCallID,
		CustomIdentifier:  ev.CustomIdentifier,
		Direction:         ev.Direction,
		Status:            status,
		AgentNumber:       ev.AgentNumber,
		DestinationNumber: ev.DestinationNumber,
		CallerID:          ev.CallerID,
		VirtualNumber:     ev.VirtualNumber,
		LeadID:            lead.ID,
		UserID:            userID,
		StartTime:         ev.StartTime,
		EndTime:           ev.EndTime,
		QueueID:           ev.QueueID,
		RecordingURL:      ev.RecordingURL,
		Disposition:       ev.Disposition,
		TransferData:      ev.TransferData,
		IVRData:           ev.IVRData,
		WebhookData:       ev.Raw,
		CreatedAt:         now,
	}
	if ev.DurationSeconds != nil {
		rec.DurationSeconds = *ev.DurationSeconds
	}
	if ev.QueueWaitSeconds != nil {
		rec.QueueWaitSeconds = *ev.QueueWaitSeconds
	}
	if rec.StartTime == nil {
		rec.StartTime = &now
	}

	if err := r.calls.Insert(ctx, rec); err != nil {
		return CallRecord{}, err
	}
	return rec, nil
}

func (r *Reconciler) resolveLead(ctx context.Context, ev Event, inbound bool) (leads.Lead, bool, error) {
	// Outbound events carry a correlation token naming the lead the
	// call was originated for; prefer it over phone matching.
	if !inbound {
		if id, ok := ParseCorrelationToken(ev.CustomIdentifier); ok {
			l, err := r.leads.GetByID(ctx, id)
			if err == nil {
				return l, false, nil
			}
			if !errors.Is(err, leads.ErrNotFound) {
				return leads.Lead{}, false, err
			}
		}
	}

	lead, created, err := r.matcher.MatchOrCreateLead(ctx, ev.CounterpartyPhone, inbound)
	if err != nil {
		if errors.Is(err, leads.ErrNotFound) {
			return leads.Lead{}, false, ErrNoMatchingLead
		}
		return leads.Lead{}, false, err
	}
	return lead, created, nil
}

func (r *Reconciler) applyLeadOutcome(ctx context.Context, rec CallRecord) {
	log := logger.From(ctx)
	now := r.now().UTC()

	out := leads.CallOutcome{
		Inbound:    rec.Direction == DirectionInbound,
		LastStatus: string(rec.Status),
		At:         now,
	}
	switch rec.Status {
	case StatusCompleted:
		if rec.DurationSeconds > r.cfg.ShortConversationSeconds {
			out.AdvanceTo = leads.StatusInterested
		}
	case StatusNoAnswer, StatusFailed:
		cb := now.Add(r.cfg.CallbackDelay)
		out.CallbackAt = &cb
	}

	// Lead statistics are best-effort; a failure here must not fail
	// the already-persisted call record.
	if err := r.leads.ApplyCallOutcome(ctx, rec.LeadID, out); err != nil {
		log.Error("lead outcome update failed", "lead_id", rec.LeadID, "err", err)
	}
}

func (r *Reconciler) invalidateOwner(userID string) {
	if r.cache == nil || userID == "" {
		return
	}
	r.cache.SmartInvalidate(cache.DomainCalls, userID)
	r.cache.SmartInvalidate(cache.DomainEntries, userID)
	r.cache.SmartInvalidate(cache.DomainUsers, userID)
}

// mergeEvent folds ev into rec. Most scalar fields follow
// last-non-empty-wins so a later sparse event cannot erase richer
// data; status, end time, duration, recording URL and disposition are
// authoritative in the latest event that carries them.
func mergeEvent(rec CallRecord, ev Event, status CallStatus) CallRecord {
	if rec.ProviderCallID == "" {
		rec.ProviderCallID = ev.ProviderCallID
	}
	if rec.CustomIdentifier == "" {
		rec.CustomIdentifier = ev.CustomIdentifier
	}
	if ev.AgentNumber != "" {
		rec.AgentNumber = ev.AgentNumber
	}
	if ev.DestinationNumber != "" {
		rec.DestinationNumber = ev.DestinationNumber
	}
	if ev.CallerID != "" {
		rec.CallerID = ev.CallerID
	}
	if ev.VirtualNumber != "" {
		rec.VirtualNumber = ev.VirtualNumber
	}
	if ev.QueueID != "" {
		rec.QueueID = ev.QueueID
	}
	if rec.StartTime == nil && ev.StartTime != nil {
		rec.StartTime = ev.StartTime
	}
	if ev.QueueWaitSeconds != nil {
		rec.QueueWaitSeconds = *ev.QueueWaitSeconds
	}
	if len(ev.TransferData) > 0 {
		rec.TransferData = ev.TransferData
	}
	if len(ev.IVRData) > 0 {
		rec.IVRData = ev.IVRData
	}
	if len(ev.Raw) > 0 {
		rec.WebhookData = ev.Raw
	}

	// Inbound misclassification at creation is more likely than a
	// genuine mid-call direction flip; correct toward inbound only.
	if ev.Direction == DirectionInbound && rec.Direction != DirectionInbound {
		rec.Direction = DirectionInbound
	}

	// Latest-carried-value wins for the authoritative fields. A stale
	// non-terminal status never displaces a terminal one, which keeps
	// out-of-order ringing/completed pairs convergent.
	if ev.RawStatus != "" {
		if !rec.Status.IsTerminal() || status.IsTerminal() {
			rec.Status = status
		}
	}
	if ev.EndTime != nil {
		rec.EndTime = ev.EndTime
	}
	if ev.DurationSeconds != nil {
		rec.DurationSeconds = *ev.DurationSeconds
	}
	if ev.RecordingURL != "" {
		rec.RecordingURL = ev.RecordingURL
	}
	if ev.Disposition != "" {
		rec.Disposition = ev.Disposition
	}
	return rec
}
