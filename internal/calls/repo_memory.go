package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local wiring.
// It enforces the provider_call_id uniqueness invariant the same way
// the SQL schema does.
type MemoryRepo struct {
	mu      sync.RWMutex
	Records map[string]*CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Records: make(map[string]*CallRecord)}
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.Records[id]; ok {
		return *rec, nil
	}
	return CallRecord{}, ErrNotFound
}

func (r *MemoryRepo) GetByProviderCallID(_ context.Context, providerCallID string) (CallRecord, error) {
	if providerCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.Records {
		if rec.ProviderCallID == providerCallID {
			return *rec, nil
		}
	}
	return CallRecord{}, ErrNotFound
}

func (r *MemoryRepo) GetByCustomIdentifier(_ context.Context, customIdentifier string) (CallRecord, error) {
	if customIdentifier == "" {
		return CallRecord{}, ErrNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *CallRecord
	for _, rec := range r.Records {
		if rec.CustomIdentifier != customIdentifier {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = rec
		}
	}
	if found == nil {
		return CallRecord{}, ErrNotFound
	}
	return *found, nil
}

func (r *MemoryRepo) Insert(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ProviderCallID != "" {
		for _, existing := range r.Records {
			if existing.ProviderCallID == rec.ProviderCallID {
				return ErrDuplicate
			}
		}
	}
	cp := rec
	r.Records[rec.ID] = &cp
	return nil
}

func (r *MemoryRepo) Update(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Records[rec.ID]; !ok {
		return ErrNotFound
	}
	cp := rec
	cp.CreatedAt = r.Records[rec.ID].CreatedAt
	r.Records[rec.ID] = &cp
	return nil
}

func (r *MemoryRepo) SetRecordingURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.Records[id]
	if !ok {
		return ErrNotFound
	}
	rec.RecordingURL = url
	return nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]CallRecord, error) {
	return r.listWhere(func(rec *CallRecord) bool { return rec.UserID == userID }, limit, offset), nil
}

func (r *MemoryRepo) ListByLead(_ context.Context, leadID string, limit, offset int) ([]CallRecord, error) {
	return r.listWhere(func(rec *CallRecord) bool { return rec.LeadID == leadID }, limit, offset), nil
}

func (r *MemoryRepo) SummaryForUser(_ context.Context, userID string) (Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, rec := range r.Records {
		if rec.UserID != userID {
			continue
		}
		s.TotalCalls++
		switch rec.Direction {
		case DirectionInbound:
			s.InboundCalls++
		case DirectionOutbound:
			s.OutboundCalls++
		}
		if rec.Status == StatusCompleted {
			s.CompletedCalls++
		}
		s.TotalDurationSeconds += rec.DurationSeconds
	}
	return s, nil
}

func (r *MemoryRepo) listWhere(match func(*CallRecord) bool, limit, offset int) []CallRecord {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CallRecord
	for _, rec := range r.Records {
		if match(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
