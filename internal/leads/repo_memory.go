package leads

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local wiring.
// Mutation semantics mirror SQLRepository.
type MemoryRepo struct {
	mu    sync.RWMutex
	Leads map[string]*Lead
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Leads: make(map[string]*Lead)}
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.Leads[id]; ok {
		return *l, nil
	}
	return Lead{}, ErrNotFound
}

func (r *MemoryRepo) GetByMobile(_ context.Context, mobile string) (Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Lead
	for _, l := range r.Leads {
		if l.MobileNumber != mobile {
			continue
		}
		if found == nil || l.CreatedAt.Before(found.CreatedAt) {
			found = l
		}
	}
	if found == nil {
		return Lead{}, ErrNotFound
	}
	return *found, nil
}

func (r *MemoryRepo) Create(_ context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := l
	r.Leads[l.ID] = &cp
	return nil
}

func (r *MemoryRepo) AssignCreatorIfUnset(_ context.Context, leadID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.Leads[leadID]; ok && l.CreatedBy == "" {
		l.CreatedBy = userID
	}
	return nil
}

func (r *MemoryRepo) ApplyCallOutcome(_ context.Context, leadID string, out CallOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.Leads[leadID]
	if !ok {
		return ErrNotFound
	}
	if out.Inbound {
		l.TotalInboundCalls++
	} else {
		l.TotalCallsMade++
	}
	l.LastCallStatus = out.LastStatus
	at := out.At
	l.LastCallDate = &at
	if out.AdvanceTo != "" {
		l.Status = AdvanceStatus(l.Status, out.AdvanceTo)
	}
	if out.CallbackAt != nil && l.CallbackScheduled == nil {
		t := *out.CallbackAt
		l.CallbackScheduled = &t
	}
	return nil
}
