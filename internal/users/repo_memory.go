package users

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local wiring.
type MemoryRepo struct {
	mu    sync.RWMutex
	Users []User
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Add(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Users = append(r.Users, u)
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepo) GetByAgentNumber(_ context.Context, agentNumber string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.Users {
		if u.SmartfloAgentNumber != "" && u.SmartfloAgentNumber == agentNumber {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepo) FirstAdmin(_ context.Context) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admins := make([]User, 0, 1)
	for _, u := range r.Users {
		if IsAdmin(u.Role) {
			admins = append(admins, u)
		}
	}
	if len(admins) == 0 {
		return User{}, ErrNotFound
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].CreatedAt.Before(admins[j].CreatedAt) })
	return admins[0], nil
}
