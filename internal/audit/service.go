package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for webhook deliveries.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, d Delivery) error
}

// Service records webhook deliveries for operator debugging. Callers
// should treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidDelivery = errors.New("audit: invalid delivery")

func (s *Service) Append(ctx context.Context, d Delivery) error {
	if s == nil || s.repo == nil {
		return nil
	}
	now := s.clock().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	return s.repo.Append(ctx, d)
}

// SQLRepository persists deliveries in the webhook_events table.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Append(ctx context.Context, d Delivery) error {
	const q = `
INSERT INTO webhook_events (id, event_type, provider_call_id, direction, status, signature_ok, error, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	var payload any
	if len(d.Payload) > 0 {
		payload = []byte(d.Payload)
	}
	_, err := r.db.ExecContext(ctx, q, d.ID, d.EventType, d.ProviderCallID, d.Direction, d.Status, d.SignatureOK, d.Error, payload, d.CreatedAt)
	return err
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu         sync.Mutex
	Deliveries []Delivery
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{}
}

func (r *MemoryRepo) Append(_ context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Deliveries = append(r.Deliveries, d)
	return nil
}
