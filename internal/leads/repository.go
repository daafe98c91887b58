package leads

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("leads: not found")

// CallOutcome describes how a reconciled call event mutates its lead.
// Fields are computed by the reconciler; the repository applies them
// in a single UPDATE so duplicate deliveries stay cheap to absorb.
type CallOutcome struct {
	Inbound    bool
	LastStatus string
	At         time.Time

	// AdvanceTo, when non-empty, moves the lead up the status ladder.
	// The update never downgrades an already-advanced lead.
	AdvanceTo string

	// CallbackAt, when non-nil, schedules a callback only if none is
	// already pending.
	CallbackAt *time.Time
}

// Repository is the persistence contract for leads.
type Repository interface {
	GetByID(ctx context.Context, id string) (Lead, error)
	GetByMobile(ctx context.Context, mobile string) (Lead, error)
	Create(ctx context.Context, l Lead) error
	// AssignCreatorIfUnset sets the owning agent only when the lead has
	// none; repeated calls are no-ops.
	AssignCreatorIfUnset(ctx context.Context, leadID, userID string) error
	ApplyCallOutcome(ctx context.Context, leadID string, out CallOutcome) error
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const leadColumns = `id, name, mobile_number, status, source, created_by, last_call_date, last_call_status,
total_calls_made, total_inbound_calls, callback_scheduled, created_at, updated_at`

func (r *SQLRepository) GetByID(ctx context.Context, id string) (Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE id = $1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLRepository) GetByMobile(ctx context.Context, mobile string) (Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE mobile_number = $1
ORDER BY created_at
LIMIT 1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, mobile))
}

func (r *SQLRepository) Create(ctx context.Context, l Lead) error {
	const q = `
INSERT INTO leads (id, name, mobile_number, status, source, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $7)
`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.Name, l.MobileNumber, l.Status, l.Source, l.CreatedBy, l.CreatedAt)
	return err
}

func (r *SQLRepository) AssignCreatorIfUnset(ctx context.Context, leadID, userID string) error {
	const q = `
UPDATE leads
SET created_by = $2, updated_at = now()
WHERE id = $1 AND created_by IS NULL
`
	_, err := r.db.ExecContext(ctx, q, leadID, userID)
	return err
}

func (r *SQLRepository) ApplyCallOutcome(ctx context.Context, leadID string, out CallOutcome) error {
	// Status only moves up the ladder: the advance applies solely from
	// the neutral states, so duplicate or out-of-order events cannot
	// downgrade an engaged lead.
	const q = `
UPDATE leads
SET total_calls_made = total_calls_made + CASE WHEN $2 THEN 0 ELSE 1 END,
    total_inbound_calls = total_inbound_calls + CASE WHEN $2 THEN 1 ELSE 0 END,
    last_call_status = $3,
    last_call_date = $4,
    status = CASE WHEN $5 <> '' AND status IN ('new', 'maybe') AND status <> $5 THEN $5 ELSE status END,
    callback_scheduled = CASE WHEN $6::timestamptz IS NOT NULL THEN COALESCE(callback_scheduled, $6) ELSE callback_scheduled END,
    updated_at = now()
WHERE id = $1
`
	var callback sql.NullTime
	if out.CallbackAt != nil {
		callback = sql.NullTime{Time: *out.CallbackAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q, leadID, out.Inbound, out.LastStatus, out.At, out.AdvanceTo, callback)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) scanOne(row *sql.Row) (Lead, error) {
	var l Lead
	var createdBy sql.NullString
	var lastCallDate, callback sql.NullTime
	if err := row.Scan(
		&l.ID,
		&l.Name,
		&l.MobileNumber,
		&l.Status,
		&l.Source,
		&createdBy,
		&lastCallDate,
		&l.LastCallStatus,
		&l.TotalCallsMade,
		&l.TotalInboundCalls,
		&callback,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	l.CreatedBy = createdBy.String
	if lastCallDate.Valid {
		t := lastCallDate.Time
		l.LastCallDate = &t
	}
	if callback.Valid {
		t := callback.Time
		l.CallbackScheduled = &t
	}
	return l, nil
}
