package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-telephony/pkg/utils"
)

var (
	ErrNotFound = errors.New("calls: not found")
	// ErrDuplicate signals an insert that lost the race on the
	// provider_call_id unique index.
	ErrDuplicate = errors.New("calls: duplicate provider call id")
)

// Repository is the persistence contract for call records.
//
// Insert must surface the provider_call_id unique violation to the
// caller unchanged: the reconciler catches it and falls back to the
// update path when two first-seen events race.
type Repository interface {
	GetByID(ctx context.Context, id string) (CallRecord, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error)
	GetByCustomIdentifier(ctx context.Context, customIdentifier string) (CallRecord, error)
	Insert(ctx context.Context, rec CallRecord) error
	Update(ctx context.Context, rec CallRecord) error
	SetRecordingURL(ctx context.Context, id, url string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]CallRecord, error)
	ListByLead(ctx context.Context, leadID string, limit, offset int) ([]CallRecord, error)
	SummaryForUser(ctx context.Context, userID string) (Summary, error)
}

// Summary aggregates a user's call activity for the cached stats view.
type Summary struct {
	TotalCalls           int `json:"total_calls"`
	InboundCalls         int `json:"inbound_calls"`
	OutboundCalls        int `json:"outbound_calls"`
	CompletedCalls       int `json:"completed_calls"`
	TotalDurationSeconds int `json:"total_duration_seconds"`
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const callColumns = `id, provider_call_id, custom_identifier, direction, status,
agent_number, destination_number, caller_id, virtual_number,
lead_id, user_id, start_time, end_time, duration_seconds,
recording_url, disposition, queue_id, queue_wait_seconds,
transfer_data, ivr_data, webhook_data, created_at, updated_at`

func (r *SQLRepository) GetByID(ctx context.Context, id string) (CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE id = $1
`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLRepository) GetByProviderCallID(ctx context.Context, providerCallID string) (CallRecord, error) {
	if providerCallID == "" {
		return CallRecord{}, ErrNotFound
	}
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE provider_call_id = $1
LIMIT 1
`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

func (r *SQLRepository) GetByCustomIdentifier(ctx context.Context, customIdentifier string) (CallRecord, error) {
	if customIdentifier == "" {
		return CallRecord{}, ErrNotFound
	}
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE custom_identifier = $1
ORDER BY created_at DESC
LIMIT 1
`
	return scanCall(r.db.QueryRowContext(ctx, q, customIdentifier))
}

func (r *SQLRepository) Insert(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_logs (
    id, provider_call_id, custom_identifier, direction, status,
    agent_number, destination_number, caller_id, virtual_number,
    lead_id, user_id, start_time, end_time, duration_seconds,
    recording_url, disposition, queue_id, queue_wait_seconds,
    transfer_data, ivr_data, webhook_data, created_at, updated_at
) VALUES (
    $1, NULLIF($2, ''), $3, $4, $5,
    $6, $7, $8, $9,
    $10, NULLIF($11, ''), $12, $13, $14,
    $15, $16, $17, $18,
    $19, $20, $21, $22, $22
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.ProviderCallID, rec.CustomIdentifier, rec.Direction, rec.Status,
		rec.AgentNumber, rec.DestinationNumber, rec.CallerID, rec.VirtualNumber,
		rec.LeadID, rec.UserID, nullTime(rec.StartTime), nullTime(rec.EndTime), rec.DurationSeconds,
		rec.RecordingURL, rec.Disposition, rec.QueueID, rec.QueueWaitSeconds,
		nullJSON(rec.TransferData), nullJSON(rec.IVRData), nullJSON(rec.WebhookData), rec.CreatedAt,
	)
	if err != nil && utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (r *SQLRepository) Update(ctx context.Context, rec CallRecord) error {
	const q = `
UPDATE call_logs
SET provider_call_id = NULLIF($2, ''),
    custom_identifier = $3,
    direction = $4,
    status = $5,
    agent_number = $6,
    destination_number = $7,
    caller_id = $8,
    virtual_number = $9,
    lead_id = $10,
    user_id = NULLIF($11, ''),
    start_time = $12,
    end_time = $13,
    duration_seconds = $14,
    recording_url = $15,
    disposition = $16,
    queue_id = $17,
    queue_wait_seconds = $18,
    transfer_data = $19,
    ivr_data = $20,
    webhook_data = $21,
    updated_at = now()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.ProviderCallID, rec.CustomIdentifier, rec.Direction, rec.Status,
		rec.AgentNumber, rec.DestinationNumber, rec.CallerID, rec.VirtualNumber,
		rec.LeadID, rec.UserID, nullTime(rec.StartTime), nullTime(rec.EndTime), rec.DurationSeconds,
		rec.RecordingURL, rec.Disposition, rec.QueueID, rec.QueueWaitSeconds,
		nullJSON(rec.TransferData), nullJSON(rec.IVRData), nullJSON(rec.WebhookData),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) SetRecordingURL(ctx context.Context, id, url string) error {
	const q = `
UPDATE call_logs
SET recording_url = $2, updated_at = now()
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, url)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	return r.list(ctx, q, userID, limit, offset)
}

func (r *SQLRepository) ListByLead(ctx context.Context, leadID string, limit, offset int) ([]CallRecord, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE lead_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	return r.list(ctx, q, leadID, limit, offset)
}

func (r *SQLRepository) SummaryForUser(ctx context.Context, userID string) (Summary, error) {
	const q = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE direction = 'inbound'),
       COUNT(*) FILTER (WHERE direction = 'outbound'),
       COUNT(*) FILTER (WHERE status = 'completed'),
       COALESCE(SUM(duration_seconds), 0)
FROM call_logs
WHERE user_id = $1
`
	var s Summary
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&s.TotalCalls,
		&s.InboundCalls,
		&s.OutboundCalls,
		&s.CompletedCalls,
		&s.TotalDurationSeconds,
	); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func (r *SQLRepository) list(ctx context.Context, q string, key string, limit, offset int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, q, key, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCallRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row *sql.Row) (CallRecord, error) {
	rec, err := scanCallFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func scanCallRows(rows *sql.Rows) (CallRecord, error) {
	return scanCallFrom(rows)
}

func scanCallFrom(s rowScanner) (CallRecord, error) {
	var rec CallRecord
	var providerCallID, userID sql.NullString
	var startTime, endTime sql.NullTime
	var transferData, ivrData, webhookData []byte
	if err := s.Scan(
		&rec.ID,
		&providerCallID,
		&rec.CustomIdentifier,
		&rec.Direction,
		&rec.Status,
		&rec.AgentNumber,
		&rec.DestinationNumber,
		&rec.CallerID,
		&rec.VirtualNumber,
		&rec.LeadID,
		&userID,
		&startTime,
		&endTime,
		&rec.DurationSeconds,
		&rec.RecordingURL,
		&rec.Disposition,
		&rec.QueueID,
		&rec.QueueWaitSeconds,
		&transferData,
		&ivrData,
		&webhookData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	rec.ProviderCallID = providerCallID.String
	rec.UserID = userID.String
	if startTime.Valid {
		t := startTime.Time
		rec.StartTime = &t
	}
	if endTime.Valid {
		t := endTime.Time
		rec.EndTime = &t
	}
	rec.TransferData = transferData
	rec.IVRData = ivrData
	rec.WebhookData = webhookData
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
