package calls

import (
	"encoding/json"
	"time"
)

// CallRecord is one logical telephone call, created by the first event
// that references it (webhook or click-to-call) and mutated by every
// later event for the same call. Records are never deleted.
//
// Identity invariant: at most one record per distinct ProviderCallID;
// CustomIdentifier is a fallback lookup key only until the provider id
// is known.
type CallRecord struct {
	ID string `json:"id" db:"id"`

	ProviderCallID   string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	CustomIdentifier string `json:"custom_identifier,omitempty" db:"custom_identifier"`

	Direction Direction  `json:"direction" db:"direction"`
	Status    CallStatus `json:"status" db:"status"`

	AgentNumber       string `json:"agent_number,omitempty" db:"agent_number"`
	DestinationNumber string `json:"destination_number,omitempty" db:"destination_number"`
	CallerID          string `json:"caller_id,omitempty" db:"caller_id"`
	VirtualNumber     string `json:"virtual_number,omitempty" db:"virtual_number"`

	LeadID string `json:"lead_id" db:"lead_id"`
	// UserID is the owning agent; empty only transiently when no agent
	// signal could be resolved for an inbound call.
	UserID string `json:"user_id,omitempty" db:"user_id"`

	StartTime       *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds int        `json:"duration" db:"duration_seconds"`

	RecordingURL     string `json:"recording_url,omitempty" db:"recording_url"`
	Disposition      string `json:"disposition,omitempty" db:"disposition"`
	QueueID          string `json:"queue_id,omitempty" db:"queue_id"`
	QueueWaitSeconds int    `json:"queue_wait_seconds,omitempty" db:"queue_wait_seconds"`

	TransferData json.RawMessage `json:"transfer_data,omitempty" db:"transfer_data"`
	IVRData      json.RawMessage `json:"ivr_data,omitempty" db:"ivr_data"`
	// WebhookData is the raw snapshot of the latest event (last-write-wins).
	WebhookData json.RawMessage `json:"webhook_data,omitempty" db:"webhook_data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusCompleted CallStatus = "completed"
	StatusFailed    CallStatus = "failed"
	StatusNoAnswer  CallStatus = "no_answer"
	StatusBusy      CallStatus = "busy"
	StatusCancelled CallStatus = "cancelled"
)

// IsTerminal reports whether no further lifecycle events are expected.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCancelled:
		return true
	default:
		return false
	}
}

// Event is a provider webhook delivery after direction/identity
// resolution, ready for reconciliation. Pointer fields distinguish
// "absent from payload" from zero values so sparse events cannot erase
// richer earlier data.
type Event struct {
	ProviderCallID   string
	CustomIdentifier string
	EventType        string

	Direction         Direction
	RawStatus         string
	AgentNumber       string
	DestinationNumber string
	CallerID          string
	VirtualNumber     string
	// CounterpartyPhone is the caller for inbound, the destination for
	// outbound; "Unknown" sentinel when nothing was resolvable.
	CounterpartyPhone string

	StartTime        *time.Time
	EndTime          *time.Time
	DurationSeconds  *int
	RecordingURL     string
	Disposition      string
	QueueID          string
	QueueWaitSeconds *int

	TransferData json.RawMessage
	IVRData      json.RawMessage
	Raw          json.RawMessage
}

// UnknownPhone is the sentinel counterparty for inbound events with no
// resolvable number. Events are never dropped for missing identity.
const UnknownPhone = "Unknown"
