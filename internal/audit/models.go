package audit

import (
	"encoding/json"
	"time"
)

// Delivery is an immutable, append-only record of one provider
// webhook delivery and how it was handled.
//
// Invariants:
// - Deliveries are never updated or deleted.
// - Capture is best-effort; do not block the webhook response on
//   audit failures.
type Delivery struct {
	ID string `json:"id" db:"id"`

	EventType      string `json:"event_type,omitempty" db:"event_type"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	Direction      string `json:"direction,omitempty" db:"direction"`
	Status         string `json:"status,omitempty" db:"status"`

	SignatureOK bool `json:"signature_ok" db:"signature_ok"`

	// Error is the reconciliation failure surfaced to operators; the
	// provider itself was still answered with HTTP 200.
	Error string `json:"error,omitempty" db:"error"`

	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
