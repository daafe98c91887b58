package leads

import "time"

// Lead is a CRM contact. MobileNumber is the matching key used by
// webhook reconciliation; placeholder leads are created for inbound
// calls from unknown numbers.
type Lead struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	MobileNumber string `json:"mobile_number" db:"mobile_number"`
	Status       string `json:"status" db:"status"`
	Source       string `json:"source" db:"source"`

	// CreatedBy is the owning agent. Nullable: placeholder leads start
	// without an owner until the matcher resolves one.
	CreatedBy string `json:"created_by,omitempty" db:"created_by"`

	LastCallDate      *time.Time `json:"last_call_date,omitempty" db:"last_call_date"`
	LastCallStatus    string     `json:"last_call_status,omitempty" db:"last_call_status"`
	TotalCallsMade    int        `json:"total_calls_made" db:"total_calls_made"`
	TotalInboundCalls int        `json:"total_inbound_calls" db:"total_inbound_calls"`
	CallbackScheduled *time.Time `json:"callback_scheduled,omitempty" db:"callback_scheduled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Lead statuses, ordered by engagement. Call-outcome heuristics only
// ever move a lead up this ladder, never down.
const (
	StatusNew        = "new"
	StatusMaybe      = "maybe"
	StatusInterested = "interested"
	StatusConverted  = "converted"
)

// SourceIncomingCall marks placeholder leads auto-created for inbound
// calls from unrecognized numbers.
const SourceIncomingCall = "INCOMING_CALL"

var statusRank = map[string]int{
	StatusNew:        0,
	StatusMaybe:      1,
	StatusInterested: 2,
	StatusConverted:  3,
}

// AdvanceStatus returns the higher-ranked of current and target.
// Unknown current statuses are treated as already-advanced and kept.
func AdvanceStatus(current, target string) string {
	cr, cok := statusRank[current]
	tr, tok := statusRank[target]
	if !tok {
		return current
	}
	if !cok {
		return current
	}
	if tr > cr {
		return target
	}
	return current
}
