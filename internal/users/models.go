package users

import "time"

// User is a CRM agent account. SmartfloAgentNumber is the
// telephony-side identity used to map inbound webhook events to the
// agent who answered.
type User struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Email               string    `json:"email" db:"email"`
	Role                string    `json:"role" db:"role"`
	SmartfloAgentNumber string    `json:"smartflo_agent_number,omitempty" db:"smartflo_agent_number"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Role names. Keep these stable; they are part of auth contracts.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
