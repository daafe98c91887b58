package calls

import (
	"fmt"
	"strings"
	"time"
)

// Correlation tokens link click-to-call originations to the webhooks
// the provider emits later. Format: CRM_<entityID>_<unixMillis>.
const tokenPrefix = "CRM"

// NewCorrelationToken builds the token attached at call origination.
func NewCorrelationToken(entityID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", tokenPrefix, entityID, at.UnixMilli())
}

// ParseCorrelationToken extracts the entity id from a token. Entity
// ids may themselves contain underscores; only the leading prefix and
// trailing timestamp are stripped.
func ParseCorrelationToken(token string) (entityID string, ok bool) {
	parts := strings.Split(token, "_")
	if len(parts) < 3 || parts[0] != tokenPrefix {
		return "", false
	}
	id := strings.Join(parts[1:len(parts)-1], "_")
	if id == "" {
		return "", false
	}
	return id, true
}
