package cache

// Key prefixes used across the read endpoints. Invalidation patterns
// below must stay in sync with how readers build their keys.
const (
	KeyPrefixCallHistory = "call_history_" // call_history_<userID>_<page>
	KeyPrefixCallStats   = "call_stats_"   // call_stats_<userID>
	KeyPrefixCallDetail  = "call_detail_"  // call_detail_<callLogID>
	KeyPrefixEntries     = "entries_"      // entries_<userID>_<page>
	KeyPrefixUser        = "user_"         // user_<userID>
)

// Domain names a logical class of cached views.
type Domain string

const (
	DomainCalls   Domain = "calls"
	DomainEntries Domain = "entries"
	DomainUsers   Domain = "users"
	DomainAll     Domain = "all"
)

// SmartInvalidate drops the cache partitions affected by a mutation in
// the given domain, scoped to one owner when ownerID is non-empty.
// Returns the number of keys removed.
func (s *Store) SmartInvalidate(domain Domain, ownerID string) int {
	if domain == DomainAll {
		n := s.Len()
		s.FlushAll()
		return n
	}

	var patterns []string
	switch domain {
	case DomainCalls:
		if ownerID != "" {
			patterns = []string{
				KeyPrefixCallHistory + ownerID + "_*",
				KeyPrefixCallStats + ownerID,
			}
		} else {
			patterns = []string{
				KeyPrefixCallHistory + "*",
				KeyPrefixCallStats + "*",
			}
		}
		// Call detail entries are keyed by call log id, not owner;
		// they are refreshed by TTL rather than targeted here.
	case DomainEntries:
		if ownerID != "" {
			patterns = []string{KeyPrefixEntries + ownerID + "_*"}
		} else {
			patterns = []string{KeyPrefixEntries + "*"}
		}
	case DomainUsers:
		if ownerID != "" {
			patterns = []string{KeyPrefixUser + ownerID}
		} else {
			patterns = []string{KeyPrefixUser + "*"}
		}
	default:
		return 0
	}

	n := 0
	for _, p := range patterns {
		n += s.InvalidatePattern(p)
	}
	return n
}
