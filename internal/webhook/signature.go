package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// VerifySignature checks an HMAC-SHA256 webhook signature against the
// raw request body.
//
// Providers are not consistent about how they serialize the payload
// before signing, so the body is canonicalized several ways and the
// signature is accepted if it matches any of them. An empty configured
// secret disables verification entirely.
func VerifySignature(rawPayload []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	signature = strings.ToLower(signature)
	if signature == "" {
		return false
	}

	for _, candidate := range signingCandidates(rawPayload) {
		expected := computeHMAC(candidate, secret)
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return true
		}
		// Some gateways truncate the hex digest. Accept a prefix match
		// of at least half the digest.
		if len(signature) >= sha256.Size && len(signature) < len(expected) &&
			strings.HasPrefix(expected, signature) {
			return true
		}
	}
	return false
}

// signingCandidates returns the byte forms a provider may have signed:
// the body verbatim, compacted JSON, key-sorted JSON, and indented JSON.
func signingCandidates(raw []byte) [][]byte {
	candidates := [][]byte{raw}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, raw) {
		candidates = append(candidates, trimmed)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		candidates = appendUnique(candidates, compact.Bytes())
	}

	if sorted, ok := keySortedJSON(raw); ok {
		candidates = appendUnique(candidates, sorted)
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err == nil {
		candidates = appendUnique(candidates, indented.Bytes())
	}

	return candidates
}

// keySortedJSON re-marshals a JSON object with its keys sorted, which
// is what encoding/json produces for a map. Non-object payloads are
// skipped.
func keySortedJSON(raw []byte) ([]byte, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, false
		}
		buf.Write(kb)
		buf.WriteByte(':')
		var compact bytes.Buffer
		if err := json.Compact(&compact, obj[k]); err != nil {
			return nil, false
		}
		buf.Write(compact.Bytes())
	}
	buf.WriteByte('}')
	return buf.Bytes(), true
}

func appendUnique(candidates [][]byte, b []byte) [][]byte {
	for _, existing := range candidates {
		if bytes.Equal(existing, b) {
			return candidates
		}
	}
	return append(candidates, b)
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
