package calls

import "strings"

// statusSynonyms maps provider status/event vocabulary to the
// canonical enum. Keys are normalized: lower case, '-' and ' '
// collapsed to '_'.
var statusSynonyms = map[string]CallStatus{
	"initiated":  StatusInitiated,
	"initiate":   StatusInitiated,
	"originate":  StatusInitiated,
	"originated": StatusInitiated,
	"start":      StatusInitiated,
	"started":    StatusInitiated,
	"dial":       StatusInitiated,
	"dialing":    StatusInitiated,
	"trying":     StatusInitiated,
	"queued":     StatusInitiated,

	"ringing":  StatusRinging,
	"ring":     StatusRinging,
	"alerting": StatusRinging,
	"progress": StatusRinging,

	"answered":    StatusAnswered,
	"answer":      StatusAnswered,
	"pickup":      StatusAnswered,
	"picked_up":   StatusAnswered,
	"connected":   StatusAnswered,
	"connect":     StatusAnswered,
	"in_progress": StatusAnswered,
	"bridged":     StatusAnswered,
	"bridge":      StatusAnswered,

	"completed":       StatusCompleted,
	"complete":        StatusCompleted,
	"hangup":          StatusCompleted,
	"hang_up":         StatusCompleted,
	"end":             StatusCompleted,
	"ended":           StatusCompleted,
	"finished":        StatusCompleted,
	"done":            StatusCompleted,
	"normal_clearing": StatusCompleted,

	"failed":      StatusFailed,
	"fail":        StatusFailed,
	"error":       StatusFailed,
	"reject":      StatusFailed,
	"rejected":    StatusFailed,
	"declined":    StatusFailed,
	"decline":     StatusFailed,
	"unreachable": StatusFailed,
	"congestion":  StatusFailed,

	"no_answer":  StatusNoAnswer,
	"noanswer":   StatusNoAnswer,
	"timeout":    StatusNoAnswer,
	"timed_out":  StatusNoAnswer,
	"unanswered": StatusNoAnswer,
	"missed":     StatusNoAnswer,

	"busy":      StatusBusy,
	"user_busy": StatusBusy,

	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"cancel":    StatusCancelled,
	"abandoned": StatusCancelled,
	"aborted":   StatusCancelled,
}

// NormalizeStatus maps a raw provider status to the canonical enum.
// Total: unknown input yields StatusInitiated with known=false so the
// caller can log the observation without failing the event.
func NormalizeStatus(raw string) (status CallStatus, known bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s, ok := statusSynonyms[key]; ok {
		return s, true
	}
	return StatusInitiated, false
}
