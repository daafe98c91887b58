package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crm-telephony/internal/calls"
)

// Resolver turns a raw provider payload into a calls.Event. Providers
// spell the same field half a dozen ways and may omit direction
// entirely, so resolution is alias tables plus an ordered rule list.
type Resolver struct {
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{Now: time.Now}
}

// Field alias tables, checked in order. First non-empty value wins.
var (
	callIDFields           = []string{"call_id", "callid", "id", "uuid", "call_uuid"}
	customIdentifierFields = []string{"custom_identifier", "customIdentifier", "custom_id", "reference_id"}
	virtualNumberFields    = []string{"virtual_number", "did_number", "called_number", "agent_number"}
	callerFields           = []string{"caller_id_number", "caller_id", "caller_number", "caller", "from"}
	destinationFields      = []string{"destination_number", "destination", "customer_number", "to"}
	agentNumberFields      = []string{"agent_number", "answered_agent_number", "agent"}
	statusFields           = []string{"call_status", "status", "call_state"}
	eventTypeFields        = []string{"event_type", "event", "type"}
	durationFields         = []string{"duration", "call_duration", "billsec", "answer_seconds"}
	recordingFields        = []string{"recording_url", "recording", "call_recording"}
	dispositionFields      = []string{"disposition", "hangup_cause"}
	queueIDFields          = []string{"queue_id", "queue"}
	queueWaitFields        = []string{"queue_wait_time", "queue_duration", "wait_time"}
	startTimeFields        = []string{"start_time", "call_start_time", "start_stamp", "answer_stamp"}
	endTimeFields          = []string{"end_time", "call_end_time", "end_stamp"}
)

// directionRule is one step of the direction heuristic. It returns a
// definite verdict or ok=false to pass to the next rule.
type directionRule struct {
	name  string
	apply func(p payload) (calls.Direction, bool)
}

// Rules are evaluated in priority order; the first definite verdict
// wins. The final inference rule is deliberately permissive toward
// inbound: outbound calls originated by us always carry a correlation
// token, so an event with a caller number and no token is almost
// certainly inbound.
var directionRules = []directionRule{
	{name: "explicit_direction", apply: func(p payload) (calls.Direction, bool) {
		return directionFromWord(p.firstString("direction", "call_direction"))
	}},
	{name: "call_type", apply: func(p payload) (calls.Direction, bool) {
		return directionFromWord(p.firstString("call_type"))
	}},
	{name: "event_type", apply: func(p payload) (calls.Direction, bool) {
		et := strings.ToLower(p.firstString(eventTypeFields...))
		switch {
		case strings.Contains(et, "inbound"), strings.Contains(et, "incoming"):
			return calls.DirectionInbound, true
		case strings.Contains(et, "outbound"), strings.Contains(et, "outgoing"):
			return calls.DirectionOutbound, true
		}
		return "", false
	}},
	{name: "inbound_flag", apply: func(p payload) (calls.Direction, bool) {
		if v, ok := p.boolValue("is_inbound", "inbound"); ok {
			if v {
				return calls.DirectionInbound, true
			}
			return calls.DirectionOutbound, true
		}
		return "", false
	}},
	{name: "caller_without_token", apply: func(p payload) (calls.Direction, bool) {
		caller := p.firstString(callerFields...)
		called := p.firstString(virtualNumberFields...)
		custom := p.firstString(customIdentifierFields...)
		_, hasToken := calls.ParseCorrelationToken(custom)
		if caller != "" && called != "" && !hasToken {
			return calls.DirectionInbound, true
		}
		return "", false
	}},
}

func directionFromWord(word string) (calls.Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "inbound", "incoming":
		return calls.DirectionInbound, true
	case "outbound", "outgoing":
		return calls.DirectionOutbound, true
	}
	return "", false
}

// Resolve maps one webhook body to a reconcilable event. It never
// fails on missing identity: absent call ids are synthesized and an
// inbound event with no caller number gets the Unknown sentinel.
func (r *Resolver) Resolve(raw []byte) (calls.Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return calls.Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	p := payload(fields)

	ev := calls.Event{
		ProviderCallID:   p.firstString(callIDFields...),
		CustomIdentifier: p.firstString(customIdentifierFields...),
		EventType:        p.firstString(eventTypeFields...),
		RawStatus:        p.firstString(statusFields...),
		AgentNumber:      p.firstString(agentNumberFields...),
		CallerID:         p.firstString(callerFields...),
		VirtualNumber:    p.firstString(virtualNumberFields...),
		RecordingURL:     p.firstString(recordingFields...),
		Disposition:      p.firstString(dispositionFields...),
		QueueID:          p.firstString(queueIDFields...),
		Raw:              json.RawMessage(raw),
	}
	// destination aliases overlap caller spellings on some gateways;
	// drop a destination that merely echoes the caller.
	if dest := p.firstString(destinationFields...); dest != ev.CallerID {
		ev.DestinationNumber = dest
	}

	if ev.ProviderCallID == "" {
		now := r.Now
		if now == nil {
			now = time.Now
		}
		ev.ProviderCallID = fmt.Sprintf("SYN_%d", now().UnixNano())
	}

	if d, ok := p.intValue(durationFields...); ok {
		ev.DurationSeconds = &d
	}
	if w, ok := p.intValue(queueWaitFields...); ok {
		ev.QueueWaitSeconds = &w
	}
	if t, ok := p.timeValue(startTimeFields...); ok {
		ev.StartTime = &t
	}
	if t, ok := p.timeValue(endTimeFields...); ok {
		ev.EndTime = &t
	}
	if td, ok := fields["transfer_data"]; ok {
		ev.TransferData = td
	}
	if iv, ok := fields["ivr_data"]; ok {
		ev.IVRData = iv
	}

	ev.Direction = calls.DirectionOutbound
	for _, rule := range directionRules {
		if d, ok := rule.apply(p); ok {
			ev.Direction = d
			break
		}
	}

	switch ev.Direction {
	case calls.DirectionInbound:
		ev.CounterpartyPhone = ev.CallerID
	default:
		ev.CounterpartyPhone = ev.DestinationNumber
	}
	if ev.CounterpartyPhone == "" {
		ev.CounterpartyPhone = calls.UnknownPhone
	}

	return ev, nil
}

// payload wraps the decoded body with tolerant field accessors: JSON
// numbers and strings are both accepted where a string or int is
// wanted.
type payload map[string]json.RawMessage

func (p payload) firstString(keys ...string) string {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			return n.String()
		}
	}
	return ""
}

func (p payload) intValue(keys ...string) (int, bool) {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, true
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil {
			return int(f), true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}

func (p payload) boolValue(keys ...string) (bool, bool) {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "1", "yes":
				return true, true
			case "false", "0", "no":
				return false, true
			}
		}
	}
	return false, false
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func (p payload) timeValue(keys ...string) (time.Time, bool) {
	for _, k := range keys {
		raw, ok := p[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil && epoch > 0 {
			return time.Unix(epoch, 0).UTC(), true
		}
	}
	return time.Time{}, false
}
