package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

var (
	topLevelKeys = map[string]struct{}{
		"rawText": {}, "confidence": {}, "qrDetected": {}, "qrPayload": {}, "isMultiEvent": {}, "events": {},
	}
	eventKeys = map[string]struct{}{
		"title": {}, "startDateTime": {}, "timezone": {}, "venueAddress": {}, "venueName": {},
		"organizer": {}, "description": {}, "contactInfo": {}, "isRecurring": {},
		"recurrenceFrequency": {}, "recurrenceDays": {}, "recurrenceInterval": {},
		"recurrenceStart": {}, "recurrenceEnd": {}, "rawText": {}, "confidence": {},
	}
	optionalEventStrings = []string{
		"venueName", "organizer", "description", "contactInfo", "recurrenceStart", "recurrenceEnd",
	}
)

// SanitizeFlyerPayload repairs a model payload so it can pass the flyer schema:
//   - unknown keys are removed
//   - invalid or empty optionals are dropped
//   - defaults apply (timezone "UTC", isRecurring false)
//   - recurrence fields are removed from non-recurring events
//   - events missing a required field are dropped
//
// A missing venueAddress is recovered from venueName when present.
func SanitizeFlyerPayload(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	for k := range m {
		if _, ok := topLevelKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	if s, ok := m["rawText"].(string); ok {
		m["rawText"] = strings.TrimSpace(s)
	} else {
		if _, present := m["rawText"]; present {
			dropped = append(dropped, "rawText(type)")
		}
		m["rawText"] = ""
	}

	if c, ok := coerceConfidence(m["confidence"]); ok {
		m["confidence"] = c
	} else if _, present := m["confidence"]; present {
		delete(m, "confidence")
		dropped = append(dropped, "confidence(invalid)")
	}

	if b, ok := coerceBool(m["qrDetected"]); ok {
		m["qrDetected"] = b
	} else {
		delete(m, "qrDetected")
	}
	if s, ok := m["qrPayload"].(string); ok && strings.TrimSpace(s) != "" {
		m["qrPayload"] = strings.TrimSpace(s)
	} else if _, present := m["qrPayload"]; present {
		delete(m, "qrPayload")
		dropped = append(dropped, "qrPayload(empty)")
	}

	// events: accept a bare object as a single event
	var items []any
	switch t := m["events"].(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
		dropped = append(dropped, "events(object->array)")
	case nil:
	default:
		dropped = append(dropped, "events(type)")
	}

	events := make([]any, 0, len(items))
	for i, it := range items {
		ev, ok := it.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("events[%d](type)", i))
			continue
		}
		if notes, ok := sanitizeEvent(ev); ok {
			events = append(events, ev)
			for _, n := range notes {
				dropped = append(dropped, fmt.Sprintf("events[%d].%s", i, n))
			}
		} else {
			dropped = append(dropped, fmt.Sprintf("events[%d](unrecoverable)", i))
		}
	}
	m["events"] = events

	if b, ok := coerceBool(m["isMultiEvent"]); ok {
		m["isMultiEvent"] = b
	} else {
		m["isMultiEvent"] = len(events) > 1
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// sanitizeEvent repairs ev in place. It reports false when a required field
// cannot be recovered.
func sanitizeEvent(ev map[string]any) ([]string, bool) {
	var notes []string
	for k := range ev {
		if _, ok := eventKeys[k]; !ok {
			delete(ev, k)
			notes = append(notes, k+"(unknown)")
		}
	}

	trimmed := func(k string) (string, bool) {
		s, ok := ev[k].(string)
		if !ok {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	for _, k := range optionalEventStrings {
		if _, present := ev[k]; !present {
			continue
		}
		if s, ok := trimmed(k); ok {
			ev[k] = s
		} else {
			delete(ev, k)
			notes = append(notes, k+"(empty)")
		}
	}

	if _, ok := trimmed("venueAddress"); !ok {
		if name, ok := trimmed("venueName"); ok {
			ev["venueAddress"] = name
			notes = append(notes, "venueAddress(from venueName)")
		}
	}
	for _, k := range []string{"title", "startDateTime", "venueAddress"} {
		s, ok := trimmed(k)
		if !ok {
			return notes, false
		}
		ev[k] = s
	}

	if tz, ok := trimmed("timezone"); ok {
		ev["timezone"] = tz
	} else {
		ev["timezone"] = entity.DefaultTimezone
	}

	if s, ok := ev["rawText"].(string); ok {
		ev["rawText"] = strings.TrimSpace(s)
	} else if _, present := ev["rawText"]; present {
		delete(ev, "rawText")
	}
	if c, ok := coerceConfidence(ev["confidence"]); ok {
		ev["confidence"] = c
	} else if _, present := ev["confidence"]; present {
		delete(ev, "confidence")
		notes = append(notes, "confidence(invalid)")
	}

	recurring, ok := coerceBool(ev["isRecurring"])
	if !ok {
		recurring = false
	}
	ev["isRecurring"] = recurring
	if !recurring {
		for _, k := range recurrenceKeys {
			if _, present := ev[k]; present {
				delete(ev, k)
				notes = append(notes, k+"(not recurring)")
			}
		}
		return notes, true
	}

	if _, present := ev["recurrenceFrequency"]; present {
		s, _ := ev["recurrenceFrequency"].(string)
		if f, ok := constants.CanonicalFrequency(s); ok {
			ev["recurrenceFrequency"] = string(f)
		} else {
			delete(ev, "recurrenceFrequency")
			notes = append(notes, "recurrenceFrequency(invalid)")
		}
	}
	if _, present := ev["recurrenceDays"]; present {
		days := canonicalDays(ev["recurrenceDays"])
		if len(days) > 0 {
			ev["recurrenceDays"] = days
		} else {
			delete(ev, "recurrenceDays")
			notes = append(notes, "recurrenceDays(invalid)")
		}
	}
	if _, present := ev["recurrenceInterval"]; present {
		if n, ok := coerceInterval(ev["recurrenceInterval"]); ok {
			ev["recurrenceInterval"] = n
		} else {
			delete(ev, "recurrenceInterval")
			notes = append(notes, "recurrenceInterval(invalid)")
		}
	}
	return notes, true
}

func canonicalDays(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, d := range t {
			if s, ok := d.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == '/' || r == ' ' })
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		if wd, ok := constants.CanonicalWeekday(d); ok && !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	return out
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func coerceConfidence(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = p
		if strings.HasSuffix(strings.TrimSpace(t), "%") {
			f /= 100
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	return math.Min(math.Max(f, 0), 1), true
}

func coerceInterval(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		if t >= 1 && t == math.Trunc(t) {
			return int(t), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil && n >= 1 {
			return n, true
		}
	}
	return 0, false
}
