package llm

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSanitizeRepairsPayloadToPassSchema(t *testing.T) {
	raw := []byte(`{
		"rawText": "  JAZZ NIGHT  ",
		"confidence": "85%",
		"qrDetected": "true",
		"isMultiEvent": false,
		"extra": 1,
		"events": [{
			"title": "Jazz Night",
			"startDateTime": "2025-06-01T20:00",
			"venueName": "Blue Room",
			"organizer": "",
			"isRecurring": false,
			"recurrenceFrequency": "weekly",
			"recurrenceDays": ["fri"],
			"color": "red"
		}]
	}`)
	if err := ValidateFlyerJSON(raw); err == nil {
		t.Fatalf("expected raw payload to fail strict validation")
	}

	cleaned, dropped, err := SanitizeFlyerPayload(raw, nil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(dropped) == 0 {
		t.Fatalf("expected dropped notes")
	}
	if err := ValidateFlyerJSON(cleaned); err != nil {
		t.Fatalf("sanitized payload should validate: %v\n%s", err, cleaned)
	}

	p, err := DecodeFlyerPayload(cleaned)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RawText != "JAZZ NIGHT" || !p.QRDetected {
		t.Fatalf("unexpected top-level fields: %+v", p)
	}
	if p.Confidence == nil || *p.Confidence != 0.85 {
		t.Fatalf("expected confidence 0.85, got %v", p.Confidence)
	}
	ev := p.Events[0]
	if ev.VenueAddress != "Blue Room" {
		t.Fatalf("expected venueAddress recovered from venueName, got %q", ev.VenueAddress)
	}
	if ev.Timezone != "UTC" {
		t.Fatalf("expected default timezone, got %q", ev.Timezone)
	}
	if ev.RecurrenceFrequency != "" || ev.RecurrenceDays != nil {
		t.Fatalf("recurrence fields should be stripped: %+v", ev)
	}
	if ev.Organizer != "" {
		t.Fatalf("empty optional should be dropped")
	}
}

func TestSanitizeDropsUnrecoverableEvents(t *testing.T) {
	raw := []byte(`{"rawText":"x","isMultiEvent":true,"events":[
		{"title":"A","startDateTime":"2025-06-01","venueAddress":"1 Main St"},
		{"title":"B","venueAddress":"2 Main St"},
		"garbage"
	]}`)
	cleaned, _, err := SanitizeFlyerPayload(raw, nil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	p, err := DecodeFlyerPayload(cleaned)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Events) != 1 || p.Events[0].Title != "A" {
		t.Fatalf("expected only event A to survive, got %+v", p.Events)
	}
}

func TestSanitizeNormalizesRecurrence(t *testing.T) {
	raw := []byte(`{"rawText":"","isMultiEvent":false,"events":[{
		"title":"Yoga","startDateTime":"2025-06-02T07:00","venueAddress":"Park",
		"isRecurring":true,"recurrenceFrequency":"Every week","recurrenceDays":"Mon, Wed, mon",
		"recurrenceInterval":"2"
	}]}`)
	cleaned, _, err := SanitizeFlyerPayload(raw, nil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if err := ValidateFlyerJSON(cleaned); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var m struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(cleaned, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ev := m.Events[0]
	if ev["recurrenceFrequency"] != "weekly" {
		t.Fatalf("frequency: %v", ev["recurrenceFrequency"])
	}
	days, _ := ev["recurrenceDays"].([]any)
	if len(days) != 2 || days[0] != "monday" || days[1] != "wednesday" {
		t.Fatalf("days: %v", ev["recurrenceDays"])
	}
	if ev["recurrenceInterval"] != float64(2) {
		t.Fatalf("interval: %v", ev["recurrenceInterval"])
	}
}

func TestEmptyMultiEventIsFailure(t *testing.T) {
	res := ToMultiEventResult(FlyerPayload{IsMultiEvent: true}, time.Now())
	if res.Success {
		t.Fatalf("multi-event result with no events must not succeed")
	}
	if res.Error == "" {
		t.Fatalf("expected an error message")
	}
}

func TestNonRecurringStripsRecurrenceOnMapping(t *testing.T) {
	interval := 3
	blk := EventBlock{}
	blk.Title = "Market"
	blk.StartDateTime = "2025-06-07"
	blk.VenueAddress = "Town Square"
	blk.IsRecurring = false
	blk.RecurrenceFrequency = "weekly"
	blk.RecurrenceDays = []string{"saturday"}
	blk.RecurrenceInterval = &interval
	blk.RecurrenceStart = "2025-06-07"

	res := ToMultiEventResult(FlyerPayload{Events: []EventBlock{blk}}, time.Now())
	if !res.Success || len(res.Events) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	ev := res.Events[0].StructuredEvent
	if ev.RecurrenceFrequency != "" || ev.RecurrenceDays != nil || ev.RecurrenceInterval != nil || ev.RecurrenceStart != "" {
		t.Fatalf("recurrence fields must read absent: %+v", ev)
	}
	if ev.Timezone != "UTC" {
		t.Fatalf("expected UTC default, got %q", ev.Timezone)
	}
}

func TestSingleFlagWithSeveralEventsBecomesMulti(t *testing.T) {
	mk := func(title string) EventBlock {
		b := EventBlock{}
		b.Title, b.StartDateTime, b.VenueAddress = title, "2025-01-01", "x"
		return b
	}
	res := ToMultiEventResult(FlyerPayload{Events: []EventBlock{mk("a"), mk("b")}}, time.Now())
	if !res.IsMultiEvent {
		t.Fatalf("two events must be reported as multi-event")
	}
}
