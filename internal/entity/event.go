package entity

import (
	"strings"
	"time"

	"github.com/joseph-ayodele/flyerscan/constants"
)

// DefaultTimezone applies when neither the flyer nor the location resolver yields a zone.
const DefaultTimezone = "UTC"

// StructuredEvent is the normalized set of fields extracted for one event.
type StructuredEvent struct {
	Title               string   `json:"title"`
	StartDateTime       string   `json:"startDateTime"`
	Timezone            string   `json:"timezone"`
	VenueAddress        string   `json:"venueAddress"`
	VenueName           string   `json:"venueName,omitempty"`
	Organizer           string   `json:"organizer,omitempty"`
	Description         string   `json:"description,omitempty"`
	ContactInfo         string   `json:"contactInfo,omitempty"`
	IsRecurring         bool     `json:"isRecurring"`
	RecurrenceFrequency string   `json:"recurrenceFrequency,omitempty"`
	RecurrenceDays      []string `json:"recurrenceDays,omitempty"`
	RecurrenceInterval  *int     `json:"recurrenceInterval,omitempty"`
	RecurrenceStart     string   `json:"recurrenceStart,omitempty"`
	RecurrenceEnd       string   `json:"recurrenceEnd,omitempty"`
}

// Normalize applies defaults and strips recurrence data from non-recurring events.
func (e *StructuredEvent) Normalize() {
	e.Title = strings.TrimSpace(e.Title)
	e.StartDateTime = strings.TrimSpace(e.StartDateTime)
	e.VenueAddress = strings.TrimSpace(e.VenueAddress)
	e.VenueName = strings.TrimSpace(e.VenueName)
	if strings.TrimSpace(e.Timezone) == "" {
		e.Timezone = DefaultTimezone
	}

	if !e.IsRecurring {
		e.clearRecurrence()
		return
	}

	if f, ok := constants.CanonicalFrequency(e.RecurrenceFrequency); ok {
		e.RecurrenceFrequency = string(f)
	} else {
		e.RecurrenceFrequency = ""
	}
	days := make([]string, 0, len(e.RecurrenceDays))
	seen := map[string]bool{}
	for _, d := range e.RecurrenceDays {
		if wd, ok := constants.CanonicalWeekday(d); ok && !seen[wd] {
			seen[wd] = true
			days = append(days, wd)
		}
	}
	if len(days) == 0 {
		days = nil
	}
	e.RecurrenceDays = days
	if e.RecurrenceInterval != nil && *e.RecurrenceInterval < 1 {
		e.RecurrenceInterval = nil
	}
}

func (e *StructuredEvent) clearRecurrence() {
	e.RecurrenceFrequency = ""
	e.RecurrenceDays = nil
	e.RecurrenceInterval = nil
	e.RecurrenceStart = ""
	e.RecurrenceEnd = ""
}

// LocationClues returns the free-text venue hints in priority order.
func (e *StructuredEvent) LocationClues() []string {
	return []string{e.VenueName, e.VenueAddress}
}

// ExtractionResult is the outcome for a single event found on an image.
type ExtractionResult struct {
	Success          bool              `json:"success"`
	RawText          string            `json:"rawText"`
	Confidence       float64           `json:"confidence"`
	ExtractedAt      time.Time         `json:"extractedAt"`
	QRDetected       bool              `json:"qrDetected"`
	QRPayload        string            `json:"qrPayload,omitempty"`
	StructuredEvent  *StructuredEvent  `json:"structuredEvent,omitempty"`
	ResolvedLocation *ResolvedLocation `json:"resolvedLocation,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// MultiEventResult is the outcome for a whole image.
type MultiEventResult struct {
	Success      bool               `json:"success"`
	IsMultiEvent bool               `json:"isMultiEvent"`
	Events       []ExtractionResult `json:"events"`
	ExtractedAt  time.Time          `json:"extractedAt"`
	Error        string             `json:"error,omitempty"`
	Cached       bool               `json:"cached,omitempty"`
}

// Normalize enforces the result invariants: a multi-event result with no
// events is a failure, and a single-event result carries exactly one event.
func (r *MultiEventResult) Normalize() {
	for i := range r.Events {
		ev := &r.Events[i]
		ev.Confidence = clamp01(ev.Confidence)
		if ev.StructuredEvent != nil {
			ev.StructuredEvent.Normalize()
		}
	}

	switch {
	case r.IsMultiEvent && len(r.Events) == 0:
		r.Success = false
		if r.Error == "" {
			r.Error = "multi-event result contained no events"
		}
	case !r.IsMultiEvent && len(r.Events) > 1:
		r.IsMultiEvent = true
	case !r.IsMultiEvent && len(r.Events) == 0:
		r.Success = false
		if r.Error == "" {
			r.Error = "no event extracted"
		}
	}
}

// FailedResult builds the degraded result handed back when extraction cannot proceed.
func FailedResult(msg string, at time.Time) *MultiEventResult {
	return &MultiEventResult{
		Success:     false,
		ExtractedAt: at,
		Error:       msg,
		Events:      []ExtractionResult{},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
