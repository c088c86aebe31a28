package llm

import (
	"strings"

	"github.com/joseph-ayodele/flyerscan/constants"
)

// BuildSystemPrompt composes the system message: output contract plus
// strict-but-practical formatting rules.
func BuildSystemPrompt(req ExtractRequest) string {
	parts := []string{
		"You read photographed event flyers. Return ONLY JSON that matches the provided JSON Schema.",
		"Put all legible text in 'rawText'. Set 'confidence' between 0 and 1.",
		"If the flyer lists several distinct events, set 'isMultiEvent' to true and emit one item per event in 'events'; otherwise emit exactly one item.",
		"Use ISO-8601 for 'startDateTime' (YYYY-MM-DDTHH:MM when a time is printed, YYYY-MM-DD otherwise).",
		"Use an IANA zone name for 'timezone' only if the flyer states one; otherwise omit it.",
		"'venueAddress' is the most specific address text printed; copy the venue name there if no address is shown.",
		"Set 'isRecurring' only for repeating events; then use 'recurrenceFrequency' (" +
			strings.Join(constants.FrequencyStrings(), ", ") + ") and lowercase 'recurrenceDays'.",
		"Set 'qrDetected' if a QR code is visible and copy its text to 'qrPayload' when readable.",
		"Never output null. If a field is not present, omit it.",
	}
	if h := strings.TrimSpace(req.LocationHint); h != "" {
		parts = append(parts, "The photo was taken near "+h+"; use it only to interpret ambiguous dates or venues.")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt is the text that accompanies the attached image.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract the event details from the attached flyer image.")
	if qr := strings.TrimSpace(req.QRPayload); qr != "" {
		b.WriteString("\nA QR code on the flyer decodes to: ")
		b.WriteString(qr)
	}
	return b.String()
}
