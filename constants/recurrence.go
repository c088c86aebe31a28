package constants

import (
	"strings"
)

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

var allFrequencies = []Frequency{Daily, Weekly, Monthly, Yearly}

var allWeekdays = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// FrequencyStrings returns the recurrence frequencies accepted in the flyer schema.
func FrequencyStrings() []string {
	result := make([]string, len(allFrequencies))
	for i, f := range allFrequencies {
		result[i] = string(f)
	}
	return result
}

// WeekdayStrings returns lowercase weekday names accepted in recurrenceDays.
func WeekdayStrings() []string {
	return append([]string(nil), allWeekdays...)
}

// CanonicalFrequency maps model output such as "Every week" or "bi-weekly"
// onto one of the schema frequencies.
func CanonicalFrequency(input string) (Frequency, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]Frequency{
		"every day":   Daily,
		"nightly":     Daily,
		"every week":  Weekly,
		"biweekly":    Weekly,
		"bi-weekly":   Weekly,
		"fortnightly": Weekly,
		"every month": Monthly,
		"annually":    Yearly,
		"annual":      Yearly,
		"every year":  Yearly,
	}
	if f, ok := synonyms[normalized]; ok {
		return f, true
	}
	for _, f := range allFrequencies {
		if normalized == string(f) {
			return f, true
		}
	}
	return "", false
}

// CanonicalWeekday maps "Mon", "MONDAY", "mondays" to "monday".
func CanonicalWeekday(input string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.TrimSuffix(normalized, ".")
	if len(normalized) < 2 {
		return "", false
	}
	for _, day := range allWeekdays {
		if normalized == day || normalized == day+"s" {
			return day, true
		}
		if len(normalized) >= 3 && strings.HasPrefix(day, normalized) {
			return day, true
		}
	}
	return "", false
}
