package llm

import "github.com/joseph-ayodele/flyerscan/constants"

var recurrenceKeys = []string{
	"recurrenceFrequency", "recurrenceDays", "recurrenceInterval", "recurrenceStart", "recurrenceEnd",
}

// BuildFlyerJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as the output constraint and also use it locally to validate.
func BuildFlyerJSONSchema() map[string]any {
	event := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":               map[string]any{"type": "string", "minLength": 1},
			"startDateTime":       map[string]any{"type": "string", "minLength": 1},
			"timezone":            map[string]any{"type": "string", "minLength": 1},
			"venueAddress":        map[string]any{"type": "string", "minLength": 1},
			"venueName":           map[string]any{"type": "string"},
			"organizer":           map[string]any{"type": "string"},
			"description":         map[string]any{"type": "string"},
			"contactInfo":         map[string]any{"type": "string"},
			"isRecurring":         map[string]any{"type": "boolean"},
			"recurrenceFrequency": map[string]any{"type": "string", "enum": constants.FrequencyStrings()},
			"recurrenceDays": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": constants.WeekdayStrings()},
			},
			"recurrenceInterval": map[string]any{"type": "integer", "minimum": 1},
			"recurrenceStart":    map[string]any{"type": "string"},
			"recurrenceEnd":      map[string]any{"type": "string"},
			"rawText":            map[string]any{"type": "string"},
			"confidence":         confidenceProp(),
		},
		"required": []string{"title", "startDateTime", "venueAddress"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"rawText":      map[string]any{"type": "string"},
			"confidence":   confidenceProp(),
			"qrDetected":   map[string]any{"type": "boolean"},
			"qrPayload":    map[string]any{"type": "string"},
			"isMultiEvent": map[string]any{"type": "boolean"},
			"events":       map[string]any{"type": "array", "items": event},
		},
		"required": []string{"rawText", "isMultiEvent", "events"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}
