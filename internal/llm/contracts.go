package llm

import (
	"context"

	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// ExtractRequest is one image submitted to the vision model.
type ExtractRequest struct {
	Image    []byte
	MimeType string

	// QRPayload is the locally decoded QR text, if any. It is passed to the
	// model as context only.
	QRPayload string
	// LocationHint is an optional "City, ST" string to help date/venue disambiguation.
	LocationHint string
}

// FlyerPayload is the shape the model is asked to return.
type FlyerPayload struct {
	RawText      string       `json:"rawText"`
	Confidence   *float64     `json:"confidence,omitempty"`
	QRDetected   bool         `json:"qrDetected"`
	QRPayload    string       `json:"qrPayload,omitempty"`
	IsMultiEvent bool         `json:"isMultiEvent"`
	Events       []EventBlock `json:"events"`
}

// EventBlock is one event as returned by the model.
type EventBlock struct {
	entity.StructuredEvent
	RawText    string   `json:"rawText,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// VisionExtractor is the capability the orchestrator depends on.
//
// Extract always returns a non-nil result. On provider failure or an
// unrecoverable payload the result has Success=false and zero confidence,
// and the returned error classifies the failure.
type VisionExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*entity.MultiEventResult, error)
}
