package llm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// DecodeFlyerPayload unmarshals a validated payload.
func DecodeFlyerPayload(raw []byte) (FlyerPayload, error) {
	var p FlyerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return FlyerPayload{}, fmt.Errorf("unmarshal flyer payload: %w", err)
	}
	return p, nil
}

// ToMultiEventResult maps the model payload onto the result model. The
// image-level QR hint and text are copied into every event.
func ToMultiEventResult(p FlyerPayload, at time.Time) *entity.MultiEventResult {
	conf := 0.0
	if p.Confidence != nil {
		conf = *p.Confidence
	}

	out := &entity.MultiEventResult{
		Success:      true,
		IsMultiEvent: p.IsMultiEvent,
		ExtractedAt:  at,
		Events:       make([]entity.ExtractionResult, 0, len(p.Events)),
	}
	for _, blk := range p.Events {
		ev := blk.StructuredEvent
		r := entity.ExtractionResult{
			Success:         true,
			RawText:         p.RawText,
			Confidence:      conf,
			ExtractedAt:     at,
			QRDetected:      p.QRDetected,
			QRPayload:       p.QRPayload,
			StructuredEvent: &ev,
		}
		if blk.RawText != "" {
			r.RawText = blk.RawText
		}
		if blk.Confidence != nil {
			r.Confidence = *blk.Confidence
		}
		out.Events = append(out.Events, r)
	}
	out.Normalize()
	return out
}
