package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/llm"
)

var _ llm.VisionExtractor = (*Client)(nil)

// Extract implements llm.VisionExtractor. The image is sent inline as a data
// URL; the reply is validated against the flyer schema and, when
// LenientOptional is set, repaired and revalidated before mapping.
func (c *Client) Extract(ctx context.Context, req llm.ExtractRequest) (*entity.MultiEventResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"image_bytes", len(req.Image),
		"mime", req.MimeType,
		"has_qr", req.QRPayload != "",
	)

	schema := llm.BuildFlyerJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": llm.BuildUserPrompt(req)},
				{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(req.Image, req.MimeType)}},
			}},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return c.failed("vision provider request failed", common.ProviderFailure("openai request", err))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return c.failed("vision provider returned an undecodable response", common.ProviderFailure("decode openai response", err))
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return c.failed("vision provider returned no choices", common.ProviderFailure("openai response", fmt.Errorf("no choices")))
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	content, err = c.validate(rid, content, start)
	if err != nil {
		return c.failed("vision payload could not be repaired", err)
	}

	payload, err := llm.DecodeFlyerPayload(content)
	if err != nil {
		c.logger.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err)
		return c.failed("vision payload could not be decoded", common.SchemaViolation("decode payload", err))
	}

	res := llm.ToMultiEventResult(payload, c.now().UTC())
	if !res.Success {
		c.logger.Warn("llm.extract.no_events",
			"req_id", rid, "is_multi", payload.IsMultiEvent,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return res, common.SchemaViolation(res.Error, nil)
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"events", len(res.Events),
		"is_multi", res.IsMultiEvent,
		"qr_hint", payload.QRDetected,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// validate checks content strictly first, then tries a lenient sanitize.
func (c *Client) validate(rid string, content []byte, start time.Time) ([]byte, error) {
	err := llm.ValidateFlyerJSON(content)
	if err == nil {
		return content, nil
	}
	if !c.cfg.LenientOptional {
		c.logger.Error("llm.extract.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.SchemaViolation("schema validation failed", err)
	}

	cleaned, dropped, sErr := llm.SanitizeFlyerPayload(content, c.logger)
	if sErr != nil {
		c.logger.Error("llm.extract.sanitize_failed", "req_id", rid, "error", sErr)
		return nil, common.SchemaViolation("sanitize failed", sErr)
	}
	if vErr := llm.ValidateFlyerJSON(cleaned); vErr != nil {
		c.logger.Error("llm.extract.schema_validation_failed",
			"req_id", rid, "error", vErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.SchemaViolation("schema validation failed after sanitize", vErr)
	}
	c.logger.Warn("llm.extract.lenient_sanitize_applied",
		"req_id", rid, "dropped", dropped,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cleaned, nil
}

func (c *Client) failed(msg string, err error) (*entity.MultiEventResult, error) {
	res := entity.FailedResult(msg+": "+err.Error(), c.now().UTC())
	return res, err
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
