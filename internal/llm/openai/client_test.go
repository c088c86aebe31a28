package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/llm"
)

func completion(t *testing.T, content string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestExtractSendsImageAndMapsEvents(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing auth header")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write(completion(t, `{"rawText":"SUMMER FAIR","confidence":0.9,"qrDetected":false,"isMultiEvent":false,
			"events":[{"title":"Summer Fair","startDateTime":"2025-07-04T10:00","venueAddress":"100 Main St, Springfield"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, LenientOptional: true}, nil)
	res, err := c.Extract(context.Background(), llm.ExtractRequest{Image: []byte("\x89PNG\r\n\x1a\nxxxx"), MimeType: "image/png"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.Success || res.IsMultiEvent || len(res.Events) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	ev := res.Events[0]
	if ev.StructuredEvent.Title != "Summer Fair" || ev.Confidence != 0.9 {
		t.Fatalf("unexpected event %+v", ev)
	}

	msgs, _ := gotBody["messages"].([]any)
	last, _ := msgs[len(msgs)-1].(map[string]any)
	parts, _ := last["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("expected text and image parts, got %v", last["content"])
	}
	img, _ := parts[1].(map[string]any)["image_url"].(map[string]any)
	if url, _ := img["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("expected data url, got %q", url)
	}
}

func TestExtractProviderFailureIsDegradedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	res, err := c.Extract(context.Background(), llm.ExtractRequest{Image: []byte("img")})
	if err == nil {
		t.Fatalf("expected classified error")
	}
	if !errors.Is(err, common.ErrProviderFailure) || common.JobErrorCode(err) != common.CodeProviderFailure {
		t.Fatalf("expected provider failure, got %v", err)
	}
	if res == nil || res.Success || res.Error == "" {
		t.Fatalf("expected degraded result, got %+v", res)
	}
}

func TestExtractTimeoutIsProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Extract(context.Background(), llm.ExtractRequest{Image: []byte("img")})
	if common.JobErrorCode(err) != common.CodeProviderFailure {
		t.Fatalf("expected provider failure on timeout, got %v", err)
	}
}

func TestExtractEmptyMultiEventFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion(t, `{"rawText":"","isMultiEvent":true,"events":[]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, LenientOptional: true}, nil)
	res, err := c.Extract(context.Background(), llm.ExtractRequest{Image: []byte("img")})
	if err == nil || res.Success {
		t.Fatalf("expected failure for empty multi-event payload, got %+v", res)
	}
	if common.JobErrorCode(err) != common.CodeSchemaViolation {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestExtractStrictModeRejectsRepairablePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion(t, `{"rawText":"x","isMultiEvent":false,"events":[{"title":"A","startDateTime":"2025-01-01","venueAddress":"B","mood":"happy"}]}`))
	}))
	defer srv.Close()

	strict := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	if _, err := strict.Extract(context.Background(), llm.ExtractRequest{Image: []byte("img")}); err == nil {
		t.Fatalf("strict mode should reject unknown keys")
	}
	lenient := NewClient(Config{APIKey: "k", BaseURL: srv.URL, LenientOptional: true}, nil)
	res, err := lenient.Extract(context.Background(), llm.ExtractRequest{Image: []byte("img")})
	if err != nil || !res.Success {
		t.Fatalf("lenient mode should repair the payload: %v", err)
	}
}
