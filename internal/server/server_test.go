package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/cache"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/core/async"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

type okRunner struct{}

func (okRunner) Process(_ context.Context, req core.Request, rep core.Reporter) (*entity.MultiEventResult, error) {
	rep.Progress(core.StageExtracting, 30, "Reading flyer")
	return &entity.MultiEventResult{
		Success: true,
		Events: []entity.ExtractionResult{{
			Success:         true,
			StructuredEvent: &entity.StructuredEvent{Title: string(req.Image), StartDateTime: "2025-08-01T19:00", Timezone: "UTC", VenueAddress: "1 Main St"},
		}},
	}, nil
}

type fullQueue struct{}

func (fullQueue) Enqueue(context.Context, async.Task) error {
	return common.NewAppError(common.CodeQueueFull, "processing queue is full", common.ErrQueueFull)
}
func (fullQueue) Shutdown(context.Context) {}

type fixture struct {
	srv      *Server
	sessions *session.Manager
	counters *metrics.Counters
	handler  http.Handler
}

func newFixture(t *testing.T, q async.Queue, maxMB int) *fixture {
	t.Helper()
	counters := metrics.New()
	sessions := session.NewManager(session.WithMetrics(counters))
	if q == nil {
		pq := async.NewProcessorQueue(okRunner{}, sessions, nil, async.WithWorkers(2))
		t.Cleanup(func() { pq.Shutdown(context.Background()) })
		q = pq
	}
	cfg := &common.Config{}
	cfg.Server.MaxImageMB = maxMB
	cfg.Session.SendQueueSize = 32
	srv := New(cfg, Deps{Sessions: sessions, Queue: q, Cache: cache.New(), Metrics: counters})
	return &fixture{srv: srv, sessions: sessions, counters: counters, handler: srv.Router()}
}

func multipartBody(t *testing.T, image []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if image != nil {
		part, err := w.CreateFormFile("image", "flyer.png")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(image)
	}
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return body, w.FormDataContentType()
}

func (f *fixture) post(t *testing.T, image []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, image, fields)
	req := httptest.NewRequest(http.MethodPost, "/events/process", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func waitStatus(t *testing.T, m *session.Manager, id string, want constants.JobStatus) entity.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := m.Job(id); ok && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return entity.Job{}
}

func TestProcessAcceptsAndCompletes(t *testing.T) {
	f := newFixture(t, nil, 1)
	rec := f.post(t, []byte("Block Party"), map[string]string{"latitude": "41.88", "longitude": "-87.63", "cityState": "Chicago, IL"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.JobID == "" {
		t.Fatalf("missing jobId: %s", rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	job := waitStatus(t, f.sessions, out.JobID, constants.JobStatusCompleted)
	if job.Result.Events[0].StructuredEvent.Title != "Block Party" {
		t.Fatalf("unexpected result %+v", job.Result)
	}

	get := httptest.NewRecorder()
	f.handler.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/jobs/"+out.JobID, nil))
	if get.Code != http.StatusOK || !strings.Contains(get.Body.String(), `"status":"completed"`) {
		t.Fatalf("polling endpoint: %d %s", get.Code, get.Body)
	}
}

func TestProcessRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, 1)
	cases := []struct {
		name   string
		image  []byte
		fields map[string]string
		want   int
	}{
		{"missing image", nil, nil, http.StatusBadRequest},
		{"latitude out of range", []byte("x"), map[string]string{"latitude": "123", "longitude": "1"}, http.StatusBadRequest},
		{"half a coordinate", []byte("x"), map[string]string{"latitude": "41"}, http.StatusBadRequest},
		{"not a number", []byte("x"), map[string]string{"latitude": "north", "longitude": "1"}, http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte("a"), 3<<20), nil, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := f.post(t, tc.image, tc.fields); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestProcessQueueFullFailsJob(t *testing.T) {
	f := newFixture(t, fullQueue{}, 1)
	rec := f.post(t, []byte("x"), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	job, ok := f.sessions.Job(out.JobID)
	if !ok || job.Status != constants.JobStatusFailed || job.Error.Code != common.CodeQueueFull {
		t.Fatalf("rejected job should be failed with queue_full, got %+v", job)
	}
}

func TestHealthReadyMetrics(t *testing.T) {
	f := newFixture(t, fullQueue{}, 1)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
	}
	f.post(t, []byte("x"), nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	var snap metrics.Snapshot
	_ = json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.JobsAccepted != 1 || snap.JobsFailed != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}

func TestExportSession(t *testing.T) {
	f := newFixture(t, nil, 1)
	rec := f.post(t, []byte("Gala"), map[string]string{"sessionId": "desk"})
	var out struct {
		JobID string `json:"jobId"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	waitStatus(t, f.sessions, out.JobID, constants.JobStatusCompleted)
	if jobs, ok := f.sessions.SessionJobs("desk"); !ok || len(jobs) != 1 || jobs[0].ID != out.JobID {
		t.Fatalf("upload should attach the job to the named session, got %+v", jobs)
	}

	long := f.post(t, []byte("Gala"), map[string]string{"sessionId": strings.Repeat("s", 65)})
	if long.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized session id, got %d", long.Code)
	}

	get := httptest.NewRecorder()
	f.handler.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/sessions/desk/export.xlsx", nil))
	if get.Code != http.StatusOK || get.Header().Get("Content-Type") != xlsxContentType || get.Body.Len() == 0 {
		t.Fatalf("export: %d %q", get.Code, get.Header().Get("Content-Type"))
	}

	missing := httptest.NewRecorder()
	f.handler.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/sessions/nope/export.xlsx", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	f := newFixture(t, nil, 1)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	read := func() session.ServerMessage {
		t.Helper()
		var msg session.ServerMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if err := ws.WriteJSON(session.ClientMessage{Type: session.TypeCreateSession}); err != nil {
		t.Fatal(err)
	}
	created := read()
	if created.Type != session.TypeSessionCreated || created.SessionID == "" {
		t.Fatalf("expected session_created, got %+v", created)
	}
	if upd := read(); upd.Type != session.TypeSessionUpdate || len(upd.Jobs) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", upd)
	}

	// hold the job pending so every transition is observed after add_job
	job := f.sessions.CreateJob("upload")
	if err := ws.WriteJSON(session.ClientMessage{Type: session.TypeAddJob, JobID: job.ID}); err != nil {
		t.Fatal(err)
	}
	if upd := read(); len(upd.Jobs) != 1 || upd.Jobs[0].Status != constants.JobStatusPending {
		t.Fatalf("expected pending job, got %+v", upd)
	}
	f.sessions.Claim(job.ID)
	f.sessions.Complete(job.ID, &entity.MultiEventResult{Success: true})

	var last session.ServerMessage
	for last.Type != session.TypeSessionUpdate || len(last.Jobs) == 0 || !last.Jobs[0].Status.Terminal() {
		last = read()
	}
	if last.Jobs[0].Status != constants.JobStatusCompleted {
		t.Fatalf("expected completed, got %+v", last.Jobs[0])
	}

	if err := ws.WriteJSON(map[string]string{"type": "bogus"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(); msg.Type != session.TypeError {
		t.Fatalf("expected error reply, got %+v", msg)
	}
}
