package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

var fastRetry = common.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestFollowGivesUpAfterBoundedAttempts(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(ts.URL, fastRetry, nil)
	_, err := c.Follow(context.Background(), "", []string{"job"}, nil)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", n)
	}
}

func TestUploadRetriesBusyServer(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, `{"error":"busy"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"jobId":"abc"}`))
	}))
	defer ts.Close()

	id, err := New(ts.URL, fastRetry, nil).Upload(context.Background(), []byte("img"), UploadOptions{Source: "cli"})
	if err != nil || id != "abc" {
		t.Fatalf("expected abc, got %q %v", id, err)
	}
}

func TestUploadDoesNotRetryBadRequest(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"image is required"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	if _, err := New(ts.URL, fastRetry, nil).Upload(context.Background(), nil, UploadOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", hits.Load())
	}
}

func TestFollowRejoinsAfterDrop(t *testing.T) {
	m := session.NewManager()
	job := m.CreateJob("cli")
	m.Claim(job.ID)
	m.Complete(job.ID, &entity.MultiEventResult{Success: true})

	var conns atomic.Int32
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			_ = ws.Close()
			return
		}
		session.Serve(m, ws, 16)
	}))
	defer ts.Close()

	var final entity.Job
	sid, err := New(ts.URL, fastRetry, nil).Follow(context.Background(), "", []string{job.ID}, func(msg session.ServerMessage) {
		for _, j := range msg.Jobs {
			if j.ID == job.ID {
				final = j
			}
		}
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if sid == "" || conns.Load() != 2 {
		t.Fatalf("expected a session after reconnect, sid=%q conns=%d", sid, conns.Load())
	}
	if final.Status != constants.JobStatusCompleted {
		t.Fatalf("expected completed job, got %+v", final)
	}
}

func TestJobPollsSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/known" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"known","status":"processing","progress":30,"progressStep":"extracting"}`))
	}))
	defer ts.Close()

	c := New(ts.URL, fastRetry, nil)
	job, err := c.Job(context.Background(), "known")
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Status != constants.JobStatusProcessing || job.Progress != 30 {
		t.Fatalf("unexpected snapshot %+v", job)
	}
	if _, err := c.Job(context.Background(), "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFollowReportsServerErrors(t *testing.T) {
	m := session.NewManager()
	up := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		session.Serve(m, ws, 16)
	}))
	defer ts.Close()

	var errs []string
	_, err := New(ts.URL, fastRetry, nil).Follow(context.Background(), "", []string{"no-such-job"}, func(msg session.ServerMessage) {
		if msg.Type == session.TypeError {
			errs = append(errs, msg.Message)
		}
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if len(errs) != 1 || !strings.Contains(errs[0], "no-such-job") {
		t.Fatalf("expected the unknown-job error to reach the callback, got %v", errs)
	}
}
