// Package client talks to flyerd over HTTP and the session socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/session"
)

type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	retry   common.RetryConfig
	logger  *slog.Logger
}

func New(baseURL string, retry common.RetryConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retry:   retry,
		logger:  logger,
	}
}

// UploadOptions are the optional form fields of an upload.
type UploadOptions struct {
	Filename  string
	Source    string
	SessionID string
	CityState string
	Latitude  *float64
	Longitude *float64
}

// Upload submits one image and returns the job id. 503 responses and network
// errors are retried under the bounded policy; other 4xx/5xx are final.
func (c *Client) Upload(ctx context.Context, image []byte, opts UploadOptions) (string, error) {
	var jobID string
	op := func() error {
		body, contentType, err := uploadBody(image, opts)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events/process", body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode == http.StatusAccepted:
			var out struct {
				JobID string `json:"jobId"`
			}
			if err := json.Unmarshal(raw, &out); err != nil || out.JobID == "" {
				return backoff.Permanent(fmt.Errorf("unexpected upload response: %s", raw))
			}
			jobID = out.JobID
			return nil
		case resp.StatusCode == http.StatusServiceUnavailable:
			return fmt.Errorf("server busy: %s", raw)
		default:
			return backoff.Permanent(fmt.Errorf("upload failed: %s: %s", resp.Status, bytes.TrimSpace(raw)))
		}
	}
	err := backoff.RetryNotify(op, common.NewBackOff(ctx, c.retry), func(err error, wait time.Duration) {
		c.logger.Warn("client.upload.retry", "error", err, "wait_ms", wait.Milliseconds())
	})
	return jobID, err
}

func uploadBody(image []byte, opts UploadOptions) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	name := opts.Filename
	if name == "" {
		name = "flyer"
	}
	part, err := w.CreateFormFile("image", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"source":    opts.Source,
		"sessionId": opts.SessionID,
		"cityState": opts.CityState,
	}
	if opts.Latitude != nil && opts.Longitude != nil {
		fields["latitude"] = fmt.Sprintf("%f", *opts.Latitude)
		fields["longitude"] = fmt.Sprintf("%f", *opts.Longitude)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// Job fetches a job snapshot through the polling endpoint.
func (c *Client) Job(ctx context.Context, id string) (*entity.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, common.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get job: %s", resp.Status)
	}
	var job entity.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// ErrRetriesExhausted is returned when the socket could not be re-established.
var ErrRetriesExhausted = errors.New("session connection retries exhausted")

// Follow subscribes to jobIDs within sessionID (or a fresh session when
// empty) and calls onUpdate for each snapshot and server error until every
// followed job is terminal. Dropped connections are re-established under the
// bounded retry policy and the session is rejoined. It returns the final session id.
func (c *Client) Follow(ctx context.Context, sessionID string, jobIDs []string, onUpdate func(session.ServerMessage)) (string, error) {
	wsURL, err := c.socketURL()
	if err != nil {
		return "", err
	}
	pending := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = true
	}

	// connections that drop before delivering anything count against the
	// same attempt budget as failed dials
	drops := 0
	for {
		var ws *websocket.Conn
		dial := func() error {
			conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				return err
			}
			ws = conn
			return nil
		}
		notify := func(err error, wait time.Duration) {
			c.logger.Warn("client.ws.reconnect", "error", err, "wait_ms", wait.Milliseconds())
		}
		if err := backoff.RetryNotify(dial, common.NewBackOff(ctx, c.retry), notify); err != nil {
			if ctx.Err() != nil {
				return sessionID, ctx.Err()
			}
			return sessionID, errors.Join(ErrRetriesExhausted, err)
		}

		done, received, err := c.stream(ctx, ws, &sessionID, pending, onUpdate)
		_ = ws.Close()
		if done {
			return sessionID, nil
		}
		if ctx.Err() != nil {
			return sessionID, ctx.Err()
		}
		if received == 0 {
			drops++
		} else {
			drops = 0
		}
		if drops >= max(1, c.retry.MaxAttempts) {
			return sessionID, errors.Join(ErrRetriesExhausted, err)
		}
		c.logger.Info("client.ws.dropped", "session_id", sessionID, "error", err)
	}
}

// stream runs one connection. done=true means every followed job is terminal;
// received counts the server messages read before the connection ended.
func (c *Client) stream(
	ctx context.Context,
	ws *websocket.Conn,
	sessionID *string,
	pending map[string]bool,
	onUpdate func(session.ServerMessage),
) (done bool, received int, err error) {
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	hello := session.ClientMessage{Type: session.TypeCreateSession}
	if *sessionID != "" {
		hello = session.ClientMessage{Type: session.TypeJoinSession, SessionID: *sessionID}
	}
	if err := ws.WriteJSON(hello); err != nil {
		return false, 0, err
	}

	for {
		var msg session.ServerMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return false, received, err
		}
		received++
		switch msg.Type {
		case session.TypeSessionCreated, session.TypeSessionJoined:
			if msg.Type == session.TypeSessionCreated && *sessionID != "" && msg.SessionID != *sessionID {
				c.logger.Warn("client.session.replaced", "old", *sessionID, "new", msg.SessionID)
			}
			*sessionID = msg.SessionID
			for id := range pending {
				if err := ws.WriteJSON(session.ClientMessage{Type: session.TypeAddJob, JobID: id}); err != nil {
					return false, received, err
				}
			}
		case session.TypeSessionUpdate:
			if onUpdate != nil {
				onUpdate(msg)
			}
			for _, j := range msg.Jobs {
				if j.Status.Terminal() {
					delete(pending, j.ID)
				}
			}
		case session.TypeError:
			c.logger.Warn("client.server.error", "message", msg.Message)
			if onUpdate != nil {
				onUpdate(msg)
			}
			// jobs the server no longer knows about can never finish
			for id := range pending {
				if strings.Contains(msg.Message, id) {
					delete(pending, id)
				}
			}
		}
		if len(pending) == 0 && msg.Type != session.TypeSessionCreated && msg.Type != session.TypeSessionJoined {
			return true, received, nil
		}
	}
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
