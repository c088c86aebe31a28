package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
)

// Sender is one subscribed connection. Send must not block: it returns false
// when the outbound queue is full. Close must not call back into the Manager.
type Sender interface {
	Send(msg ServerMessage) bool
	Close()
}

type jobRecord struct {
	job        entity.Job
	cancel     context.CancelFunc
	ctx        context.Context
	sessions   map[string]struct{}
	terminalAt time.Time
}

type sessionState struct {
	id        string
	conns     map[Sender]struct{}
	jobIDs    []string
	idleSince time.Time
}

// Manager owns every job and session. All state lives behind one mutex so
// that a broadcast observes a consistent snapshot and per-connection message
// order matches mutation order.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*jobRecord
	sessions map[string]*sessionState
	conns    map[Sender]string

	base       context.Context
	stop       context.CancelFunc
	logger     *slog.Logger
	counters   *metrics.Counters
	now        func() time.Time
	grace      time.Duration
	retention  time.Duration
	sweepEvery time.Duration
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(c *metrics.Counters) Option { return func(m *Manager) { m.counters = c } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithGracePeriod sets how long a session without connections survives.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithJobRetention sets how long a terminal job outlives its last session.
func WithJobRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

func WithJanitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sweepEvery = d
		}
	}
}

func NewManager(opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		jobs:       make(map[string]*jobRecord),
		sessions:   make(map[string]*sessionState),
		conns:      make(map[Sender]string),
		base:       base,
		stop:       stop,
		logger:     slog.Default(),
		now:        time.Now,
		grace:      10 * time.Minute,
		retention:  time.Hour,
		sweepEvery: time.Minute,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateJob registers a pending job and returns its snapshot.
func (m *Manager) CreateJob(source string) entity.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	ctx, cancel := context.WithCancel(m.base)
	rec := &jobRecord{
		job: entity.Job{
			ID:           uuid.NewString(),
			Status:       constants.JobStatusPending,
			ProgressStep: string(core.StageQueued),
			Message:      "Queued",
			Source:       source,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]struct{}),
	}
	m.jobs[rec.job.ID] = rec
	m.counters.JobAccepted()
	m.logger.Info("session.job.created", "job_id", rec.job.ID, "source", source)
	return rec.job.Clone()
}

// Job returns a snapshot of one job.
func (m *Manager) Job(id string) (entity.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return entity.Job{}, false
	}
	return rec.job.Clone(), true
}

// SessionJobs returns the session's jobs in the order they were added.
func (m *Manager) SessionJobs(sessionID string) ([]entity.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return m.snapshotLocked(s), true
}

// AttachJob subscribes sessionID to jobID, creating the session when it does
// not exist yet. Used by out-of-band producers such as the drop folder.
func (m *Manager) AttachJob(sessionID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return common.NewAppError("NOT_FOUND", "unknown job "+jobID, common.ErrNotFound)
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		s = m.newSessionLocked(sessionID)
	}
	m.attachLocked(s, rec)
	m.broadcastLocked(s)
	return nil
}

// HandleMessage applies one client message received on conn.
func (m *Manager) HandleMessage(conn Sender, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.reject(conn, "malformed message")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.Type {
	case TypeCreateSession:
		m.detachConnLocked(conn)
		s := m.newSessionLocked("")
		m.joinLocked(conn, s, TypeSessionCreated)

	case TypeJoinSession:
		if msg.SessionID == "" {
			m.rejectLocked(conn, "sessionId is required")
			return
		}
		m.detachConnLocked(conn)
		if s, ok := m.sessions[msg.SessionID]; ok {
			m.joinLocked(conn, s, TypeSessionJoined)
			return
		}
		m.logger.Info("session.join.unknown", "session_id", msg.SessionID)
		m.joinLocked(conn, m.newSessionLocked(""), TypeSessionCreated)

	case TypeAddJob:
		s, ok := m.connSessionLocked(conn)
		if !ok {
			return
		}
		rec, ok := m.jobs[msg.JobID]
		if !ok {
			m.rejectLocked(conn, "unknown job "+msg.JobID)
			return
		}
		m.attachLocked(s, rec)
		m.broadcastLocked(s)

	case TypeCancelJob:
		s, ok := m.connSessionLocked(conn)
		if !ok {
			return
		}
		rec, ok := m.jobs[msg.JobID]
		if !ok {
			m.rejectLocked(conn, "unknown job "+msg.JobID)
			return
		}
		if _, in := rec.sessions[s.id]; !in {
			m.rejectLocked(conn, "job "+msg.JobID+" is not part of this session")
			return
		}
		m.cancelLocked(rec)

	case TypeClearSession:
		s, ok := m.connSessionLocked(conn)
		if !ok {
			return
		}
		for _, id := range s.jobIDs {
			rec, ok := m.jobs[id]
			if !ok {
				continue
			}
			m.cancelLocked(rec)
			delete(rec.sessions, s.id)
		}
		s.jobIDs = nil
		m.logger.Info("session.cleared", "session_id", s.id)
		m.broadcastLocked(s)

	default:
		m.rejectLocked(conn, "unknown message type "+msg.Type)
	}
}

// Disconnect removes conn from its session. The session itself survives for
// the grace period so that the client can rejoin.
func (m *Manager) Disconnect(conn Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachConnLocked(conn)
}

// CancelJob marks a non-terminal job as failed with code "cancelled" and
// cancels its context. Terminal jobs are left untouched.
func (m *Manager) CancelJob(jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return false, common.NewAppError("NOT_FOUND", "unknown job "+jobID, common.ErrNotFound)
	}
	return m.cancelLocked(rec), nil
}

// Claim implements async.Tracker.
func (m *Manager) Claim(jobID string) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok || rec.job.Status != constants.JobStatusPending {
		return nil, false
	}
	rec.job.Status = constants.JobStatusProcessing
	rec.job.UpdatedAt = m.now().UTC()
	m.broadcastJobLocked(rec)
	return rec.ctx, true
}

// Report implements async.Tracker. Terminal stages are left to Complete and Fail.
func (m *Manager) Report(jobID string, stage core.Stage, percent int, message string) {
	if stage == core.StageDone || stage == core.StageFailed {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok || rec.job.Status != constants.JobStatusProcessing {
		return
	}
	if percent > rec.job.Progress {
		rec.job.Progress = percent
	}
	rec.job.ProgressStep = string(stage)
	rec.job.Message = message
	rec.job.UpdatedAt = m.now().UTC()
	m.broadcastJobLocked(rec)
}

// Complete implements async.Tracker. Results for terminal jobs are discarded.
func (m *Manager) Complete(jobID string, res *entity.MultiEventResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return
	}
	if rec.job.Status.Terminal() {
		m.logger.Info("session.job.late_result_discarded", "job_id", jobID, "status", rec.job.Status)
		return
	}
	rec.job.Status = constants.JobStatusCompleted
	rec.job.Progress = 100
	rec.job.ProgressStep = string(core.StageDone)
	rec.job.Message = "Done"
	rec.job.Result = res
	m.finishLocked(rec)
	m.counters.JobCompleted()
}

// Fail implements async.Tracker.
func (m *Manager) Fail(jobID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return
	}
	if rec.job.Status.Terminal() {
		m.logger.Info("session.job.late_failure_discarded", "job_id", jobID, "error", err)
		return
	}
	msg := "processing failed"
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	} else if err != nil {
		msg = err.Error()
	}
	rec.job.Status = constants.JobStatusFailed
	rec.job.ProgressStep = string(core.StageFailed)
	rec.job.Message = msg
	rec.job.Error = &entity.JobError{Code: common.JobErrorCode(err), Message: msg}
	m.finishLocked(rec)
	m.counters.JobFailed()
}

// Run sweeps expired sessions and jobs until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep drops sessions that have had no connection for the grace period and
// whose jobs are all terminal, then drops terminal jobs that no session
// references once the retention window has passed.
func (m *Manager) Sweep() (sessions, jobs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	for id, s := range m.sessions {
		if len(s.conns) > 0 || now.Sub(s.idleSince) < m.grace || !m.allTerminalLocked(s) {
			continue
		}
		for _, jid := range s.jobIDs {
			if rec, ok := m.jobs[jid]; ok {
				delete(rec.sessions, id)
			}
		}
		delete(m.sessions, id)
		sessions++
	}
	for id, rec := range m.jobs {
		if !rec.job.Status.Terminal() || len(rec.sessions) > 0 || now.Sub(rec.terminalAt) < m.retention {
			continue
		}
		rec.cancel()
		delete(m.jobs, id)
		jobs++
	}
	if sessions > 0 || jobs > 0 {
		m.logger.Info("session.gc", "sessions", sessions, "jobs", jobs)
	}
	return sessions, jobs
}

// Shutdown cancels every in-flight job and closes all connections.
func (m *Manager) Shutdown() {
	m.stop()
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.conns {
		c.Close()
	}
	m.conns = make(map[Sender]string)
}

func (m *Manager) newSessionLocked(id string) *sessionState {
	if id == "" {
		id = uuid.NewString()
	}
	s := &sessionState{id: id, conns: make(map[Sender]struct{}), idleSince: m.now()}
	m.sessions[id] = s
	m.logger.Info("session.created", "session_id", id)
	return s
}

func (m *Manager) joinLocked(conn Sender, s *sessionState, reply string) {
	s.conns[conn] = struct{}{}
	m.conns[conn] = s.id
	m.sendLocked(conn, ServerMessage{Type: reply, SessionID: s.id})
	m.sendLocked(conn, ServerMessage{Type: TypeSessionUpdate, SessionID: s.id, Jobs: m.snapshotLocked(s)})
}

func (m *Manager) attachLocked(s *sessionState, rec *jobRecord) {
	if _, ok := rec.sessions[s.id]; ok {
		return
	}
	rec.sessions[s.id] = struct{}{}
	s.jobIDs = append(s.jobIDs, rec.job.ID)
}

func (m *Manager) detachConnLocked(conn Sender) {
	id, ok := m.conns[conn]
	if !ok {
		return
	}
	delete(m.conns, conn)
	if s, ok := m.sessions[id]; ok {
		delete(s.conns, conn)
		if len(s.conns) == 0 {
			s.idleSince = m.now()
		}
	}
}

func (m *Manager) connSessionLocked(conn Sender) (*sessionState, bool) {
	id, ok := m.conns[conn]
	if ok {
		if s, ok := m.sessions[id]; ok {
			return s, true
		}
	}
	m.rejectLocked(conn, "no active session: send create_session or join_session first")
	return nil, false
}

func (m *Manager) cancelLocked(rec *jobRecord) bool {
	if rec.job.Status.Terminal() {
		return false
	}
	rec.cancel()
	rec.job.Status = constants.JobStatusFailed
	rec.job.ProgressStep = string(core.StageFailed)
	rec.job.Message = "Cancelled"
	rec.job.Error = &entity.JobError{Code: common.CodeCancelled, Message: "cancelled by client"}
	m.finishLocked(rec)
	m.counters.JobCancelled()
	m.logger.Info("session.job.cancelled", "job_id", rec.job.ID)
	return true
}

func (m *Manager) finishLocked(rec *jobRecord) {
	now := m.now()
	rec.job.UpdatedAt = now.UTC()
	rec.terminalAt = now
	m.broadcastJobLocked(rec)
}

func (m *Manager) allTerminalLocked(s *sessionState) bool {
	for _, id := range s.jobIDs {
		if rec, ok := m.jobs[id]; ok && !rec.job.Status.Terminal() {
			return false
		}
	}
	return true
}

func (m *Manager) snapshotLocked(s *sessionState) []entity.Job {
	out := make([]entity.Job, 0, len(s.jobIDs))
	for _, id := range s.jobIDs {
		if rec, ok := m.jobs[id]; ok {
			out = append(out, rec.job.Clone())
		}
	}
	return out
}

func (m *Manager) broadcastJobLocked(rec *jobRecord) {
	for id := range rec.sessions {
		if s, ok := m.sessions[id]; ok {
			m.broadcastLocked(s)
		}
	}
}

func (m *Manager) broadcastLocked(s *sessionState) {
	if len(s.conns) == 0 {
		return
	}
	msg := ServerMessage{Type: TypeSessionUpdate, SessionID: s.id, Jobs: m.snapshotLocked(s)}
	for c := range s.conns {
		m.sendLocked(c, msg)
	}
}

// sendLocked enqueues msg; a connection whose queue is full is dropped as a
// slow consumer rather than allowed to stall every other subscriber.
func (m *Manager) sendLocked(conn Sender, msg ServerMessage) {
	if conn.Send(msg) {
		return
	}
	m.logger.Warn("session.conn.slow_consumer", "session_id", m.conns[conn])
	m.detachConnLocked(conn)
	conn.Close()
}

func (m *Manager) reject(conn Sender, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectLocked(conn, msg)
}

func (m *Manager) rejectLocked(conn Sender, msg string) {
	m.logger.Debug("session.protocol.error", "error", fmt.Errorf("%w: %s", common.ErrProtocol, msg))
	m.sendLocked(conn, errorMessage(msg))
}
