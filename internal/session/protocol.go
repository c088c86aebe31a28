package session

import (
	"encoding/json"

	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// Client → server message types.
const (
	TypeCreateSession = "create_session"
	TypeJoinSession   = "join_session"
	TypeAddJob        = "add_job"
	TypeCancelJob     = "cancel_job"
	TypeClearSession  = "clear_session"
)

// Server → client message types.
const (
	TypeSessionCreated = "session_created"
	TypeSessionJoined  = "session_joined"
	TypeSessionUpdate  = "session_update"
	TypeError          = "error"
)

// ClientMessage is the envelope sent by clients.
type ClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

// ServerMessage is the envelope sent to clients. session_update always
// carries the full job list, even when empty.
type ServerMessage struct {
	Type      string
	SessionID string
	Jobs      []entity.Job
	Message   string
}

type updateWire struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	Jobs      []entity.Job `json:"jobs"`
}

type plainWire struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (m ServerMessage) MarshalJSON() ([]byte, error) {
	if m.Type == TypeSessionUpdate {
		jobs := m.Jobs
		if jobs == nil {
			jobs = []entity.Job{}
		}
		return json.Marshal(updateWire{Type: m.Type, SessionID: m.SessionID, Jobs: jobs})
	}
	return json.Marshal(plainWire{Type: m.Type, SessionID: m.SessionID, Message: m.Message})
}

func (m *ServerMessage) UnmarshalJSON(b []byte) error {
	var w struct {
		Type      string       `json:"type"`
		SessionID string       `json:"sessionId"`
		Jobs      []entity.Job `json:"jobs"`
		Message   string       `json:"message"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*m = ServerMessage{Type: w.Type, SessionID: w.SessionID, Jobs: w.Jobs, Message: w.Message}
	return nil
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Message: msg}
}
