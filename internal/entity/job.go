package entity

import (
	"time"

	"github.com/joseph-ayodele/flyerscan/constants"
)

// JobError is the classified failure attached to a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job represents one image extraction tracked by the session manager.
type Job struct {
	ID           string              `json:"id"`
	Status       constants.JobStatus `json:"status"`
	Progress     int                 `json:"progress"`
	ProgressStep string              `json:"progressStep"`
	Message      string              `json:"message,omitempty"`
	Result       *MultiEventResult   `json:"result,omitempty"`
	Error        *JobError           `json:"error,omitempty"`
	Source       string              `json:"source,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Clone returns a copy safe to hand to other goroutines. Results are immutable and shared.
func (j *Job) Clone() Job {
	out := *j
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
