package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/core"
)

// Task is one accepted upload waiting for a worker.
type Task struct {
	JobID       string
	Request     core.Request
	Source      string
	SubmittedAt time.Time
}

// Queue accepts tasks for background processing.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}
