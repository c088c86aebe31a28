package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// Runner executes one extraction. *core.Orchestrator satisfies it.
type Runner interface {
	Process(ctx context.Context, req core.Request, rep core.Reporter) (*entity.MultiEventResult, error)
}

// Tracker owns job state. The queue only reports transitions to it.
type Tracker interface {
	// Claim moves a pending job to processing and returns a context that is
	// cancelled when the job is cancelled. ok=false means the job should be skipped.
	Claim(jobID string) (ctx context.Context, ok bool)
	Report(jobID string, stage core.Stage, percent int, message string)
	Complete(jobID string, res *entity.MultiEventResult)
	Fail(jobID string, err error)
}

var ErrQueueClosed = errors.New("queue is shutting down")

type ProcessorQueue struct {
	runner  Runner
	tracker Tracker
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

var _ Queue = (*ProcessorQueue)(nil)

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(runner Runner, tracker Tracker, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		runner:  runner,
		tracker: tracker,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Task, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for task := range q.ch {
					q.run(workerID, task)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, task Task) {
	jobCtx, ok := q.tracker.Claim(task.JobID)
	if !ok {
		q.logger.Info("queue.task.skipped", "worker_id", workerID, "job_id", task.JobID)
		return
	}
	ctx, cancel := context.WithTimeout(common.WithJobID(jobCtx, task.JobID), q.timeout)
	defer cancel()

	rep := core.ReporterFunc(func(stage core.Stage, percent int, message string) {
		q.tracker.Report(task.JobID, stage, percent, message)
	})
	res, err := q.runner.Process(ctx, task.Request, rep)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, common.ErrProviderFailure) {
			err = common.ProviderFailure("processing timed out", err)
		}
		q.logger.Error("queue.task.failed", "worker_id", workerID, "job_id", task.JobID, "error", err,
			"waited_ms", time.Since(task.SubmittedAt).Milliseconds())
		q.tracker.Fail(task.JobID, err)
		return
	}
	q.logger.Info("queue.task.completed", "worker_id", workerID, "job_id", task.JobID, "events", len(res.Events))
	q.tracker.Complete(task.JobID, res)
}

// Enqueue hands task to a worker without blocking. A full queue returns
// common.ErrQueueFull so the caller can fail the job instead of stalling the request.
func (q *ProcessorQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.closed", "job_id", task.JobID)
		return ErrQueueClosed
	}
	select {
	case q.ch <- task:
		q.logger.Debug("queue.enqueue.ok", "job_id", task.JobID, "source", task.Source)
		return nil
	default:
		q.logger.Warn("queue.enqueue.full", "job_id", task.JobID, "capacity", cap(q.ch))
		return common.NewAppError(common.CodeQueueFull, "processing queue is full", common.ErrQueueFull)
	}
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
