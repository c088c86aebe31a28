package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/core/async"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
)

// JobTracker is the part of the session manager the ingestor needs.
type JobTracker interface {
	CreateJob(source string) entity.Job
	AttachJob(sessionID, jobID string) error
	Fail(jobID string, err error)
}

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	JobID        string
	Deduplicated bool
	HashHex      string
	FileExt      string
	QueuedAt     time.Time
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// FSIngestor turns image files into jobs attached to one session.
type FSIngestor struct {
	tracker   JobTracker
	queue     async.Queue
	sessionID string
	maxBytes  int64
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]string // content hash -> job id
}

func NewFSIngestor(tracker JobTracker, queue async.Queue, sessionID string, maxImageMB int, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxImageMB <= 0 {
		maxImageMB = constants.MaxImageMBDefault
	}
	return &FSIngestor{
		tracker:   tracker,
		queue:     queue,
		sessionID: sessionID,
		maxBytes:  int64(maxImageMB) << 20,
		logger:    logger,
		seen:      make(map[string]string),
	}
}

// IngestPath submits one file. Identical content seen before is reported as
// deduplicated and not submitted again; editors often write a file several times.
func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	out := IngestionResult{SourcePath: path}

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, err
	}
	out.SourcePath = abs

	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !constants.IsAllowedExt(ext) {
		return out, fmt.Errorf("unsupported or missing extension %q", ext)
	}
	out.FileExt = ext

	image, err := readLimited(abs, i.maxBytes)
	if err != nil {
		return out, err
	}
	sum := sha256.Sum256(image)
	out.HashHex = hex.EncodeToString(sum[:])

	i.mu.Lock()
	if id, ok := i.seen[out.HashHex]; ok {
		i.mu.Unlock()
		out.JobID = id
		out.Deduplicated = true
		i.logger.Debug("ingest.file.deduplicated", "path", abs, "job_id", id)
		return out, nil
	}
	i.mu.Unlock()

	job := i.tracker.CreateJob("folder:" + filepath.Base(abs))
	if i.sessionID != "" {
		if err := i.tracker.AttachJob(i.sessionID, job.ID); err != nil {
			i.logger.Warn("ingest.attach.failed", "job_id", job.ID, "session_id", i.sessionID, "error", err)
		}
	}
	out.JobID = job.ID
	out.QueuedAt = time.Now().UTC()

	task := async.Task{
		JobID:       job.ID,
		Source:      "folder",
		SubmittedAt: out.QueuedAt,
		Request:     core.Request{Image: image, MimeType: constants.MimeTypeForExt(ext)},
	}
	if err := i.queue.Enqueue(ctx, task); err != nil {
		i.tracker.Fail(job.ID, err)
		return out, fmt.Errorf("enqueue %s: %w", abs, err)
	}

	i.mu.Lock()
	i.seen[out.HashHex] = job.ID
	i.mu.Unlock()

	i.logger.Info("ingest.file.queued", "path", abs, "job_id", job.ID, "bytes", len(image))
	return out, nil
}

func readLimited(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	b, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, max)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return b, nil
}
