package metrics

import "sync/atomic"

// Counters tracks process-wide job and cache outcomes. A nil *Counters is valid and records nothing.
type Counters struct {
	jobsAccepted  atomic.Int64
	jobsCompleted atomic.Int64
	jobsFailed    atomic.Int64
	jobsCancelled atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	cacheErrors   atomic.Int64
}

// New returns zeroed counters.
func New() *Counters { return &Counters{} }

func (c *Counters) JobAccepted() {
	if c != nil {
		c.jobsAccepted.Add(1)
	}
}

func (c *Counters) JobCompleted() {
	if c != nil {
		c.jobsCompleted.Add(1)
	}
}

func (c *Counters) JobFailed() {
	if c != nil {
		c.jobsFailed.Add(1)
	}
}

func (c *Counters) JobCancelled() {
	if c != nil {
		c.jobsCancelled.Add(1)
	}
}

func (c *Counters) CacheHit() {
	if c != nil {
		c.cacheHits.Add(1)
	}
}

func (c *Counters) CacheMiss() {
	if c != nil {
		c.cacheMisses.Add(1)
	}
}

// CacheError counts durable tier failures that were degraded to a miss or a skipped write.
func (c *Counters) CacheError() {
	if c != nil {
		c.cacheErrors.Add(1)
	}
}

// Snapshot is a point-in-time copy suitable for JSON encoding.
type Snapshot struct {
	JobsAccepted  int64 `json:"jobs_accepted"`
	JobsCompleted int64 `json:"jobs_completed"`
	JobsFailed    int64 `json:"jobs_failed"`
	JobsCancelled int64 `json:"jobs_cancelled"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	CacheErrors   int64 `json:"cache_errors"`
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		JobsAccepted:  c.jobsAccepted.Load(),
		JobsCompleted: c.jobsCompleted.Load(),
		JobsFailed:    c.jobsFailed.Load(),
		JobsCancelled: c.jobsCancelled.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMisses.Load(),
		CacheErrors:   c.cacheErrors.Load(),
	}
}
