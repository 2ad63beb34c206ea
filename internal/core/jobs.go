package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobKind names a long-running backend operation
type JobKind string

const (
	KindFetch         JobKind = "fetch"
	KindClassifyBatch JobKind = "classify_batch"
	KindClassifyAll   JobKind = "classify_all"
	KindTrain         JobKind = "train"
	KindRecalculate   JobKind = "recalculate_reputation"
)

// JobStatus is the lifecycle state of a job. Transitions are monotonic:
// pending -> running -> completed|failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobSnapshot is a point-in-time view of a tracked job
type JobSnapshot struct {
	ID        string      `json:"id"`
	Kind      JobKind     `json:"kind"`
	Status    JobStatus   `json:"status"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

// JobFunc is the work a job performs. Its result becomes the job's result
// payload; a non-nil error fails the job.
type JobFunc func(ctx context.Context) (interface{}, error)

type job struct {
	snapshot JobSnapshot
	err      error
}

// JobCoordinator starts backend operations and lets callers observe their
// terminal outcome without blocking. At most one job per kind may be in
// flight; a second trigger of the same kind fails fast with Conflict.
// There is no cancellation: once accepted, a job runs to completion no
// matter what its pollers do.
type JobCoordinator struct {
	mu       sync.Mutex
	jobs     map[string]*job
	inflight map[JobKind]string
	logger   *zap.Logger
}

// NewJobCoordinator creates a new job coordinator
func NewJobCoordinator(logger *zap.Logger) *JobCoordinator {
	return &JobCoordinator{
		jobs:     make(map[string]*job),
		inflight: make(map[JobKind]string),
		logger:   logger,
	}
}

// Trigger starts fn as a job of the given kind and returns its handle
// immediately. The job runs on a background context: dropping the poll
// loop does not stop it.
func (c *JobCoordinator) Trigger(kind JobKind, fn JobFunc) (JobSnapshot, error) {
	c.mu.Lock()
	if id, ok := c.inflight[kind]; ok {
		snap := c.jobs[id].snapshot
		c.mu.Unlock()
		return snap, Errorf(ErrConflict, "operation %q already in flight", kind)
	}

	j := &job{snapshot: JobSnapshot{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
	}}
	c.jobs[j.snapshot.ID] = j
	c.inflight[kind] = j.snapshot.ID
	snap := j.snapshot
	c.mu.Unlock()

	c.logger.Info("Job accepted",
		zap.String("job", snap.ID), zap.String("kind", string(kind)))

	go c.run(j, fn)
	return snap, nil
}

func (c *JobCoordinator) run(j *job, fn JobFunc) {
	c.mu.Lock()
	j.snapshot.Status = JobRunning
	id, kind := j.snapshot.ID, j.snapshot.Kind
	c.mu.Unlock()

	result, err := fn(context.Background())

	c.mu.Lock()
	if err != nil {
		j.snapshot.Status = JobFailed
		j.snapshot.Error = err.Error()
		j.err = err
	} else {
		j.snapshot.Status = JobCompleted
	}
	j.snapshot.Result = result
	delete(c.inflight, kind)
	status := j.snapshot.Status
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Job failed",
			zap.String("job", id), zap.String("kind", string(kind)), zap.Error(err))
	} else {
		c.logger.Info("Job finished",
			zap.String("job", id), zap.String("kind", string(kind)),
			zap.String("status", string(status)))
	}
}

// Poll returns the current snapshot of a job without blocking
func (c *JobCoordinator) Poll(id string) (JobSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return JobSnapshot{}, Errorf(ErrValidation, "unknown job %q", id)
	}
	return j.snapshot, nil
}

// Await polls the job at the given interval until it reaches a terminal
// status or the wait budget runs out. Budget exhaustion is Indeterminate,
// not failure: the job keeps running server-side and a later Poll may
// still find it completed. For a failed job the original error is
// returned with its kind intact.
func (c *JobCoordinator) Await(ctx context.Context, id string, interval, budget time.Duration) (JobSnapshot, error) {
	deadline := time.Now().Add(budget)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.Poll(id)
		if err != nil {
			return snap, err
		}
		if snap.Status.Terminal() {
			if snap.Status == JobFailed {
				c.mu.Lock()
				jobErr := c.jobs[id].err
				c.mu.Unlock()
				return snap, jobErr
			}
			return snap, nil
		}
		if time.Now().After(deadline) {
			return snap, Errorf(ErrIndeterminate,
				"job %q still %s after %s", id, snap.Status, budget)
		}
		select {
		case <-ctx.Done():
			return snap, Errorf(ErrIndeterminate, "poll abandoned for job %q", id)
		case <-ticker.C:
		}
	}
}
