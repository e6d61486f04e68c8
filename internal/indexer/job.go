package indexer

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"xref/internal/location"
)

// State is the lifecycle state of a job.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateAborted
	StateComplete
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateAborted:
		return "aborted"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Reason records why a job was started.
type Reason string

const (
	ReasonDirty   Reason = "dirty"
	ReasonReindex Reason = "reindex"
	ReasonCompile Reason = "compile"
	ReasonStartup Reason = "startup"
)

// Job is one in-flight indexing unit, keyed by its source key. At most one
// job per key is active; a newer job for the same key supersedes the old one.
type Job struct {
	// ID identifies the job in logs; the source key is its registry slot.
	ID     string
	Source Source
	Reason Reason

	// Visited is the set of file ids this job has claimed. Guarded by the
	// project's visited-files mutex, not by the job.
	Visited map[location.FileID]struct{}

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJob creates a pending job for source.
func NewJob(source Source, reason Reason) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:      uuid.New().String(),
		Source:  source,
		Reason:  reason,
		Visited: make(map[location.FileID]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SourceKey returns the job's registry key.
func (j *Job) SourceKey() uint64 {
	return j.Source.Key()
}

// Context returns the job's cancellation context; backends must honor it.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel requests cooperative cancellation. The job will eventually finish or
// abort and release its visited file ids; there is no forced termination.
func (j *Job) Cancel() {
	j.state.Store(int32(StateAborted))
	j.cancel()
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.ctx.Err() != nil
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	return State(j.state.Load())
}

// SetState transitions the job. Aborted is sticky: a cancelled job never
// reports running or complete.
func (j *Job) SetState(s State) {
	for {
		cur := j.state.Load()
		if State(cur) == StateAborted && s != StateAborted {
			return
		}
		if j.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
