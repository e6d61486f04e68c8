package indexer

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"xref/internal/location"
	"xref/internal/logging"
)

// VisitController is the project-side surface a running backend uses to claim
// first-visit rights on files. Two concurrent jobs walking overlapping include
// trees use it to avoid re-parsing the same header.
type VisitController interface {
	// VisitFile claims fileID for the job with sourceKey. Returns true on
	// first claim; a false return means another job owns the file.
	VisitFile(fileID location.FileID, path string, sourceKey uint64) bool
	// ReleaseFileIDs returns claimed ids, typically when a job aborts.
	ReleaseFileIDs(ids []location.FileID)
}

// Backend parses a translation unit and produces the indexed result. It is
// the external compiler front-end; the core only drives it.
type Backend interface {
	Run(job *Job, visits VisitController) (*Result, error)
}

// Completion is delivered for every submitted job, successful or not.
type Completion struct {
	Job    *Job
	Result *Result
	Err    error
}

// Pool runs index jobs on a bounded set of workers and reports completions on
// a channel drained by the project run loop.
type Pool struct {
	backend Backend
	visits  VisitController
	logger  *logging.Logger

	jobs        chan *Job
	completions chan Completion
	done        chan struct{}
	wg          sync.WaitGroup
	workerCount int
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// DefaultPoolConfig sizes the pool to the machine.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:   runtime.GOMAXPROCS(0),
		QueueSize: 256,
	}
}

// NewPool creates a stopped pool.
func NewPool(backend Backend, visits VisitController, config PoolConfig, logger *logging.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	return &Pool{
		backend:     backend,
		visits:      visits,
		logger:      logger,
		jobs:        make(chan *Job, config.QueueSize),
		completions: make(chan Completion, config.QueueSize),
		done:        make(chan struct{}),
		workerCount: config.Workers,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("Starting indexer pool", map[string]interface{}{
		"workers": p.workerCount,
	})
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels queued work and waits for running jobs to finish or abort.
func (p *Pool) Stop(timeout time.Duration) error {
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("indexer pool shutdown timed out after %v", timeout)
	}
}

// Submit enqueues a job, blocking while the queue is full. Returns false
// only if the pool is shutting down.
func (p *Pool) Submit(job *Job) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-p.done:
		return false
	}
}

// Completions returns the channel carrying finished jobs.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			p.runJob(job)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) runJob(job *Job) {
	if job.Cancelled() {
		p.deliver(Completion{Job: job, Err: job.Context().Err()})
		return
	}

	job.SetState(StateRunning)
	start := time.Now()
	result, err := p.backend.Run(job, p.visits)
	duration := time.Since(start)

	if err != nil {
		if job.Cancelled() {
			p.logger.Debug("Index job aborted", map[string]interface{}{
				"jobId":  job.ID,
				"source": job.Source.Path,
			})
		} else {
			p.logger.Warn("Index job failed", map[string]interface{}{
				"jobId":    job.ID,
				"source":   job.Source.Path,
				"error":    err.Error(),
				"duration": duration.String(),
			})
		}
		p.deliver(Completion{Job: job, Err: err})
		return
	}

	job.SetState(StateComplete)
	p.logger.Debug("Index job finished", map[string]interface{}{
		"jobId":    job.ID,
		"source":   job.Source.Path,
		"visited":  len(result.Visited),
		"duration": duration.String(),
	})
	p.deliver(Completion{Job: job, Result: result})
}

// deliver never drops a completion; the run loop must keep draining even
// during shutdown so aborted jobs can release their file ids.
func (p *Pool) deliver(c Completion) {
	p.completions <- c
}
