// Package worker provides an asynchronous worker pool for the memory
// engine's off-path work: event publishing, index maintenance, and
// criticality writebacks.
//
// The pool decouples that work from the response hot path; a full queue
// drops the job rather than blocking a caller.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

var (
	defaultNumWorkers   uint = 3
	defaultQueueSize    uint = 256
	defaultJobTimeout        = 10 * time.Second
)

// Job is a unit of background work.
type Job struct {
	// Name identifies the job kind in logs.
	Name string

	// Fn does the work. The context carries the pool's per-job timeout.
	Fn func(ctx context.Context) error
}

// Config holds the pool's tuning knobs.
type Config struct {
	// NumWorkers is the number of background workers (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds each job's execution (defaults to 10s).
	JobTimeout time.Duration

	// Logger receives job lifecycle logs.
	Logger *slog.Logger
}

// Pool runs jobs asynchronously with bounded concurrency.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool creates a pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c == nil {
		c = &Config{}
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job. Returns true if enqueued, false if the queue is
// full and the job was dropped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued", "job", job.Name)
		return true
	default:
		p.logger.Error("job dropped, queue full", "job", job.Name)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call during graceful shutdown after the serving surface has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.process(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	if err := job.Fn(ctx); err != nil {
		p.logger.Warn("job failed", "job", job.Name, "error", err)
	}
}
