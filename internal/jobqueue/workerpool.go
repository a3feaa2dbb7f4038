package jobqueue

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// DoWorkFunc executes one unit of Work. It is invoked on a worker goroutine;
// panics and errors are recovered/logged by the pool so a single bad unit of
// work never kills a worker.
type DoWorkFunc func(work Work)

// WorkerPool is a fixed-size pool of goroutines draining a shared work
// channel, modeled on the teacher's queue.WorkerPool but generalized from
// goqite message polling to the spec's opaque Work submissions.
type WorkerPool struct {
	doWork  DoWorkFunc
	logger  arbor.ILogger
	queue   chan Work
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewWorkerPool creates a pool of n workers, each invoking doWork for
// submissions made via Submit. The queue is buffered so Submit never blocks
// the submitting goroutine under ordinary load.
func NewWorkerPool(n int, doWork DoWorkFunc, logger arbor.ILogger) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{
		doWork: doWork,
		logger: logger,
		queue:  make(chan Work, n*64),
	}
}

// Start launches the worker goroutines. Safe to call once; subsequent calls
// are no-ops.
func (p *WorkerPool) Start(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().Int("workers", n).Msg("job worker pool started")
}

// Submit enqueues work for execution by one of the pool's workers.
func (p *WorkerPool) Submit(work Work) {
	p.queue <- work
}

// Shutdown closes the work queue and waits for in-flight work to drain.
// No further Submit calls are allowed after Shutdown.
func (p *WorkerPool) Shutdown() {
	close(p.queue)
	p.wg.Wait()
	p.logger.Info().Msg("job worker pool stopped")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for work := range p.queue {
		p.runOne(id, work)
	}
}

func (p *WorkerPool) runOne(workerID int, work Work) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("recovered from panic in job worker")
		}
	}()
	p.doWork(work)
}
