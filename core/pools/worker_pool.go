package pools

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work
type Task func()

// PanicHandler receives the value recovered from a panicking task
type PanicHandler func(recovered any)

// WorkerPool runs tasks on a fixed number of goroutines.
//
// There is no queue: Submit hands a task directly to an idle worker and
// blocks while all of them are busy, so a caller feeding the pool from an
// accept loop stops accepting when the pool is saturated.
type WorkerPool struct {
	numWorkers int
	tasks      chan Task
	quit       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	onPanic    PanicHandler

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksPanicked  atomic.Uint64
		busy           atomic.Int64
	}
}

// Option configures a WorkerPool
type Option func(*WorkerPool)

// WithPanicHandler sets the function called when a task panics. The worker
// survives either way.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *WorkerPool) {
		p.onPanic = h
	}
}

// NewWorkerPool creates a pool of numWorkers goroutines. A non-positive size
// falls back to runtime.NumCPU().
func NewWorkerPool(numWorkers int, opts ...Option) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan Task),
		quit:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(pool)
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker()
	}

	return pool
}

// Submit blocks until a worker accepts task. It returns false, without
// running the task, once the pool is closed.
func (p *WorkerPool) Submit(task Task) bool {
	select {
	case <-p.quit:
		return false
	default:
	}

	select {
	case p.tasks <- task:
		p.stats.tasksSubmitted.Add(1)
		return true
	case <-p.quit:
		return false
	}
}

// worker is the main loop for a worker goroutine
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		case <-p.quit:
			return
		}
	}
}

func (p *WorkerPool) run(task Task) {
	p.stats.busy.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.stats.tasksPanicked.Add(1)
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
		p.stats.busy.Add(-1)
		p.stats.tasksCompleted.Add(1)
	}()

	task()
}

// Close stops accepting tasks and waits for running tasks to finish.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return p.numWorkers
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		Busy:           int(p.stats.busy.Load()),
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksPanicked:  p.stats.tasksPanicked.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	Busy           int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksPanicked  uint64
}
