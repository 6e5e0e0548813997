package synctree

import "sync"

// serialQueue runs jobs strictly one at a time on a single worker.
//
// The waiting slot holds at most one not-yet-started job. Enqueue
// coalesces triggers that arrive while a job is already waiting, but a
// new job may still be accepted while a previous one is actively
// executing: the worker removes a job from the slot before running it,
// so the slot is free for the duration of the run. Each job re-reads
// current state at execution time, which bounds staleness to one job
// interval.
type serialQueue struct {
	jobs chan func()

	mu      sync.Mutex
	cond    *sync.Cond
	pending int // waiting + running
	closed  bool
	done    chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		jobs: make(chan func(), 1),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.worker()
	return q
}

func (q *serialQueue) worker() {
	defer close(q.done)
	for job := range q.jobs {
		job()
		q.mu.Lock()
		q.pending--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// Enqueue submits a job unless one is already waiting or the queue is
// closed. It reports whether the job was accepted.
func (q *serialQueue) Enqueue(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		q.pending++
		return true
	default:
		return false
	}
}

// Flush blocks until no job is waiting or running.
func (q *serialQueue) Flush() {
	q.mu.Lock()
	for q.pending > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close rejects further jobs, drains the queue and stops the worker.
func (q *serialQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.pending > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
	close(q.jobs)
	<-q.done
}
