// Package reactor implements the single-goroutine dispatch boundary user
// completion callbacks must run through. It mirrors the teacher's own
// worker-goroutine-reading-a-channel shape (bypass.go's worker()), applied
// here to "run this closure on the owning goroutine" instead of "run this
// HTTP job on any of N worker goroutines".
package reactor

import "sync"

// Reactor runs posted functions serially, off of the caller's goroutine.
// Manager uses it to deliver completions without ever invoking user
// callbacks directly from its own worker loop.
type Reactor interface {
	// Post enqueues fn to run on the reactor's goroutine. Post itself never
	// blocks on fn's execution.
	Post(fn func())
	// Close stops the reactor once all currently posted functions have run.
	// Post after Close is a no-op.
	Close()
}

// chanReactor is the default Reactor: a single goroutine draining a
// buffered job channel.
type chanReactor struct {
	jobs   chan func()
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New starts a Reactor backed by one goroutine and a job queue of the
// given capacity.
func New(queueSize int) Reactor {
	if queueSize <= 0 {
		queueSize = 128
	}
	r := &chanReactor{
		jobs:   make(chan func(), queueSize),
		closed: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *chanReactor) run() {
	defer r.wg.Done()
	for {
		select {
		case fn, ok := <-r.jobs:
			if !ok {
				return
			}
			fn()
		case <-r.closed:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case fn := <-r.jobs:
					fn()
				default:
					return
				}
			}
		}
	}
}

func (r *chanReactor) Post(fn func()) {
	select {
	case <-r.closed:
		return
	default:
	}
	select {
	case r.jobs <- fn:
	case <-r.closed:
	}
}

func (r *chanReactor) Close() {
	r.once.Do(func() {
		close(r.closed)
	})
	r.wg.Wait()
}
