package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Worker pool errors.
var (
	ErrQueueFull      = errors.New("auth: worker queue full")
	ErrPoolNotStarted = errors.New("auth: worker pool not started")
	ErrPoolStopped    = errors.New("auth: worker pool stopped")
	ErrStopTimeout    = errors.New("auth: worker pool stop timed out")
)

// pool is a fixed-size worker pool with a bounded queue and a
// non-blocking Submit. Credential checks are CPU-heavy (Argon2id) or
// network-bound (directory), so they never run on the caller's goroutine.
type pool struct {
	workers int
	work    chan func(context.Context)
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	dropped   atomic.Int64
}

func newPool(workers, queueSize int) *pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &pool{
		workers: workers,
		work:    make(chan func(context.Context), queueSize),
	}
}

// start launches the workers. They exit when ctx is cancelled or stop is called.
func (p *pool) start(ctx context.Context) {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if p.started {
		return
	}
	for range p.workers {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
}

// submit queues a job without blocking.
func (p *pool) submit(job func(context.Context)) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.work <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// stop closes the queue and waits up to timeout for in-flight jobs.
func (p *pool) stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	started := p.started
	p.lifecycleMu.Unlock()
	if !started {
		return nil
	}
	p.closeQueue()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// closeQueue rejects further submits. Safe to call more than once.
func (p *pool) closeQueue() {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.work)
	}
}

// run executes jobs until the queue is closed. Once ctx is done the queue
// is closed and every job still in it runs with the cancelled context, so
// each queued job still delivers its result.
func (p *pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.closeQueue()
			for job := range p.work {
				job(ctx)
			}
			return
		case job, ok := <-p.work:
			if !ok {
				return
			}
			job(ctx)
		}
	}
}
