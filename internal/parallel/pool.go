package parallel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a fixed set of goroutines executing screen tiles.
//
// Each worker owns a queue. An idle worker steals from the other queues
// before blocking on its own, which keeps slow tiles (deep rays, shadows)
// from serializing a frame.
//
// WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	queues  []chan func()

	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewWorkerPool starts a pool. If workers is 0 or negative, GOMAXPROCS is
// used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case job := <-own:
			job()
		default:
			if job := p.steal(id); job != nil {
				job()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case job := <-own:
				job()
			}
		}
	}
}

func (p *WorkerPool) drain(q chan func()) {
	for {
		select {
		case job := <-q:
			job()
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case job := <-p.queues[i]:
			return job
		default:
		}
	}
	return nil
}

// Run executes jobs across the workers and waits until every job has
// either run or been skipped.
//
// Jobs not yet started when ctx is done are skipped; jobs already running
// finish. Run returns ctx.Err() if any job was skipped, ErrPoolClosed if
// the pool was closed, and nil otherwise.
func (p *WorkerPool) Run(ctx context.Context, jobs []func()) error {
	if !p.running.Load() {
		return ErrPoolClosed
	}
	if len(jobs) == 0 {
		return ctx.Err()
	}

	var (
		wg      sync.WaitGroup
		skipped atomic.Bool
	)
	wg.Add(len(jobs))
	for i, fn := range jobs {
		job := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				skipped.Store(true)
				return
			}
			fn()
		}
		select {
		case p.queues[i%p.workers] <- job:
		case <-p.done:
			skipped.Store(true)
			wg.Done()
		case <-ctx.Done():
			skipped.Store(true)
			wg.Done()
		}
	}
	wg.Wait()

	if !skipped.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrPoolClosed
}

// Submit queues a single job on the shortest queue. It reports false if the
// pool is closed.
func (p *WorkerPool) Submit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	idx := 0
	for i := 1; i < p.workers; i++ {
		if len(p.queues[i]) < len(p.queues[idx]) {
			idx = i
		}
	}
	select {
	case p.queues[idx] <- fn:
		return true
	case <-p.done:
		return false
	}
}

// Close stops accepting work, runs what is queued and stops the workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }
