package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDispatcherBusy is returned by Submit when the queue is at capacity.
	ErrDispatcherBusy = errors.New("dispatcher queue is full")
	// ErrDispatcherStopped is delivered to jobs that never ran because of Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	// ErrJobCanceled is delivered to a queued job removed by Cancel.
	ErrJobCanceled = errors.New("job canceled before it started")
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher schedules jobs onto an elastic worker pool. Jobs of one session
// run in submission order; sessions are served round robin.
type Dispatcher struct {
	pool     *jobChannelPool
	logger   *zap.Logger
	capacity int

	mu        sync.Mutex
	queues    map[string]*sessionQueue // job queue for each session
	ready     *list.List               // LRU queue storing session IDs
	positions map[string]*list.Element
	pending   int
	stopped   bool

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	logger = logger.With(zap.String("component", "dispatcher"))
	pool := newJobChannelPool(minWorkers, maxWorkers, idleTimeout, logger)

	d := &Dispatcher{
		pool:      pool,
		logger:    logger,
		capacity:  queueSize,
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	// warm up
	for i := 0; i < pool.min; i++ {
		pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues fn for the session without blocking. The returned channel
// yields exactly one value once the job finished or was dropped.
func (d *Dispatcher) Submit(sessionID string, fn func()) (<-chan error, error) {
	if fn == nil {
		return nil, errors.New("job function required")
	}
	job := newJob(sessionID, fn)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrDispatcherStopped
	}
	if d.pending >= d.capacity {
		d.mu.Unlock()
		return nil, ErrDispatcherBusy
	}
	d.enqueueLocked(job)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return job.result, nil
}

// Pending reports jobs waiting for a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

// Cancel drops a job that is still queued. result identifies the job as
// returned by Submit. It reports false once the job reached a worker.
func (d *Dispatcher) Cancel(sessionID string, result <-chan error) bool {
	d.mu.Lock()
	q := d.queues[sessionID]
	if q == nil {
		d.mu.Unlock()
		return false
	}
	idx := -1
	for i, job := range q.jobs {
		if job.result == result {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return false
	}
	job := q.jobs[idx]
	q.jobs = append(q.jobs[:idx], q.jobs[idx+1:]...)
	d.pending--
	if len(q.jobs) == 0 {
		if elem, ok := d.positions[sessionID]; ok {
			d.ready.Remove(elem)
			delete(d.positions, sessionID)
		}
		delete(d.queues, sessionID)
	}
	d.mu.Unlock()

	job.result <- ErrJobCanceled
	return true
}

// Stop shuts the dispatcher down. Queued jobs receive ErrDispatcherStopped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()

		close(d.quit)
		d.pool.close()
		<-d.done

		d.mu.Lock()
		var dropped []Job
		for _, q := range d.queues {
			dropped = append(dropped, q.jobs...)
		}
		d.queues = make(map[string]*sessionQueue)
		d.ready.Init()
		d.positions = make(map[string]*list.Element)
		d.pending = 0
		d.mu.Unlock()

		for _, job := range dropped {
			job.result <- ErrDispatcherStopped
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		default:
		}
		// dispatch one job of the session in front of the LRU queue
		if d.dispatchOne() {
			continue
		}
		select {
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueLocked(job Job) {
	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	d.pending++
	if q.enqueued {
		// session already waiting for its turn
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

// dispatchOne takes the first session in the LRU and hands its oldest job to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	d.pending--
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, ok := d.pool.acquire()
	if !ok {
		job.result <- ErrDispatcherStopped
		return false
	}
	d.logger.Debug("assign job",
		zap.String("session_id", sessionID),
		zap.Int("worker", d.pool.workerID(workerChan)),
	)
	workerChan <- job
	return true
}
