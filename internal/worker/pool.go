package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type workerSlot struct {
	id       int
	ch       chan Job
	lastUsed time.Time
	parked   bool // sitting in p.idle
	retired  bool
}

// jobChannelPool hands out worker channels, growing up to max and shrinking
// back to min after idleTimeout.
type jobChannelPool struct {
	mu          sync.Mutex
	cond        *sync.Cond
	idle        []*workerSlot
	slots       map[chan Job]*workerSlot
	min         int
	max         int
	running     int
	nextID      int
	idleTimeout time.Duration
	closed      bool
	quit        chan struct{}
	logger      *zap.Logger
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration, logger *zap.Logger) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		slots:       make(map[chan Job]*workerSlot),
		min:         minWorkers,
		max:         maxWorkers,
		idleTimeout: idle,
		quit:        make(chan struct{}),
		logger:      logger,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnWorker adds a worker for warm up
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.max || p.closed {
		return
	}
	p.spawnLocked()
}

func (p *jobChannelPool) spawnLocked() {
	p.nextID++
	w := newWorker(p.nextID, p)
	p.slots[w.jobChannel] = &workerSlot{id: w.id, ch: w.jobChannel}
	p.running++
	w.start()
}

// acquire gets an idle worker, spawning one while below max.
// It returns false once the pool is closed.
func (p *jobChannelPool) acquire() (chan Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, false
		}
		if slot := p.popIdleLocked(); slot != nil {
			return slot.ch, true
		}
		if p.running < p.max {
			p.spawnLocked()
		}
		p.cond.Wait()
	}
}

// release puts a worker back into the idle queue. A false return tells the
// worker to exit.
func (p *jobChannelPool) release(ch chan Job) bool {
	p.mu.Lock()
	slot, ok := p.slots[ch]
	if !ok || slot.retired || p.closed {
		if ok {
			p.forgetLocked(ch, slot)
		}
		p.mu.Unlock()
		p.cond.Broadcast()
		return false
	}
	if !slot.parked {
		slot.parked = true
		slot.lastUsed = time.Now()
		p.idle = append(p.idle, slot)
	}
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if slot, ok := p.slots[ch]; ok {
		p.forgetLocked(ch, slot)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) forgetLocked(ch chan Job, slot *workerSlot) {
	delete(p.slots, ch)
	slot.retired = true
	if p.running > 0 {
		p.running--
	}
}

func (p *jobChannelPool) workerID(ch chan Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot, ok := p.slots[ch]; ok {
		return slot.id
	}
	return 0
}

func (p *jobChannelPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// popIdleLocked returns an idle worker if the pool has one
func (p *jobChannelPool) popIdleLocked() *workerSlot {
	for len(p.idle) > 0 {
		slot := p.idle[0]
		p.idle = p.idle[1:]
		if slot.retired {
			continue
		}
		slot.parked = false
		return slot
	}
	return nil
}

// purgeStaleWorkers checks for idle workers once per idleTimeout
func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.idleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.shutdownExpired()
		}
	}
}

// shutdownExpired retires idle workers above min that sat unused for idleTimeout
func (p *jobChannelPool) shutdownExpired() {
	var stale []*workerSlot
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, slot := range p.idle {
		if slot.retired {
			continue
		}
		if now.Sub(slot.lastUsed) >= p.idleTimeout && p.running-len(stale) > p.min {
			slot.retired = true
			slot.parked = false
			stale = append(stale, slot)
			continue
		}
		remaining = append(remaining, slot)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, slot := range stale {
		p.logger.Debug("retire idle worker", zap.Int("worker", slot.id))
		slot.ch <- Job{stop: true}
	}
}

// close stops the idle workers; busy workers exit after their current job.
func (p *jobChannelPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	idle := p.idle
	p.idle = nil
	for _, slot := range idle {
		slot.retired = true
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, slot := range idle {
		slot.ch <- Job{stop: true}
	}
}
