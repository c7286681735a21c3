package sessionview

import (
	"sync"
	"time"
)

// Revealer paces the display of a list, one more item per step. Starting a
// new reveal cancels the running one. Frames carry the reveal id; a frame may
// still arrive after Stop or Finish, so receivers drop frames for a reveal
// they have already seen finish.
type Revealer struct {
	step    time.Duration
	onFrame func(id uint64, shown int, done bool)

	mu     sync.Mutex
	id     uint64
	total  int
	stop   chan struct{}
	active bool
}

func NewRevealer(step time.Duration, onFrame func(id uint64, shown int, done bool)) *Revealer {
	if step <= 0 {
		step = 150 * time.Millisecond
	}
	return &Revealer{step: step, onFrame: onFrame}
}

// Start begins revealing n items and returns the reveal id.
func (r *Revealer) Start(n int) uint64 {
	r.mu.Lock()
	r.cancelLocked()
	r.id++
	id := r.id
	r.total = n
	if n <= 0 {
		r.mu.Unlock()
		r.onFrame(id, 0, true)
		return id
	}
	stop := make(chan struct{})
	r.stop = stop
	r.active = true
	r.mu.Unlock()

	go r.run(id, n, stop)
	return id
}

func (r *Revealer) run(id uint64, n int, stop <-chan struct{}) {
	t := time.NewTicker(r.step)
	defer t.Stop()
	for shown := 1; shown <= n; shown++ {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		done := shown == n
		r.mu.Lock()
		if r.id != id || !r.active {
			r.mu.Unlock()
			return
		}
		if done {
			r.active = false
			r.stop = nil
		}
		r.mu.Unlock()
		r.onFrame(id, shown, done)
	}
}

// Finish stops the running reveal and reports it fully shown.
func (r *Revealer) Finish() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.cancelLocked()
	id, n := r.id, r.total
	r.mu.Unlock()
	r.onFrame(id, n, true)
}

// Stop abandons the running reveal without a final frame.
func (r *Revealer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Revealer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Revealer) cancelLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.active = false
}
