package storage

import (
	"sync"
	"time"

	"github.com/phuslu/log"
)

type task struct {
	timer *time.Timer
	fn    func() error
}

// Reaper runs deferred cleanup tasks on cancellable timers. Each task has
// a key; scheduling a key that is already pending replaces the old timer.
type Reaper struct {
	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
	logger  *log.Logger
}

// NewReaper creates an empty reaper.
func NewReaper(logger *log.Logger) *Reaper {
	return &Reaper{
		tasks:  make(map[string]*task),
		logger: logger,
	}
}

// Schedule runs fn after delay unless the key is cancelled or rescheduled first.
func (r *Reaper) Schedule(key string, delay time.Duration, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if old, ok := r.tasks[key]; ok {
		old.timer.Stop()
	}

	t := &task{fn: fn}
	t.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		// A reschedule may have replaced this task after the timer fired
		if r.tasks[key] != t {
			r.mu.Unlock()
			return
		}
		delete(r.tasks, key)
		r.mu.Unlock()

		r.run(key, fn)
	})
	r.tasks[key] = t
}

// Cancel drops a pending task. It reports whether one was pending.
func (r *Reaper) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(r.tasks, key)
	return true
}

// Pending reports whether key has a task waiting.
func (r *Reaper) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// Flush runs every pending task now, then refuses new ones.
func (r *Reaper) Flush() {
	r.mu.Lock()
	pending := make(map[string]func() error, len(r.tasks))
	for key, t := range r.tasks {
		if t.timer.Stop() {
			pending[key] = t.fn
		}
		delete(r.tasks, key)
	}
	r.stopped = true
	r.mu.Unlock()

	for key, fn := range pending {
		r.run(key, fn)
	}
}

func (r *Reaper) run(key string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn().Err(err).Str("task", key).Msg("deferred cleanup failed")
		return
	}
	r.logger.Debug().Str("task", key).Msg("deferred cleanup done")
}
