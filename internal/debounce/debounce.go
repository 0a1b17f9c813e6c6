// Package debounce schedules per-key delayed tasks that are reset by every
// new trigger on the same key and can be cancelled before they fire.
package debounce

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The real clock wraps time.AfterFunc; tests use
// ManualClock to fire timers without waiting.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the runtime timers.
func RealClock() Clock {
	return realClock{}
}

type task struct {
	timer Timer
	gen   uint64
	fn    func()
}

// Group coalesces triggers per key: only the last trigger within the delay
// runs, once the key has been quiet for the whole delay.
type Group[K comparable] struct {
	mu    sync.Mutex
	clock Clock
	delay time.Duration
	gen   uint64
	tasks map[K]*task
}

// New creates a debounce group.
func New[K comparable](clock Clock, delay time.Duration) *Group[K] {
	if clock == nil {
		clock = RealClock()
	}
	return &Group[K]{
		clock: clock,
		delay: delay,
		tasks: make(map[K]*task),
	}
}

// Delay returns the quiet interval a key needs before its task runs.
func (g *Group[K]) Delay() time.Duration {
	return g.delay
}

// Trigger (re)schedules fn for key, replacing any task still waiting.
func (g *Group[K]) Trigger(key K, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.tasks[key]; ok {
		t.timer.Stop()
	}

	g.gen++
	gen := g.gen
	t := &task{gen: gen, fn: fn}
	t.timer = g.clock.AfterFunc(g.delay, func() { g.fire(key, gen) })
	g.tasks[key] = t
}

// fire runs the task unless it was cancelled or superseded after the timer
// had already been released.
func (g *Group[K]) fire(key K, gen uint64) {
	g.mu.Lock()
	t, ok := g.tasks[key]
	if !ok || t.gen != gen {
		g.mu.Unlock()
		return
	}
	delete(g.tasks, key)
	g.mu.Unlock()

	t.fn()
}

// Cancel drops the waiting task for key. It reports whether one was pending.
func (g *Group[K]) Cancel(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(g.tasks, key)
	return true
}

// Flush runs the waiting task for key immediately on the calling goroutine.
func (g *Group[K]) Flush(key K) bool {
	g.mu.Lock()
	t, ok := g.tasks[key]
	if ok {
		t.timer.Stop()
		delete(g.tasks, key)
	}
	g.mu.Unlock()

	if ok {
		t.fn()
	}
	return ok
}

// FlushAll runs every waiting task immediately, in no particular order.
func (g *Group[K]) FlushAll() int {
	g.mu.Lock()
	pending := make([]*task, 0, len(g.tasks))
	for key, t := range g.tasks {
		t.timer.Stop()
		pending = append(pending, t)
		delete(g.tasks, key)
	}
	g.mu.Unlock()

	for _, t := range pending {
		t.fn()
	}
	return len(pending)
}

// Pending reports whether key has a task waiting.
func (g *Group[K]) Pending(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tasks[key]
	return ok
}

// Len returns the number of waiting tasks.
func (g *Group[K]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Stop cancels every waiting task.
func (g *Group[K]) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, t := range g.tasks {
		t.timer.Stop()
		delete(g.tasks, key)
	}
}
