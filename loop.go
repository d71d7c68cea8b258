package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a cancellation token for a scheduled callback.
// Stop reports whether it prevented the callback from running.
type Timer interface {
	Stop() bool
}

// Scheduler is the only way components schedule work. Every callback it runs
// executes on the event loop goroutine, so component state needs no locking.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Post(fn func())
}

// EventLoop is the single UI thread. Network goroutines, signal watchers and
// the stdin reader never touch session state directly; they Post.
type EventLoop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	stopped atomic.Bool
}

// NewEventLoop creates a loop that does nothing until Run is called.
func NewEventLoop() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

// Now implements Scheduler.
func (l *EventLoop) Now() time.Time {
	return time.Now()
}

// Post queues fn to run on the loop. Tasks posted after the loop stopped are dropped.
func (l *EventLoop) Post(fn func()) {
	if l.stopped.Load() {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc schedules fn on the loop after d. The returned timer's Stop is
// atomic with respect to the loop: once Stop returns true, fn never runs.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return lt
}

// Call runs fn on the loop and waits for it to finish.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains tasks until ctx is cancelled. It must be called from exactly one goroutine.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.stopped.Store(true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.tasks
			l.tasks = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return nil
				}
				fn()
			}
		}
	}
}

type loopTimer struct {
	t     *time.Timer
	fired atomic.Bool
}

func (lt *loopTimer) Stop() bool {
	if lt.t != nil {
		lt.t.Stop()
	}
	return lt.fired.CompareAndSwap(false, true)
}

// stopTimer stops t if set and clears the caller's reference.
func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// subscribers is an ordered observer list whose Add returns a disposer.
type subscribers[T any] struct {
	next int
	fns  map[int]func(T)
	keys []int
}

func (s *subscribers[T]) Add(fn func(T)) func() {
	if s.fns == nil {
		s.fns = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.keys = append(s.keys, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			delete(s.fns, id)
			for i, k := range s.keys {
				if k == id {
					s.keys = append(s.keys[:i], s.keys[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *subscribers[T]) Emit(v T) {
	keys := append([]int(nil), s.keys...)
	for _, k := range keys {
		if fn, ok := s.fns[k]; ok {
			fn(v)
		}
	}
}
