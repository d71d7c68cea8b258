package main

import (
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
)

// manualScheduler is a Scheduler driven by the test. Posted tasks may come
// from any goroutine and only run inside RunPosted or Await; timers only fire
// inside Advance.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	posted []func()
	timers []*manualTimer
	notify chan struct{}
}

type manualTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		notify: make(chan struct{}, 1),
	}
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) Post(fn func()) {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// RunPosted runs queued tasks, including ones they post, and returns how many ran.
func (s *manualScheduler) RunPosted() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.mu.Unlock()
			return n
		}
		fn := s.posted[0]
		s.posted = s.posted[1:]
		s.mu.Unlock()
		fn()
		n++
	}
}

// Advance moves the clock by d, firing due timers in deadline order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		t := s.nextDue(target)
		if t == nil {
			break
		}
		s.mu.Lock()
		s.now = t.at
		s.mu.Unlock()
		t.stopped = true
		t.fn()
	}
	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

func (s *manualScheduler) nextDue(target time.Time) *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = slices.DeleteFunc(s.timers, func(t *manualTimer) bool { return t.stopped })
	var next *manualTimer
	for _, t := range s.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

// Pending returns the number of live timers.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Await blocks until some goroutine posts work, then runs it.
func (s *manualScheduler) Await(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.RunPosted() > 0 {
			return
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatal("timed out waiting for posted work")
		}
	}
}

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.ErrorLevel,
	})
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
