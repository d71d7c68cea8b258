package main

import (
	"bytes"
	"time"
)

const (
	// defaultFlushWindow approximates 30 renders per second.
	defaultFlushWindow = 32 * time.Millisecond
	// defaultFlushChunks bounds the render cost of a single flush.
	defaultFlushChunks = 100
)

// Batcher buffers inbound chunks and hands them to the surface in
// time-boxed, size-bounded batches. Byte order is preserved; only the
// timing of delivery changes.
type Batcher struct {
	sched     Scheduler
	window    time.Duration
	maxChunks int

	queue   [][]byte
	timer   Timer
	stopped bool

	write   func([]byte)
	drained func()
}

// NewBatcher creates a batcher that calls write for every flush and drained
// once per burst, after the queue is empty again. Zero window or maxChunks
// fall back to the defaults.
func NewBatcher(sched Scheduler, window time.Duration, maxChunks int, write func([]byte), drained func()) *Batcher {
	if window <= 0 {
		window = defaultFlushWindow
	}
	if maxChunks <= 0 {
		maxChunks = defaultFlushChunks
	}
	return &Batcher{
		sched:     sched,
		window:    window,
		maxChunks: maxChunks,
		write:     write,
		drained:   drained,
	}
}

// Push queues chunk. The first push into an empty queue opens the coalescing window.
func (b *Batcher) Push(chunk []byte) {
	if len(chunk) == 0 || b.stopped {
		return
	}
	b.queue = append(b.queue, chunk)
	if b.timer == nil {
		b.timer = b.sched.AfterFunc(b.window, b.flush)
	}
}

// Pending returns the number of queued chunks.
func (b *Batcher) Pending() int {
	return len(b.queue)
}

// Stop cancels any scheduled flush and discards the queue. Pushes after
// Stop are ignored.
func (b *Batcher) Stop() {
	b.stopped = true
	stopTimer(&b.timer)
	b.queue = nil
}

func (b *Batcher) flush() {
	b.timer = nil
	if len(b.queue) == 0 {
		return
	}

	n := min(len(b.queue), b.maxChunks)
	size := 0
	for _, c := range b.queue[:n] {
		size += len(c)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for _, c := range b.queue[:n] {
		buf.Write(c)
	}

	rest := b.queue[n:]
	if len(rest) == 0 {
		b.queue = nil
	} else {
		b.queue = append(make([][]byte, 0, len(rest)), rest...)
	}

	if b.write != nil {
		b.write(buf.Bytes())
	}
	if b.stopped {
		return
	}

	if len(b.queue) > 0 {
		// Backlog drains without waiting for another window.
		b.timer = b.sched.AfterFunc(0, b.flush)
		return
	}
	if b.drained != nil {
		b.drained()
	}
}
