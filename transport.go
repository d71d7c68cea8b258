package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// ErrNotOpen is returned by Send while the transport cannot deliver input.
var ErrNotOpen = errors.New("transport not open")

// State is the transport lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateReconnecting State = "reconnecting"
)

func (s State) String() string {
	return string(s)
}

// StateEvent describes a transition. Exhausted is set once automatic
// reconnection has given up; the transport then stays Closed until
// Reconnect is called.
type StateEvent struct {
	State     State
	Attempt   int
	Delay     time.Duration
	Exhausted bool
	Err       error
}

// Channel is one duplex connection to a session endpoint.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a channel for a session; the grid size is part of the handshake.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, size GridSize) (Channel, error)
}

// Resizer notifies the server of a new grid size. Calls are fire-and-forget.
type Resizer interface {
	Resize(ctx context.Context, sessionID string, size GridSize) error
}

// TransportConfig tunes reconnection and resize debouncing.
type TransportConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	ResizeDebounce time.Duration
}

// DefaultTransportConfig: 1s doubling up to 30s, 10 attempts, 200ms resize debounce.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    10,
		ResizeDebounce: 200 * time.Millisecond,
	}
}

func (c TransportConfig) withDefaults() TransportConfig {
	d := DefaultTransportConfig()
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ResizeDebounce <= 0 {
		c.ResizeDebounce = d.ResizeDebounce
	}
	return c
}

// Backoff returns the delay before automatic attempt n (n starts at 1).
func (c TransportConfig) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := c.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return min(delay, c.MaxDelay)
}

// Transport owns the channel of one session and runs its connect/reconnect
// state machine. All methods must be called on the event loop; dial and read
// goroutines only post results back, tagged with the generation they belong
// to so that events from a torn-down channel are ignored.
type Transport struct {
	id      string
	ctx     context.Context
	sched   Scheduler
	dialer  Dialer
	resizer Resizer
	log     pslog.Logger
	cfg     TransportConfig

	// refit re-measures the grid when the channel opens.
	refit func() GridSize

	state       State
	gen         uint64
	ch          Channel
	cancelDial  context.CancelFunc
	attempt     int
	intentional bool
	exhausted   bool
	size        GridSize

	retry        Timer
	resizeTimer  Timer
	dataSubs     subscribers[[]byte]
	stateSubs    subscribers[StateEvent]
	errorSubs    subscribers[error]
	lastStateEvt StateEvent

	// Resize notifications run on one worker goroutine; only the latest
	// unsent size is kept.
	resizeMu      sync.Mutex
	resizeNext    GridSize
	resizeQueued  bool
	resizeRunning bool
}

// NewTransport creates an idle transport for sessionID.
func NewTransport(ctx context.Context, sessionID string, sched Scheduler, dialer Dialer, resizer Resizer, log pslog.Logger, cfg TransportConfig) *Transport {
	return &Transport{
		id:           sessionID,
		ctx:          ctx,
		sched:        sched,
		dialer:       dialer,
		resizer:      resizer,
		log:          log.With("session", sessionID),
		cfg:          cfg.withDefaults(),
		state:        StateIdle,
		size:         GridSize{Cols: 80, Rows: 24},
		lastStateEvt: StateEvent{State: StateIdle},
	}
}

// SetRefit installs the grid re-measure hook used when the channel opens.
func (t *Transport) SetRefit(fn func() GridSize) {
	t.refit = fn
}

// OnData subscribes to inbound data. The returned func unsubscribes.
func (t *Transport) OnData(fn func([]byte)) func() {
	return t.dataSubs.Add(fn)
}

// OnStateChange subscribes to state transitions.
func (t *Transport) OnStateChange(fn func(StateEvent)) func() {
	return t.stateSubs.Add(fn)
}

// OnError subscribes to transport errors. Errors never change state by themselves.
func (t *Transport) OnError(fn func(error)) func() {
	return t.errorSubs.Add(fn)
}

// State returns the current state.
func (t *Transport) State() State {
	return t.state
}

// LastEvent returns the most recent state event.
func (t *Transport) LastEvent() StateEvent {
	return t.lastStateEvt
}

// Attempt returns the reconnect attempt counter.
func (t *Transport) Attempt() int {
	return t.attempt
}

// Exhausted reports whether automatic reconnection gave up.
func (t *Transport) Exhausted() bool {
	return t.exhausted
}

// Size returns the grid size the transport advertises.
func (t *Transport) Size() GridSize {
	return t.size
}

// Connect starts the first connection. It is a no-op unless the transport is idle.
func (t *Transport) Connect() {
	if t.state != StateIdle {
		return
	}
	t.intentional = false
	t.connect()
}

// Reconnect tears down any channel and connects afresh with the attempt
// counter reset. It is the only way out of exhaustion.
func (t *Transport) Reconnect() {
	t.log.Info("reconnect requested", "state", t.state)
	t.teardown()
	t.intentional = false
	t.attempt = 0
	t.exhausted = false
	t.connect()
}

// Close closes the channel intentionally. No reconnect follows.
func (t *Transport) Close() {
	if t.state == StateClosed && t.intentional {
		return
	}
	had := t.ch != nil
	t.teardown()
	if had {
		t.setState(StateEvent{State: StateClosing})
	}
	t.setState(StateEvent{State: StateClosed})
}

// Send writes input to the channel.
func (t *Transport) Send(data []byte) error {
	if t.state != StateOpen || t.ch == nil {
		return ErrNotOpen
	}
	if err := t.ch.WriteMessage(data); err != nil {
		t.reportError(fmt.Errorf("send: %w", err))
		return fmt.Errorf("send to %s: %w", t.id, err)
	}
	return nil
}

// Resize records the latest grid size. While open, the server is notified
// after the debounce window with whatever size is current by then; otherwise
// the size rides along with the next handshake.
func (t *Transport) Resize(size GridSize) {
	if !size.Valid() {
		return
	}
	t.size = size
	if t.state != StateOpen {
		return
	}
	stopTimer(&t.resizeTimer)
	t.resizeTimer = t.sched.AfterFunc(t.cfg.ResizeDebounce, func() {
		t.resizeTimer = nil
		if t.state == StateOpen {
			t.notifyResize(t.size)
		}
	})
}

// teardown marks the close intentional before touching the channel, so a
// close event already in flight cannot be mistaken for an abnormal one.
func (t *Transport) teardown() {
	t.intentional = true
	stopTimer(&t.retry)
	stopTimer(&t.resizeTimer)
	if t.cancelDial != nil {
		t.cancelDial()
		t.cancelDial = nil
	}
	if t.ch != nil {
		ch := t.ch
		t.ch = nil
		if err := ch.Close(); err != nil {
			t.log.Debug("channel close", "err", err)
		}
	}
	t.gen++
}

func (t *Transport) connect() {
	t.gen++
	gen := t.gen
	size := t.size
	ctx, cancel := context.WithCancel(t.ctx)
	t.cancelDial = cancel
	t.setState(StateEvent{State: StateConnecting, Attempt: t.attempt})
	t.log.Debug("dialing", "size", size.String(), "attempt", t.attempt)

	go func() {
		ch, err := t.dialer.Dial(ctx, t.id, size)
		t.sched.Post(func() { t.handleDial(gen, ch, err) })
	}()
}

func (t *Transport) handleDial(gen uint64, ch Channel, err error) {
	if gen != t.gen {
		if ch != nil {
			ch.Close()
		}
		return
	}
	if t.cancelDial != nil {
		t.cancelDial = nil
	}
	if err != nil {
		t.log.Warn("dial failed", "err", err, "attempt", t.attempt)
		t.reportError(err)
		t.handleClose(gen, err)
		return
	}

	t.ch = ch
	t.attempt = 0
	t.exhausted = false
	if t.refit != nil {
		if size := t.refit(); size.Valid() {
			t.size = size
		}
	}
	t.setState(StateEvent{State: StateOpen})
	t.log.Info("session open", "size", t.size.String())

	stopTimer(&t.resizeTimer)
	t.notifyResize(t.size)

	go t.readLoop(gen, ch)
}

func (t *Transport) readLoop(gen uint64, ch Channel) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			t.sched.Post(func() { t.handleClose(gen, err) })
			return
		}
		if len(data) == 0 {
			continue
		}
		t.sched.Post(func() { t.handleData(gen, data) })
	}
}

func (t *Transport) handleData(gen uint64, data []byte) {
	if gen != t.gen || t.state != StateOpen {
		return
	}
	t.dataSubs.Emit(data)
}

func (t *Transport) handleClose(gen uint64, err error) {
	if gen != t.gen {
		return
	}
	t.ch = nil
	t.setState(StateEvent{State: StateClosed, Err: err})
	if t.intentional {
		return
	}
	t.log.Warn("session closed abnormally", "err", err)
	t.scheduleRetry(err)
}

func (t *Transport) scheduleRetry(cause error) {
	t.attempt++
	if t.attempt > t.cfg.MaxAttempts {
		t.attempt = t.cfg.MaxAttempts
		t.exhausted = true
		t.log.Error("reconnect attempts exhausted", "attempts", t.cfg.MaxAttempts)
		t.setState(StateEvent{State: StateClosed, Attempt: t.attempt, Exhausted: true, Err: cause})
		return
	}
	delay := t.cfg.Backoff(t.attempt)
	t.setState(StateEvent{State: StateReconnecting, Attempt: t.attempt, Delay: delay, Err: cause})
	t.retry = t.sched.AfterFunc(delay, func() {
		t.retry = nil
		if t.intentional {
			return
		}
		t.connect()
	})
}

// notifyResize queues size for the server. Calls are sent one at a time
// in order, and a size superseded while a call is in flight is skipped.
func (t *Transport) notifyResize(size GridSize) {
	if t.resizer == nil {
		return
	}
	t.resizeMu.Lock()
	defer t.resizeMu.Unlock()
	t.resizeNext = size
	t.resizeQueued = true
	if !t.resizeRunning {
		t.resizeRunning = true
		go t.sendResizes()
	}
}

func (t *Transport) sendResizes() {
	for {
		t.resizeMu.Lock()
		if !t.resizeQueued {
			t.resizeRunning = false
			t.resizeMu.Unlock()
			return
		}
		size := t.resizeNext
		t.resizeQueued = false
		t.resizeMu.Unlock()

		ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
		if err := t.resizer.Resize(ctx, t.id, size); err != nil {
			t.log.Warn("resize notification failed", "size", size.String(), "err", err)
		}
		cancel()
	}
}

func (t *Transport) reportError(err error) {
	t.errorSubs.Emit(err)
}

func (t *Transport) setState(ev StateEvent) {
	t.state = ev.State
	t.lastStateEvt = ev
	t.stateSubs.Emit(ev)
}
