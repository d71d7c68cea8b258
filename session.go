package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"
)

const (
	settleFitDelay = 50 * time.Millisecond
	localEchoDelay = 100 * time.Millisecond
)

// SessionDeps are the collaborators shared by every session of a workspace.
type SessionDeps struct {
	Sched     Scheduler
	Dialer    Dialer
	Resizer   Resizer
	Registry  *Registry
	Notifier  FailureNotifier
	Log       pslog.Logger
	Transport TransportConfig
	Settings  SettingsConfig
}

// Session glues one session's components together and owns their lifetime
// between Mount and Unmount. All methods run on the event loop.
type Session struct {
	id   string
	ctx  context.Context
	deps SessionDeps
	log  pslog.Logger

	box       func() PixelBox
	fitter    *GridFitter
	surface   Surface
	composer  Composer
	transport *Transport
	batcher   *Batcher
	autopilot *Autopilot

	mounted     bool
	focused     bool
	unregister  func()
	disposers   []func()
	settleFit   Timer
	echoTimer   Timer
	pendingEcho []byte
	echoTail    []byte // output since armEcho that may hold the start of the echo

	// onChange is called after every transport state change, onFlush after
	// every batch written to the surface.
	onChange func(*Session)
	onFlush  func(*Session)
}

// NewSession builds an unmounted session. box measures the area the surface
// is allowed to occupy.
func NewSession(ctx context.Context, id string, surface Surface, box func() PixelBox, deps SessionDeps) *Session {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	s := &Session{
		id:      id,
		ctx:     ctx,
		deps:    deps,
		log:     deps.Log.With("session", id),
		box:     box,
		fitter:  NewGridFitter(deps.Settings.FontMetrics(), GridSize{}),
		surface: surface,
	}
	s.transport = NewTransport(ctx, id, deps.Sched, deps.Dialer, deps.Resizer, deps.Log, deps.Transport)
	s.transport.SetRefit(func() GridSize {
		s.fit()
		return s.fitter.Last()
	})
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Transport() *Transport {
	return s.transport
}

func (s *Session) Surface() Surface {
	return s.surface
}

func (s *Session) Autopilot() *Autopilot {
	return s.autopilot
}

func (s *Session) Mounted() bool {
	return s.mounted
}

// Size returns the most recently fitted grid.
func (s *Session) Size() GridSize {
	return s.fitter.Last()
}

// Mount resets the surface, fits the grid, publishes the handle and opens the
// transport. The handle is registered before anything else can observe the
// session, so a second mount of the same id fails with ErrAlreadyMounted.
func (s *Session) Mount() error {
	if s.mounted {
		return nil
	}
	unregister, err := s.deps.Registry.Register(s.id, sessionHandle{s: s})
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	s.unregister = unregister

	s.surface.Reset()
	s.fit()

	s.batcher = NewBatcher(s.deps.Sched, defaultFlushWindow, defaultFlushChunks, s.render, s.drained)
	s.autopilot = NewAutopilot(s.deps.Sched, s.surface, s.deps.Settings.ScrollMode(), s.deps.Settings.ScrollSensitivity)
	s.composer = Composer{}
	s.disposers = append(s.disposers,
		s.transport.OnData(s.batcher.Push),
		s.transport.OnStateChange(s.onState),
		s.transport.OnError(s.onError),
	)
	s.mounted = true
	s.applyOptions()

	if s.transport.State() == StateIdle {
		s.transport.Connect()
	} else {
		s.transport.Reconnect()
	}
	s.settleFit = s.deps.Sched.AfterFunc(settleFitDelay, func() {
		s.settleFit = nil
		s.fit()
	})
	s.log.Info("session mounted", "size", s.fitter.Last().String())
	return nil
}

// Unmount closes the transport intentionally, cancels every timer the session
// owns and withdraws its handle.
func (s *Session) Unmount() {
	if !s.mounted {
		return
	}
	s.mounted = false
	s.transport.Close()

	s.batcher.Stop()
	s.autopilot.Stop()
	stopTimer(&s.settleFit)
	stopTimer(&s.echoTimer)
	s.pendingEcho = nil
	s.echoTail = nil

	for _, dispose := range s.disposers {
		dispose()
	}
	s.disposers = nil
	if s.unregister != nil {
		s.unregister()
		s.unregister = nil
	}
	s.surface.Hide()
	s.surface.Close()
	s.log.Info("session unmounted")
}

// Refit re-measures the container, e.g. after the host window changed size.
func (s *Session) Refit() {
	if s.mounted {
		s.fit()
	}
}

func (s *Session) fit() {
	size, ok := s.fitter.Fit(s.box())
	if !ok {
		return
	}
	s.surface.Resize(size)
	s.transport.Resize(size)
}

// Focus makes the session the input target.
func (s *Session) Focus() {
	s.focused = true
	s.surface.Focus()
	s.applyOptions()
}

// Blur aborts any composition in progress; a half-typed character never leaks.
func (s *Session) Blur() {
	s.composer.Handle(CompositionAbort{})
	s.focused = false
	s.surface.Blur()
	s.applyOptions()
}

// UpdateSettings applies new renderer and autopilot settings.
func (s *Session) UpdateSettings(settings SettingsConfig) {
	s.deps.Settings = settings
	s.fitter.SetMetrics(settings.FontMetrics())
	if !s.mounted {
		return
	}
	s.autopilot.SetMode(settings.ScrollMode())
	s.autopilot.SetSensitivity(settings.ScrollSensitivity)
	s.applyOptions()
	s.fit()
}

func (s *Session) applyOptions() {
	s.surface.SetOptions(s.deps.Settings.RenderOptions(s.focused))
}

// HandleInput routes a raw input event through the composer.
func (s *Session) HandleInput(ev InputEvent) error {
	in, ok := s.composer.Handle(ev)
	if !ok {
		return nil
	}
	return s.sendInput(in)
}

// HandleKeys routes a raw read from a byte-oriented keyboard through the
// composer, so a character split across reads is sent whole.
func (s *Session) HandleKeys(data []byte) error {
	for in := range s.composer.Committed(s.composer.ByteEvents(data)) {
		if err := s.transport.Send([]byte(in.Data)); err != nil {
			return err
		}
	}
	return nil
}

// Composing reports whether an IME composition is in progress.
func (s *Session) Composing() bool {
	return s.composer.Composing()
}

func (s *Session) sendInput(in Input) error {
	if err := s.transport.Send([]byte(in.Data)); err != nil {
		return err
	}
	if in.Composed {
		s.armEcho([]byte(in.Data))
	}
	return nil
}

// Send writes raw bytes to the session.
func (s *Session) Send(data []byte) error {
	return s.transport.Send(data)
}

// SendCommand writes a full line.
func (s *Session) SendCommand(line string) error {
	return s.transport.Send([]byte(line + "\n"))
}

// Reconnect is the explicit user retry; it also clears exhaustion.
func (s *Session) Reconnect() {
	if s.mounted {
		s.transport.Reconnect()
	}
}

// ScrollBy is a user scroll of n lines.
func (s *Session) ScrollBy(n int) {
	if !s.mounted {
		return
	}
	s.surface.ScrollBy(n)
	s.autopilot.OnUserScroll()
}

// ScrollToBottom is the explicit "scroll to bottom" control.
func (s *Session) ScrollToBottom() {
	if s.mounted {
		s.autopilot.ForceScrollToBottom()
	}
}

// armEcho writes a committed composition locally unless the server echoes
// it within localEchoDelay.
func (s *Session) armEcho(text []byte) {
	s.pendingEcho = append([]byte(nil), text...)
	s.echoTail = nil
	stopTimer(&s.echoTimer)
	s.echoTimer = s.deps.Sched.AfterFunc(localEchoDelay, func() {
		s.echoTimer = nil
		if len(s.pendingEcho) > 0 {
			s.surface.Write(s.pendingEcho)
			s.pendingEcho = nil
		}
	})
}

func (s *Session) render(data []byte) {
	if len(s.pendingEcho) > 0 {
		window := append(s.echoTail, data...)
		if bytes.Contains(window, s.pendingEcho) {
			s.pendingEcho = nil
			s.echoTail = nil
			stopTimer(&s.echoTimer)
		} else {
			keep := min(len(window), len(s.pendingEcho)-1)
			s.echoTail = append([]byte(nil), window[len(window)-keep:]...)
		}
	}
	s.surface.Write(data)
	if s.onFlush != nil {
		s.onFlush(s)
	}
}

func (s *Session) drained() {
	s.autopilot.OnNewData()
}

func (s *Session) onError(err error) {
	if !s.mounted {
		return
	}
	s.surface.WriteNotice("\x1b[1;31m✗ connection error\x1b[0m")
}

func (s *Session) onState(ev StateEvent) {
	if s.mounted {
		switch {
		case ev.Exhausted:
			s.surface.WriteNotice(fmt.Sprintf("\x1b[1;31m✗ connection lost after %d attempts. Press Ctrl-] r to reconnect.\x1b[0m", ev.Attempt))
			detail := "reconnect attempts exhausted"
			if ev.Err != nil {
				detail = ev.Err.Error()
			}
			go s.notifyFailure(detail)
		case ev.State == StateClosed && ev.Err != nil:
			s.surface.WriteNotice("\x1b[1;33m⚠ disconnected\x1b[0m")
		case ev.State == StateReconnecting:
			s.surface.WriteNotice(fmt.Sprintf("\x1b[2mreconnecting in %s (attempt %d/%d)\x1b[0m",
				ev.Delay, ev.Attempt, s.transport.cfg.MaxAttempts))
		}
	}
	if s.onChange != nil {
		s.onChange(s)
	}
}

func (s *Session) notifyFailure(detail string) {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.deps.Notifier.NotifyFailure(ctx, s.id, detail); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("failure notification not delivered", "err", err)
	}
}

// StatusLabel is a short human description of the session's connection.
func (s *Session) StatusLabel() string {
	ev := s.transport.LastEvent()
	switch {
	case s.transport.Exhausted():
		return "lost"
	case ev.State == StateReconnecting:
		return fmt.Sprintf("retry %d/%d", ev.Attempt, s.transport.cfg.MaxAttempts)
	default:
		return ev.State.String()
	}
}

// sessionHandle is the capability set published in the registry.
type sessionHandle struct {
	s *Session
}

func (h sessionHandle) Send(data []byte) error {
	return h.s.Send(data)
}

func (h sessionHandle) Selection() string {
	return h.s.surface.Selection()
}

func (h sessionHandle) ScrollToBottom() {
	h.s.ScrollToBottom()
}
