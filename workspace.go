package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// hotkeyPrefix is Ctrl-].
const hotkeyPrefix = 0x1d

// statusRows is the number of host rows reserved for the status bar.
const statusRows = 1

// SessionCreator creates sessions server-side before they are opened.
type SessionCreator interface {
	Create(ctx context.Context, id string, size GridSize) error
}

// toolbarKeys are the extra keys a touch toolbar would offer, bound after the prefix.
var toolbarKeys = map[byte]string{
	'e': "\x1b", // ESC
	't': "\t",   // TAB
	'u': "\x15", // Ctrl+U, clear line
}

var arrowKeys = map[string]string{
	"\x1b[A": "\x1b[A",
	"\x1b[B": "\x1b[B",
	"\x1b[C": "\x1b[C",
	"\x1b[D": "\x1b[D",
	"\x1bOA": "\x1b[A",
	"\x1bOB": "\x1b[B",
	"\x1bOC": "\x1b[C",
	"\x1bOD": "\x1b[D",
}

const workspaceHelp = "^] n/p switch  c new  x close  r reconnect  g bottom  k/j scroll  y copy  : command  e/t/u esc/tab/^U  q detach"

// Workspace multiplexes mounted sessions behind the one host terminal. Only
// the active session paints; the others keep modelling their output. All
// methods run on the event loop.
type Workspace struct {
	ctx     context.Context
	out     io.Writer
	deps    SessionDeps
	creator SessionCreator
	log     pslog.Logger

	host     HostWindow
	sessions []*Session
	active   int

	prefix  bool
	cmdline *strings.Builder
	message string

	// detach is called when the user asks to leave.
	detach func()
}

// NewWorkspace creates an empty workspace painting to out.
func NewWorkspace(ctx context.Context, out io.Writer, host HostWindow, deps SessionDeps, creator SessionCreator, detach func()) *Workspace {
	return &Workspace{
		ctx:     ctx,
		out:     out,
		deps:    deps,
		creator: creator,
		log:     deps.Log,
		host:    host,
		active:  -1,
		detach:  detach,
	}
}

// Sessions returns the open sessions in tab order.
func (w *Workspace) Sessions() []*Session {
	return append([]*Session(nil), w.sessions...)
}

// Active returns the visible session, or nil.
func (w *Workspace) Active() *Session {
	if w.active < 0 || w.active >= len(w.sessions) {
		return nil
	}
	return w.sessions[w.active]
}

// Start claims the host screen: scroll region above the status bar.
func (w *Workspace) Start() {
	w.applyScrollRegion()
	w.drawStatus()
}

// Open mounts session id and makes it active. An id that is already open is
// only activated.
func (w *Workspace) Open(id string) error {
	if i := w.index(id); i >= 0 {
		w.Activate(i)
		return nil
	}
	s := NewSession(w.ctx, id, NewVTSurface(w.out, w.gridHint()), w.box, w.deps)
	s.onChange = w.sessionChanged
	s.onFlush = w.sessionFlushed
	if err := s.Mount(); err != nil {
		return err
	}
	w.sessions = append(w.sessions, s)
	w.Activate(len(w.sessions) - 1)
	return nil
}

// Close unmounts session id. The server-side session is left alone.
func (w *Workspace) Close(id string) {
	i := w.index(id)
	if i < 0 {
		return
	}
	s := w.sessions[i]
	wasActive := i == w.active
	if wasActive {
		s.Blur()
	}
	s.Unmount()
	w.sessions = append(w.sessions[:i], w.sessions[i+1:]...)

	switch {
	case len(w.sessions) == 0:
		w.active = -1
		io.WriteString(w.out, ansi.EraseEntireScreen+ansi.CursorHomePosition)
		w.flash("no sessions; ^] c opens one, ^] q detaches")
	case wasActive:
		w.active = -1
		w.Activate(min(i, len(w.sessions)-1))
	case i < w.active:
		w.active--
		w.drawStatus()
	default:
		w.drawStatus()
	}
}

// Activate switches the visible session. The previous session loses focus,
// which aborts any composition it had in progress.
func (w *Workspace) Activate(i int) {
	if i < 0 || i >= len(w.sessions) {
		return
	}
	if i == w.active {
		w.drawStatus()
		return
	}
	if prev := w.Active(); prev != nil {
		prev.Blur()
		prev.Surface().Hide()
	}
	w.active = i
	s := w.sessions[i]
	s.Surface().Show()
	s.Focus()
	w.drawStatus()
}

func (w *Workspace) Next() {
	if n := len(w.sessions); n > 1 {
		w.Activate((w.active + 1) % n)
	}
}

func (w *Workspace) Prev() {
	if n := len(w.sessions); n > 1 {
		w.Activate((w.active - 1 + n) % n)
	}
}

// Resize handles a host window change.
func (w *Workspace) Resize(host HostWindow) {
	if host == w.host {
		return
	}
	w.host = host
	w.applyScrollRegion()
	for _, s := range w.sessions {
		s.Refit()
	}
	if s := w.Active(); s != nil {
		s.Surface().Show()
	}
	w.drawStatus()
}

// Shutdown unmounts every session and gives the host screen back.
func (w *Workspace) Shutdown() {
	for _, s := range w.sessions {
		s.Unmount()
	}
	w.sessions = nil
	w.active = -1
	io.WriteString(w.out, ansi.SetTopBottomMargins(0, 0)+
		ansi.CursorPosition(1, w.host.Rows)+ansi.EraseEntireLine+"\r\n")
}

// HandleKeys processes raw bytes read from the host terminal.
func (w *Workspace) HandleKeys(data []byte) {
	for len(data) > 0 {
		switch {
		case w.cmdline != nil:
			data = w.commandKey(data)
		case w.prefix:
			w.prefix = false
			data = data[w.hotkey(data):]
		default:
			i := bytes.IndexByte(data, hotkeyPrefix)
			if i < 0 {
				w.forward(data)
				return
			}
			if i > 0 {
				w.forward(data[:i])
			}
			w.prefix = true
			data = data[i+1:]
		}
	}
}

func (w *Workspace) forward(data []byte) {
	s := w.Active()
	if s == nil {
		return
	}
	if err := s.HandleKeys(data); err != nil {
		if errors.Is(err, ErrNotOpen) {
			w.flash("input blocked: session " + s.StatusLabel())
			return
		}
		w.log.Warn("input not delivered", "session", s.ID(), "err", err)
		w.flash("input failed: " + err.Error())
	}
}

// hotkey runs the command bound to the key after the prefix and returns the
// number of bytes consumed.
func (w *Workspace) hotkey(data []byte) int {
	for seq, key := range arrowKeys {
		if bytes.HasPrefix(data, []byte(seq)) {
			w.toolbar(key)
			return len(seq)
		}
	}

	s := w.Active()
	switch key := data[0]; key {
	case hotkeyPrefix:
		w.forward([]byte{hotkeyPrefix})
	case 'n':
		w.Next()
	case 'p':
		w.Prev()
	case 'c':
		w.createSession()
	case 'q':
		if w.detach != nil {
			w.detach()
		}
	case '?':
		w.flash(workspaceHelp)
	case ':':
		if s != nil {
			w.cmdline = &strings.Builder{}
			w.drawStatus()
		}
	default:
		if s == nil {
			break
		}
		switch key {
		case 'x':
			w.Close(s.ID())
		case 'r':
			s.Reconnect()
		case 'g':
			w.deps.Registry.ScrollToBottom(s.ID())
		case 'k':
			s.ScrollBy(-max(1, s.Size().Rows/2))
		case 'j':
			s.ScrollBy(max(1, s.Size().Rows/2))
		case 'y':
			w.copySelection(s)
		default:
			if seq, ok := toolbarKeys[key]; ok {
				w.toolbar(seq)
			} else if key >= '1' && key <= '9' {
				w.Activate(int(key - '1'))
			}
		}
	}
	return 1
}

func (w *Workspace) toolbar(seq string) {
	s := w.Active()
	if s == nil {
		return
	}
	if err := w.deps.Registry.Send(s.ID(), []byte(seq)); err != nil {
		w.flash("input blocked: session " + s.StatusLabel())
	}
}

// copySelection copies the visible page to the host clipboard with OSC 52.
func (w *Workspace) copySelection(s *Session) {
	if vs, ok := s.Surface().(*VTSurface); ok {
		vs.SelectViewport()
		defer vs.ClearSelection()
	}
	text := w.deps.Registry.Selection(s.ID())
	if text == "" {
		w.flash("nothing to copy")
		return
	}
	io.WriteString(w.out, ansi.SetSystemClipboard(text))
	w.flash(fmt.Sprintf("copied %d lines", strings.Count(text, "\n")+1))
}

func (w *Workspace) commandKey(data []byte) []byte {
	r, size := utf8.DecodeRune(data)
	switch {
	case r == '\r' || r == '\n':
		line := w.cmdline.String()
		w.cmdline = nil
		if s := w.Active(); s != nil && line != "" {
			if err := w.deps.Registry.SendCommand(s.ID(), line); err != nil {
				w.flash("command not sent: " + err.Error())
				return data[size:]
			}
		}
		w.drawStatus()
	case r == 0x1b || r == 0x03:
		w.cmdline = nil
		w.drawStatus()
	case r == 0x7f || r == 0x08:
		line := []rune(w.cmdline.String())
		w.cmdline.Reset()
		if len(line) > 0 {
			w.cmdline.WriteString(string(line[:len(line)-1]))
		}
		w.drawStatus()
	case r == utf8.RuneError && size <= 1:
	case r >= 0x20:
		w.cmdline.WriteRune(r)
		w.drawStatus()
	}
	return data[size:]
}

func (w *Workspace) createSession() {
	id := uuid.NewString()
	size := w.gridHint()
	if w.creator == nil {
		if err := w.Open(id); err != nil {
			w.flash(err.Error())
		}
		return
	}
	w.flash("creating session " + shortID(id) + "...")
	go func() {
		err := w.creator.Create(w.ctx, id, size)
		w.deps.Sched.Post(func() {
			if err != nil {
				w.log.Warn("create session failed", "session", id, "err", err)
				w.flash("create failed: " + err.Error())
				return
			}
			if err := w.Open(id); err != nil {
				w.flash(err.Error())
			}
		})
	}()
}

func (w *Workspace) sessionChanged(*Session) {
	w.drawStatus()
}

func (w *Workspace) sessionFlushed(s *Session) {
	if s == w.Active() {
		w.drawStatus()
	}
}

func (w *Workspace) index(id string) int {
	for i, s := range w.sessions {
		if s.ID() == id {
			return i
		}
	}
	return -1
}

// box is the session area: the host window minus the status bar, never
// larger than the host grid.
func (w *Workspace) box() PixelBox {
	m := w.deps.Settings.FontMetrics()
	b := w.host.Box(m, statusRows)
	grid := HostWindow{Cols: w.host.Cols, Rows: w.host.Rows}.Box(m, statusRows)
	return PixelBox{Width: min(b.Width, grid.Width), Height: min(b.Height, grid.Height)}
}

func (w *Workspace) gridHint() GridSize {
	size, ok := FitGrid(w.box(), w.deps.Settings.FontMetrics())
	if !ok {
		return GridSize{Cols: 80, Rows: 24}
	}
	return size
}

func (w *Workspace) applyScrollRegion() {
	if w.host.Rows <= statusRows {
		return
	}
	io.WriteString(w.out, ansi.SetTopBottomMargins(1, w.host.Rows-statusRows))
}

func (w *Workspace) flash(msg string) {
	w.message = msg
	w.drawStatus()
	w.message = ""
}

// StatusLine renders the status bar text without escape sequences.
func (w *Workspace) StatusLine() string {
	if w.cmdline != nil {
		return ":" + w.cmdline.String()
	}
	var b strings.Builder
	for i, s := range w.sessions {
		if i > 0 {
			b.WriteString(" ")
		}
		mark := " "
		if i == w.active {
			mark = "*"
		}
		fmt.Fprintf(&b, "%d%s%s(%s)", i+1, mark, shortID(s.ID()), s.StatusLabel())
	}
	if w.message != "" {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(w.message)
	} else {
		if b.Len() > 0 {
			b.WriteString(" | ")
		}
		b.WriteString("^] ? help")
	}
	return b.String()
}

func (w *Workspace) drawStatus() {
	if w.host.Rows <= statusRows || w.host.Cols <= 0 {
		return
	}
	line := ansi.Truncate(w.StatusLine(), w.host.Cols, "…")
	if pad := w.host.Cols - ansi.StringWidth(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	io.WriteString(w.out, ansi.SaveCursor+
		ansi.CursorPosition(1, w.host.Rows)+
		"\x1b[7m"+line+"\x1b[0m"+
		ansi.RestoreCursor)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
