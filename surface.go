package main

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

const (
	defaultScrollback = 10000
	maxScrollbackTail = 64 << 10

	smoothScrollOn  = "\x1b[?4h"
	smoothScrollOff = "\x1b[?4l"
)

// Theme is the subset of a color scheme the host terminal can apply.
type Theme struct {
	Name       string
	Foreground string
	Background string
	Cursor     string
}

// Options are the renderer settings a surface reacts to.
type Options struct {
	Theme                Theme
	FontSize             int
	CursorBlink          bool
	SmoothScrollDuration time.Duration
}

// Surface is the render target of one session.
type Surface interface {
	Write(p []byte)
	WriteNotice(msg string)
	Reset()
	Close()
	Resize(size GridSize)
	Show()
	Hide()
	Focus()
	Blur()
	Selection() string
	ScrollToBottom()
	ScrollBy(lines int)
	Metrics() ScrollMetrics
	SetOptions(opts Options)
}

// VTSurface models the session screen in a virtual terminal emulator and
// keeps a plain-text scrollback beside it. While visible and scrolled to the
// bottom, output passes straight through to the host terminal; when the user
// scrolls back, pages are painted from the scrollback and live output is only
// modelled until the viewport returns to the bottom.
type VTSurface struct {
	mu      sync.Mutex
	out     io.Writer
	emu     *vt.SafeEmulator
	drained chan struct{}
	closed  bool

	size     GridSize
	lines    []string
	tail     []byte
	maxLines int
	offset   int

	live    bool
	visible bool
	focused bool

	opts    Options
	applied bool

	selFrom, selTo int
}

// NewVTSurface creates a hidden surface that paints to out.
func NewVTSurface(out io.Writer, size GridSize) *VTSurface {
	if !size.Valid() {
		size = GridSize{Cols: 80, Rows: 24}
	}
	s := &VTSurface{
		out:      out,
		size:     size,
		maxLines: defaultScrollback,
		live:     true,
		selFrom:  -1,
		selTo:    -1,
	}
	s.emu, s.drained = newEmulator(size)
	return s
}

// newEmulator starts an emulator and the goroutine draining its replies.
// The returned channel is closed once that goroutine has exited.
func newEmulator(size GridSize) (*vt.SafeEmulator, chan struct{}) {
	emu := vt.NewSafeEmulator(size.Cols, size.Rows)
	drained := make(chan struct{})
	// Replies to terminal queries come from the host terminal itself; the
	// model's copies are discarded so the emulator never blocks on them.
	go func() {
		defer close(drained)
		io.Copy(io.Discard, emu)
	}()
	return emu, drained
}

// Close releases the screen model. A later Reset starts a fresh one.
func (s *VTSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	// Emulator.Close writes a flag that Read checks without a lock, so the
	// drain goroutine has to be gone first.
	if c, ok := s.emu.InputPipe().(io.Closer); ok {
		c.Close()
	}
	<-s.drained
	s.emu.Close()
}

// Write feeds output into the screen model and, when live, to the host.
func (s *VTSurface) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.emu.Write(p)
	s.appendScrollback(p)
	if s.live {
		s.offset = s.bottom()
		if s.visible {
			s.out.Write(p)
		}
	}
}

// WriteNotice writes msg on a line of its own.
func (s *VTSurface) WriteNotice(msg string) {
	s.Write([]byte("\r\n" + msg + "\r\n"))
}

// Reset clears the screen model, the scrollback and the viewport.
func (s *VTSurface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.emu, s.drained = newEmulator(s.size)
		s.closed = false
	} else {
		s.emu.Write([]byte(ansi.ResetInitialState))
	}
	s.lines = nil
	s.tail = nil
	s.offset = 0
	s.live = true
	s.selFrom, s.selTo = -1, -1
	if s.visible {
		io.WriteString(s.out, ansi.EraseEntireScreen+ansi.CursorHomePosition)
	}
}

// Resize changes the grid the model renders into.
func (s *VTSurface) Resize(size GridSize) {
	if !size.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if size == s.size {
		return
	}
	s.size = size
	s.emu.Resize(size.Cols, size.Rows)
	if s.live {
		s.offset = s.bottom()
	} else {
		s.offset = min(s.offset, s.bottom())
		s.paintPage()
	}
}

// Show makes the surface the one painting the host terminal.
func (s *VTSurface) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visible = true
	s.applied = false
	s.applyOptions(s.opts)
	if s.live {
		s.paintScreen()
	} else {
		s.paintPage()
	}
}

// Hide stops painting; output keeps being modelled.
func (s *VTSurface) Hide() {
	s.mu.Lock()
	s.visible = false
	s.mu.Unlock()
}

func (s *VTSurface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *VTSurface) Focus() {
	s.mu.Lock()
	s.focused = true
	s.mu.Unlock()
}

func (s *VTSurface) Blur() {
	s.mu.Lock()
	s.focused = false
	s.mu.Unlock()
}

func (s *VTSurface) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// Live reports whether the viewport follows output.
func (s *VTSurface) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// ScrollToBottom returns the viewport to the live screen.
func (s *VTSurface) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offset = s.bottom()
	if s.live {
		return
	}
	s.live = true
	s.paintScreen()
}

// ScrollBy moves the viewport by n lines; negative is toward older output.
func (s *VTSurface) ScrollBy(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bottom := s.bottom()
	s.offset = max(0, min(bottom, s.offset+n))
	if s.offset == bottom {
		if !s.live {
			s.live = true
			s.paintScreen()
		}
		return
	}
	s.live = false
	s.paintPage()
}

// Metrics reports the viewport in lines.
func (s *VTSurface) Metrics() ScrollMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScrollMetrics{Top: s.offset, Height: s.height(), ViewHeight: s.size.Rows}
}

// SetOptions applies renderer settings. Host sequences are emitted only for
// values that changed.
func (s *VTSurface) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyOptions(opts)
}

// Options returns the settings last applied.
func (s *VTSurface) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

func (s *VTSurface) applyOptions(opts Options) {
	prev, first := s.opts, !s.applied
	s.opts = opts
	if !s.visible {
		return
	}
	s.applied = true

	var b strings.Builder
	if first || prev.CursorBlink != opts.CursorBlink {
		if opts.CursorBlink {
			b.WriteString(ansi.SetCursorStyle(1))
		} else {
			b.WriteString(ansi.SetCursorStyle(2))
		}
	}
	if first || (prev.SmoothScrollDuration > 0) != (opts.SmoothScrollDuration > 0) {
		if opts.SmoothScrollDuration > 0 {
			b.WriteString(smoothScrollOn)
		} else {
			b.WriteString(smoothScrollOff)
		}
	}
	if first || prev.Theme != opts.Theme {
		if opts.Theme.Foreground != "" {
			b.WriteString(ansi.SetForegroundColor(opts.Theme.Foreground))
		}
		if opts.Theme.Background != "" {
			b.WriteString(ansi.SetBackgroundColor(opts.Theme.Background))
		}
		if opts.Theme.Cursor != "" {
			b.WriteString(ansi.SetCursorColor(opts.Theme.Cursor))
		}
	}
	if b.Len() > 0 {
		io.WriteString(s.out, b.String())
	}
}

// SelectLines selects the scrollback lines [from, to].
func (s *VTSurface) SelectLines(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from > to {
		from, to = to, from
	}
	s.selFrom = max(0, from)
	s.selTo = min(to, s.height()-1)
}

// SelectViewport selects the lines currently in view.
func (s *VTSurface) SelectViewport() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selFrom = s.offset
	s.selTo = min(s.offset+s.size.Rows, s.height()) - 1
}

// ClearSelection drops the selection.
func (s *VTSurface) ClearSelection() {
	s.mu.Lock()
	s.selFrom, s.selTo = -1, -1
	s.mu.Unlock()
}

// Selection returns the selected text with trailing blanks trimmed.
func (s *VTSurface) Selection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selFrom < 0 || s.selTo < s.selFrom {
		return ""
	}
	out := make([]string, 0, s.selTo-s.selFrom+1)
	for i := s.selFrom; i <= s.selTo; i++ {
		out = append(out, strings.TrimRight(s.line(i), " \t"))
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}

// Screen returns the modelled screen as plain text, trailing blank lines removed.
func (s *VTSurface) Screen() string {
	s.mu.Lock()
	raw := s.emu.String()
	s.mu.Unlock()
	return trimScreen(raw)
}

// Scrollback returns a copy of the completed plain-text lines.
func (s *VTSurface) Scrollback() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *VTSurface) height() int {
	return max(len(s.lines)+1, s.size.Rows)
}

func (s *VTSurface) bottom() int {
	return s.height() - s.size.Rows
}

func (s *VTSurface) line(i int) string {
	switch {
	case i < 0:
		return ""
	case i < len(s.lines):
		return s.lines[i]
	case i == len(s.lines):
		return plainLine(s.tail)
	default:
		return ""
	}
}

func (s *VTSurface) appendScrollback(p []byte) {
	s.tail = append(s.tail, p...)
	for {
		i := bytes.IndexByte(s.tail, '\n')
		if i < 0 {
			break
		}
		s.lines = append(s.lines, plainLine(s.tail[:i]))
		s.tail = s.tail[i+1:]
	}
	if len(s.tail) > maxScrollbackTail {
		s.tail = s.tail[len(s.tail)-maxScrollbackTail:]
	}
	s.tail = append([]byte(nil), s.tail...)

	if drop := len(s.lines) - s.maxLines; drop > 0 {
		s.lines = append([]string(nil), s.lines[drop:]...)
		s.offset = max(0, s.offset-drop)
		if s.selFrom >= 0 {
			s.selFrom = max(0, s.selFrom-drop)
			s.selTo -= drop
		}
	}
}

// plainLine strips escape sequences and keeps what a carriage return left visible.
func plainLine(raw []byte) string {
	line := strings.TrimRight(ansi.Strip(string(raw)), "\r")
	if i := strings.LastIndexByte(line, '\r'); i >= 0 {
		line = line[i+1:]
	}
	return line
}

func (s *VTSurface) paintScreen() {
	if !s.visible {
		return
	}
	var b strings.Builder
	b.WriteString(ansi.EraseEntireScreen + ansi.CursorHomePosition)
	b.WriteString(strings.ReplaceAll(trimScreen(s.emu.String()), "\n", "\r\n"))
	io.WriteString(s.out, b.String())
}

func (s *VTSurface) paintPage() {
	if !s.visible {
		return
	}
	var b strings.Builder
	b.WriteString(ansi.EraseEntireScreen + ansi.CursorHomePosition)
	for i := 0; i < s.size.Rows; i++ {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(ansi.Truncate(s.line(s.offset+i), s.size.Cols, ""))
	}
	io.WriteString(s.out, b.String())
}

// trimScreen drops trailing whitespace on each row and trailing empty rows.
func trimScreen(raw string) string {
	lines := strings.Split(raw, "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimRight(lines[i], " \t\r") != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return ""
	}
	out := make([]string, last+1)
	for i := 0; i <= last; i++ {
		out[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return strings.Join(out, "\n")
}
