package main

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
)

func writeLines(s *VTSurface, from, to int) {
	for i := from; i <= to; i++ {
		s.Write([]byte(fmt.Sprintf("line %d\r\n", i)))
	}
}

// TestSurfaceModelsWhileHidden verifies output is modelled but never painted when hidden.
func TestSurfaceModelsWhileHidden(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 24})
	s.Write([]byte("\x1b[1;1HHello\x1b[2;1HWorld"))

	screen := s.Screen()
	if !strings.Contains(screen, "Hello") || !strings.Contains(screen, "World") {
		t.Errorf("screen missing cursor-positioned text: %q", screen)
	}
	if out.Len() != 0 {
		t.Errorf("hidden surface painted %q", out.String())
	}
}

// TestSurfacePassthroughWhenLive verifies visible output reaches the host unchanged.
func TestSurfacePassthroughWhenLive(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 24})
	s.Show()
	out.Reset()

	chunk := []byte("\x1b[31mred\x1b[0m plain\r\n")
	s.Write(chunk)
	if !bytes.Equal(out.Bytes(), chunk) {
		t.Errorf("host got %q, want %q", out.Bytes(), chunk)
	}
}

// TestSurfaceShowRepaints verifies a shown surface paints its modelled screen.
func TestSurfaceShowRepaints(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 24})
	s.Write([]byte("background output"))
	s.Show()

	if !strings.Contains(out.String(), "background output") {
		t.Errorf("Show did not repaint the screen: %q", out.String())
	}
	if !strings.Contains(out.String(), ansi.EraseEntireScreen) {
		t.Error("Show did not clear the host screen first")
	}
}

// TestSurfaceScrollback verifies plain-text lines are kept with escapes stripped.
func TestSurfaceScrollback(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 24})
	s.Write([]byte("\x1b[32mgreen\x1b[0m\r\n"))
	s.Write([]byte("progress 10%\rprogress 100%\r\n"))
	s.Write([]byte("split "))
	s.Write([]byte("line\r\npartial"))

	want := []string{"green", "progress 100%", "split line"}
	if got := s.Scrollback(); !slices.Equal(got, want) {
		t.Errorf("Scrollback() = %q, want %q", got, want)
	}
}

// TestSurfaceScrollbackLimit verifies old lines are dropped beyond the cap.
func TestSurfaceScrollbackLimit(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	s.maxLines = 10
	writeLines(s, 1, 25)

	got := s.Scrollback()
	if len(got) != 10 || got[0] != "line 16" || got[9] != "line 25" {
		t.Errorf("Scrollback() = %q", got)
	}
	if m := s.Metrics(); m.Top != m.Height-m.ViewHeight {
		t.Errorf("live viewport not at bottom after trimming: %+v", m)
	}
}

// TestSurfaceMetrics verifies line accounting of the viewport.
func TestSurfaceMetrics(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	if m := s.Metrics(); m != (ScrollMetrics{Top: 0, Height: 5, ViewHeight: 5}) {
		t.Fatalf("empty metrics = %+v", m)
	}

	writeLines(s, 1, 10)
	// 10 completed lines plus the empty line the cursor sits on.
	if m := s.Metrics(); m != (ScrollMetrics{Top: 6, Height: 11, ViewHeight: 5}) {
		t.Errorf("metrics = %+v", m)
	}
}

// TestSurfaceScrollBack verifies reading history freezes the viewport until it returns.
func TestSurfaceScrollBack(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 5})
	s.Show()
	writeLines(s, 1, 10)

	out.Reset()
	s.ScrollBy(-4)
	if s.Live() {
		t.Fatal("still live after scrolling up")
	}
	if m := s.Metrics(); m.Top != 2 {
		t.Fatalf("Top = %d, want 2", m.Top)
	}
	page := out.String()
	if !strings.Contains(page, "line 3") || !strings.Contains(page, "line 7") || strings.Contains(page, "line 8") {
		t.Errorf("painted page = %q, want lines 3-7", page)
	}

	out.Reset()
	s.Write([]byte("new output\r\n"))
	if out.Len() != 0 {
		t.Errorf("output passed through while reading history: %q", out.String())
	}
	if m := s.Metrics(); m.Top != 2 {
		t.Errorf("viewport moved to %d on new output", m.Top)
	}

	out.Reset()
	s.ScrollToBottom()
	if !s.Live() {
		t.Fatal("not live after ScrollToBottom")
	}
	if !strings.Contains(out.String(), "new output") {
		t.Errorf("return to bottom did not repaint live screen: %q", out.String())
	}
	if m := s.Metrics(); m.Top != m.Height-m.ViewHeight {
		t.Errorf("Top = %d after ScrollToBottom, metrics %+v", m.Top, m)
	}
}

// TestSurfaceScrollByClamps verifies the viewport stays inside the content.
func TestSurfaceScrollByClamps(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	writeLines(s, 1, 10)

	s.ScrollBy(-100)
	if m := s.Metrics(); m.Top != 0 {
		t.Errorf("Top = %d after scrolling past the start", m.Top)
	}
	s.ScrollBy(100)
	if !s.Live() {
		t.Error("scrolling past the end did not return to live")
	}
}

// TestSurfaceSelection verifies line selection and the viewport copy.
func TestSurfaceSelection(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 3})
	writeLines(s, 1, 6)

	if got := s.Selection(); got != "" {
		t.Errorf("Selection() without a selection = %q", got)
	}

	s.SelectLines(2, 1)
	if got := s.Selection(); got != "line 2\nline 3" {
		t.Errorf("SelectLines(2,1) = %q", got)
	}

	s.ScrollBy(-2)
	s.SelectViewport()
	if got := s.Selection(); got != "line 3\nline 4\nline 5" {
		t.Errorf("SelectViewport() = %q", got)
	}

	s.ClearSelection()
	if got := s.Selection(); got != "" {
		t.Errorf("Selection() after clear = %q", got)
	}
}

// TestSurfaceReset verifies a reset surface starts empty.
func TestSurfaceReset(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	writeLines(s, 1, 10)
	s.ScrollBy(-3)
	s.Reset()

	if len(s.Scrollback()) != 0 || s.Screen() != "" {
		t.Errorf("reset left content: %q / %q", s.Scrollback(), s.Screen())
	}
	if !s.Live() {
		t.Error("reset surface not live")
	}
}

// TestSurfaceResetKeepsEmulator verifies a reset clears the model in place.
func TestSurfaceResetKeepsEmulator(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	emu := s.emu
	s.Write([]byte("\x1b[3;5Hstale"))
	s.Reset()

	if s.emu != emu {
		t.Error("reset replaced the emulator")
	}
	s.Write([]byte("fresh"))
	if got := s.Screen(); got != "fresh" {
		t.Errorf("screen after reset = %q, want %q", got, "fresh")
	}
}

// TestSurfaceClose verifies Close stops the reply drain and a later Reset revives the model.
func TestSurfaceClose(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 5})
	drained := s.drained
	s.Close()
	s.Close()

	select {
	case <-drained:
	default:
		t.Fatal("reply drain still running after Close")
	}
	s.Write([]byte("ignored"))

	s.Reset()
	s.Write([]byte("back"))
	if got := s.Screen(); got != "back" {
		t.Errorf("screen after revive = %q, want %q", got, "back")
	}
}

// TestSurfaceResize verifies the emulator follows the grid.
func TestSurfaceResize(t *testing.T) {
	s := NewVTSurface(&bytes.Buffer{}, GridSize{Cols: 80, Rows: 24})
	s.Resize(GridSize{Cols: 20, Rows: 4})
	s.Resize(GridSize{}) // ignored

	s.Write([]byte(strings.Repeat("x", 25)))
	rows := strings.Split(s.Screen(), "\n")
	if len(rows) != 2 || len(rows[0]) != 20 {
		t.Errorf("25 chars on a 20-column grid rendered as %q", rows)
	}
	if m := s.Metrics(); m.ViewHeight != 4 {
		t.Errorf("ViewHeight = %d, want 4", m.ViewHeight)
	}
}

// TestSurfaceOptionsOnlyOnChange verifies host sequences are emitted once per change.
func TestSurfaceOptionsOnlyOnChange(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 24})
	s.Show()
	out.Reset()

	s.SetOptions(Options{CursorBlink: true})
	if got := out.String(); got != ansi.SetCursorStyle(1) {
		t.Errorf("blink on emitted %q", got)
	}

	out.Reset()
	s.SetOptions(Options{CursorBlink: true})
	if out.Len() != 0 {
		t.Errorf("unchanged options emitted %q", out.String())
	}

	out.Reset()
	s.SetOptions(Options{CursorBlink: true, SmoothScrollDuration: 50 * time.Millisecond})
	if got := out.String(); got != smoothScrollOn {
		t.Errorf("smooth scroll on emitted %q", got)
	}
}

// TestSurfaceOptionsDeferredWhileHidden verifies hidden surfaces apply options on Show.
func TestSurfaceOptionsDeferredWhileHidden(t *testing.T) {
	var out bytes.Buffer
	s := NewVTSurface(&out, GridSize{Cols: 80, Rows: 24})
	theme := themes["dracula"]
	s.SetOptions(Options{Theme: theme})
	if out.Len() != 0 {
		t.Fatalf("hidden surface emitted %q", out.String())
	}
	if s.Options().Theme != theme {
		t.Error("options not recorded while hidden")
	}

	s.Show()
	if !strings.Contains(out.String(), ansi.SetBackgroundColor(theme.Background)) {
		t.Errorf("Show did not apply the theme: %q", out.String())
	}
}

// TestTrimScreen verifies trailing blanks are removed.
func TestTrimScreen(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank rows", "   \n  \n", ""},
		{"trailing spaces", "abc   \ndef  ", "abc\ndef"},
		{"inner blank row kept", "a\n\nb\n\n", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimScreen(tt.in); got != tt.want {
				t.Errorf("trimScreen(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
