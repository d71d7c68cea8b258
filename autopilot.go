package main

import (
	"fmt"
	"strings"
	"time"
)

// ScrollMode selects how new output moves the viewport.
type ScrollMode string

const (
	ScrollAlways ScrollMode = "always"
	ScrollSmart  ScrollMode = "smart"
	ScrollNever  ScrollMode = "never"
)

// ParseScrollMode accepts the configured auto_scroll value.
func ParseScrollMode(s string) (ScrollMode, error) {
	switch m := ScrollMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ScrollAlways, ScrollSmart, ScrollNever:
		return m, nil
	case "":
		return ScrollSmart, nil
	default:
		return "", fmt.Errorf("unknown scroll mode %q (want always, smart or never)", s)
	}
}

const (
	scrollEvalGap     = 100 * time.Millisecond
	scrollSettleDelay = 500 * time.Millisecond
	scrollFollowDelay = 10 * time.Millisecond

	defaultScrollSensitivity = 0.8
)

// ScrollMetrics are the viewport measurements in lines.
type ScrollMetrics struct {
	Top        int // first visible line
	Height     int // total scrollable content
	ViewHeight int // visible lines
}

// Scrollable returns how far the viewport can move.
func (m ScrollMetrics) Scrollable() int {
	return m.Height - m.ViewHeight
}

// Viewport is what the autopilot steers.
type Viewport interface {
	Metrics() ScrollMetrics
	ScrollToBottom()
}

// Autopilot decides, on every flush of new data, whether the viewport
// follows the output. In smart mode it tracks whether the user is pinned to
// the bottom with a rate-limited evaluation plus a settle pass.
type Autopilot struct {
	sched       Scheduler
	view        Viewport
	mode        ScrollMode
	sensitivity float64

	pinned   bool
	lastEval time.Time
	settle   Timer
	follow   Timer
}

// NewAutopilot creates an autopilot that starts pinned to the bottom.
func NewAutopilot(sched Scheduler, view Viewport, mode ScrollMode, sensitivity float64) *Autopilot {
	a := &Autopilot{
		sched:  sched,
		view:   view,
		mode:   ScrollSmart,
		pinned: true,
	}
	a.SetMode(mode)
	a.SetSensitivity(sensitivity)
	return a
}

// SetMode changes the mode; an unknown mode is treated as smart.
func (a *Autopilot) SetMode(mode ScrollMode) {
	switch mode {
	case ScrollAlways, ScrollSmart, ScrollNever:
		a.mode = mode
	default:
		a.mode = ScrollSmart
	}
}

// Mode returns the current mode.
func (a *Autopilot) Mode() ScrollMode {
	return a.mode
}

// SetSensitivity clamps s to [0,1].
func (a *Autopilot) SetSensitivity(s float64) {
	a.sensitivity = max(0, min(1, s))
}

// Pinned reports whether new data will pull the viewport to the bottom in smart mode.
func (a *Autopilot) Pinned() bool {
	return a.pinned
}

// NearBottom reports whether the viewport sits inside the band that counts
// as the bottom. The band is scrollable*(1-sensitivity*0.2) from the top.
func (a *Autopilot) NearBottom() bool {
	m := a.view.Metrics()
	scrollable := m.Scrollable()
	if scrollable <= 0 {
		return true
	}
	threshold := float64(scrollable) * (1 - a.sensitivity*0.2)
	return float64(m.Top) >= threshold
}

// OnUserScroll records a user-initiated scroll.
func (a *Autopilot) OnUserScroll() {
	now := a.sched.Now()
	if !a.lastEval.IsZero() && now.Sub(a.lastEval) < scrollEvalGap {
		return
	}
	a.lastEval = now
	a.pinned = a.NearBottom()

	stopTimer(&a.settle)
	a.settle = a.sched.AfterFunc(scrollSettleDelay, func() {
		a.settle = nil
		if a.NearBottom() {
			a.pinned = true
		}
	})
}

// OnNewData is called once per drained burst of output.
func (a *Autopilot) OnNewData() {
	if !a.following() || a.follow != nil {
		return
	}
	a.follow = a.sched.AfterFunc(scrollFollowDelay, func() {
		a.follow = nil
		// The user may have scrolled away while the timer was pending.
		if a.following() {
			a.view.ScrollToBottom()
		}
	})
}

func (a *Autopilot) following() bool {
	switch a.mode {
	case ScrollNever:
		return false
	case ScrollSmart:
		return a.pinned
	}
	return true
}

// ForceScrollToBottom pins the viewport and scrolls immediately, regardless of mode.
func (a *Autopilot) ForceScrollToBottom() {
	stopTimer(&a.follow)
	a.pinned = true
	a.view.ScrollToBottom()
}

// Stop cancels the settle and follow timers.
func (a *Autopilot) Stop() {
	stopTimer(&a.settle)
	stopTimer(&a.follow)
}
