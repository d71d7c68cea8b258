package main

import (
	"iter"
	"slices"
	"unicode/utf8"
)

// InputEvent is a raw key or IME composition event from the input surface.
type InputEvent interface {
	inputEvent()
}

// KeyEvent is a keystroke. Composing is set when the platform flags the key
// as part of an in-progress composition.
type KeyEvent struct {
	Data      string
	Composing bool
}

// CompositionStart opens an IME composition.
type CompositionStart struct{}

// CompositionUpdate carries the current preedit text.
type CompositionUpdate struct {
	Text string
}

// CompositionEnd commits the composed text.
type CompositionEnd struct {
	Text string
}

// CompositionAbort ends a composition without a commit, e.g. on focus loss.
type CompositionAbort struct{}

func (KeyEvent) inputEvent()          {}
func (CompositionStart) inputEvent()  {}
func (CompositionUpdate) inputEvent() {}
func (CompositionEnd) inputEvent()    {}
func (CompositionAbort) inputEvent()  {}

// Input is a committed chunk ready for the transport.
type Input struct {
	Data     string
	Composed bool
}

// Composer isolates IME composition so that partially formed characters
// never reach the transport.
type Composer struct {
	composing bool
	preedit   string
}

// Composing reports whether a composition is in progress.
func (c *Composer) Composing() bool {
	return c.composing
}

// Preedit returns the uncommitted composition text.
func (c *Composer) Preedit() string {
	return c.preedit
}

// Handle advances the state machine and returns the committed input, if any.
func (c *Composer) Handle(ev InputEvent) (Input, bool) {
	switch ev := ev.(type) {
	case CompositionStart:
		c.composing = true
		c.preedit = ""
	case CompositionUpdate:
		if c.composing {
			c.preedit = ev.Text
		}
	case CompositionEnd:
		wasComposing := c.composing
		c.composing = false
		c.preedit = ""
		if wasComposing && ev.Text != "" {
			return Input{Data: ev.Text, Composed: true}, true
		}
	case CompositionAbort:
		c.composing = false
		c.preedit = ""
	case KeyEvent:
		if ev.Composing && !c.composing {
			c.composing = true
			c.preedit = ""
		}
		if c.composing || ev.Data == "" {
			return Input{}, false
		}
		return Input{Data: ev.Data}, true
	}
	return Input{}, false
}

// Committed lazily maps raw events to committed input chunks.
func (c *Composer) Committed(events iter.Seq[InputEvent]) iter.Seq[Input] {
	return func(yield func(Input) bool) {
		for ev := range events {
			in, ok := c.Handle(ev)
			if !ok {
				continue
			}
			if !yield(in) {
				return
			}
		}
	}
}

// ByteEvents turns one raw read from a byte stream into events. A multi-byte
// character cut off at the end of data is held as preedit until the next read
// completes it. The events reflect the composer state at call time, so they
// should be handled before ByteEvents is called again.
func (c *Composer) ByteEvents(data []byte) iter.Seq[InputEvent] {
	composing := c.composing
	buf := data
	if composing {
		buf = append([]byte(c.preedit), data...)
	}
	complete, tail := splitPartialRune(buf)

	var events []InputEvent
	if composing {
		if len(tail) == 0 || len(complete) > 0 {
			events = append(events, CompositionEnd{Text: string(complete)})
			composing = false
		}
	} else if len(complete) > 0 {
		events = append(events, KeyEvent{Data: string(complete)})
	}
	if len(tail) > 0 {
		if !composing {
			events = append(events, CompositionStart{})
		}
		events = append(events, CompositionUpdate{Text: string(tail)})
	}
	return slices.Values(events)
}

// splitPartialRune splits off a trailing UTF-8 sequence that is still
// missing bytes.
func splitPartialRune(p []byte) (complete, tail []byte) {
	for i := len(p) - 1; i >= 0 && i > len(p)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(p[i]) {
			continue
		}
		if !utf8.FullRune(p[i:]) {
			return p[:i], p[i:]
		}
		break
	}
	return p, nil
}
