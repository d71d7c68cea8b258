package main

import (
	"slices"
	"testing"
)

// TestComposerPassesPlainKeys verifies keys outside a composition go straight through.
func TestComposerPassesPlainKeys(t *testing.T) {
	var c Composer
	in, ok := c.Handle(KeyEvent{Data: "l"})
	if !ok || in.Data != "l" || in.Composed {
		t.Fatalf("Handle(l) = %+v, %v", in, ok)
	}
	if _, ok := c.Handle(KeyEvent{}); ok {
		t.Error("empty key produced input")
	}
}

// TestComposerHangul verifies partial jamo never leak and the syllables commit once.
func TestComposerHangul(t *testing.T) {
	var c Composer
	events := []InputEvent{
		CompositionStart{},
		KeyEvent{Data: "ㅎ", Composing: true},
		CompositionUpdate{Text: "ㅎ"},
		KeyEvent{Data: "하", Composing: true},
		CompositionUpdate{Text: "한"},
		CompositionUpdate{Text: "한그"},
		KeyEvent{Data: "한글", Composing: true},
		CompositionUpdate{Text: "한글"},
		CompositionEnd{Text: "한글"},
	}

	got := slices.Collect(c.Committed(slices.Values(events)))
	want := []Input{{Data: "한글", Composed: true}}
	if !slices.Equal(got, want) {
		t.Fatalf("committed = %+v, want %+v", got, want)
	}
	if c.Composing() {
		t.Error("still composing after CompositionEnd")
	}
}

// TestComposerImplicitStart verifies a composing key opens a composition without a start event.
func TestComposerImplicitStart(t *testing.T) {
	var c Composer
	if _, ok := c.Handle(KeyEvent{Data: "ㄱ", Composing: true}); ok {
		t.Fatal("composing key produced input")
	}
	if !c.Composing() {
		t.Fatal("composing key did not open a composition")
	}
	if _, ok := c.Handle(KeyEvent{Data: "x"}); ok {
		t.Error("key during composition produced input")
	}
	in, ok := c.Handle(CompositionEnd{Text: "각"})
	if !ok || in.Data != "각" {
		t.Errorf("CompositionEnd = %+v, %v", in, ok)
	}
}

// TestComposerAbort verifies an aborted composition commits nothing.
func TestComposerAbort(t *testing.T) {
	var c Composer
	c.Handle(CompositionStart{})
	c.Handle(CompositionUpdate{Text: "한"})
	if c.Preedit() != "한" {
		t.Fatalf("Preedit() = %q", c.Preedit())
	}
	c.Handle(CompositionAbort{})
	if c.Composing() || c.Preedit() != "" {
		t.Fatal("abort left composition state behind")
	}
	if _, ok := c.Handle(CompositionEnd{Text: "한"}); ok {
		t.Error("end after abort committed text")
	}
	if in, ok := c.Handle(KeyEvent{Data: "a"}); !ok || in.Data != "a" {
		t.Errorf("key after abort = %+v, %v", in, ok)
	}
}

// TestComposerCommittedStopsEarly verifies the sequence honours an early break.
func TestComposerCommittedStopsEarly(t *testing.T) {
	var c Composer
	events := slices.Values([]InputEvent{KeyEvent{Data: "a"}, KeyEvent{Data: "b"}, KeyEvent{Data: "c"}})
	var got []string
	for in := range c.Committed(events) {
		got = append(got, in.Data)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
}

// TestComposerByteEvents verifies characters split across raw reads are held until complete.
func TestComposerByteEvents(t *testing.T) {
	euro := "€" // three bytes
	emoji := "😀" // four bytes
	tests := []struct {
		name  string
		reads []string
		want  []string
	}{
		{"ascii", []string{"ls\r"}, []string{"ls\r"}},
		{"whole runes", []string{"日本"}, []string{"日本"}},
		{"split after lead", []string{euro[:1], euro[1:]}, []string{euro}},
		{"split mid rune", []string{"a" + euro[:2], euro[2:] + "b"}, []string{"a", euro + "b"}},
		{"byte at a time", []string{emoji[:1], emoji[1:2], emoji[2:3], emoji[3:]}, []string{emoji}},
		{"next rune also split", []string{euro[:2], euro[2:] + emoji[:1], emoji[1:]}, []string{euro, emoji}},
		{"broken lead", []string{"\xe2", "x"}, []string{"\xe2x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Composer
			var got []string
			for _, read := range tt.reads {
				for in := range c.Committed(c.ByteEvents([]byte(read))) {
					got = append(got, in.Data)
				}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("committed = %q, want %q", got, tt.want)
			}
			if c.Composing() {
				t.Errorf("left composing with preedit %q", c.Preedit())
			}
		})
	}
}
