package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAlreadyMounted is returned when a second live handle is registered for a session id.
var ErrAlreadyMounted = errors.New("session already mounted")

// Handle is the capability set sibling UI uses to address a mounted session.
// Methods must be called on the event loop.
type Handle interface {
	Send(data []byte) error
	Selection() string
	ScrollToBottom()
}

// Registry is a non-owning index from session id to its live handle. It is
// created once at startup and passed to whoever needs to address sessions.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*registration
}

type registration struct {
	h Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*registration)}
}

// Register publishes h under id. The returned disposer removes the entry
// exactly once, and only while it still belongs to this registration.
func (r *Registry) Register(id string, h Handle) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("register %s: nil handle", id)
	}
	reg := &registration{h: h}

	r.mu.Lock()
	if _, exists := r.handles[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %s: %w", id, ErrAlreadyMounted)
	}
	r.handles[id] = reg
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.handles[id] == reg {
				delete(r.handles, id)
			}
		})
	}, nil
}

// Lookup returns the live handle for id.
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handles[id]
	if !ok {
		return nil, false
	}
	return reg.h, true
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Send forwards data to the session; unknown ids are a no-op.
func (r *Registry) Send(id string, data []byte) error {
	h, ok := r.Lookup(id)
	if !ok {
		return nil
	}
	return h.Send(data)
}

// SendCommand sends a full command line followed by a newline.
func (r *Registry) SendCommand(id, command string) error {
	return r.Send(id, []byte(command+"\n"))
}

// Selection returns the session's selected text, or "" for unknown ids.
func (r *Registry) Selection(id string) string {
	h, ok := r.Lookup(id)
	if !ok {
		return ""
	}
	return h.Selection()
}

// ScrollToBottom forces the session to the bottom; unknown ids are a no-op.
func (r *Registry) ScrollToBottom(id string) {
	if h, ok := r.Lookup(id); ok {
		h.ScrollToBottom()
	}
}
