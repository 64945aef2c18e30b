// Package session routes a requester's next chat message to the part
// selection prompt waiting for it.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when the requester already has a pending prompt.
var ErrBusy = errors.New("selection already pending")

// Key identifies a requester within a chat.
type Key struct {
	GroupID  string
	SenderID string
}

// Registry holds at most one pending session per Key.
type Registry struct {
	mu      sync.Mutex
	pending map[Key]*Session
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[Key]*Session)}
}

// Open registers a session for key. Close it when the selection resolves.
func (r *Registry) Open(key Key) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[key]; ok {
		return nil, ErrBusy
	}
	s := &Session{key: key, reg: r, reply: make(chan string, 1)}
	r.pending[key] = s
	return s, nil
}

// Deliver hands text to the pending session for key. It reports false when
// nothing is waiting, in which case the caller treats text as a new message.
func (r *Registry) Deliver(key Key, text string) bool {
	r.mu.Lock()
	s, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.deliver(text)
}

// Pending reports whether key has an open session.
func (r *Registry) Pending(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[s.key] == s {
		delete(r.pending, s.key)
	}
}

// Session is a one-shot reply slot. It implements selection.Waiter.
type Session struct {
	key   Key
	reg   *Registry
	reply chan string
	once  sync.Once
}

func (s *Session) deliver(text string) bool {
	delivered := false
	s.once.Do(func() {
		s.reply <- text
		delivered = true
	})
	return delivered
}

// Wait returns the delivered reply or ctx's error.
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case text := <-s.reply:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close unregisters the session. Later messages are handled as new input.
func (s *Session) Close() {
	s.once.Do(func() {})
	s.reg.remove(s)
}
