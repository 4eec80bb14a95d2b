// Package rpc implements the RPC Registry described in spec.md §4.2: a
// per-channel data structure that pairs an outbound synchronous AMQP
// method with whichever inbound frame eventually answers it.
package rpc

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/dihedron/amqpengine/wire"
)

// ErrTimeout is returned by GetRequest when no matching response arrives
// before the deadline. Per spec.md §4.2 the caller (Channel) must treat
// this as a channel error and close the channel.
var ErrTimeout = errors.New("rpc: timed out waiting for response")

type slot struct {
	expected map[string]struct{}
	result   chan wire.Frame
}

// Registry correlates outbound requests with inbound responses for one
// channel. Its zero value is not usable; construct with New.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

// RegisterRequest allocates a slot expecting a frame whose Name() is in
// expectedNames and returns a correlation token. An empty expectedNames
// marks the request fire-and-forget: GetRequest on that token returns
// immediately without blocking (spec.md §4.2).
func (r *Registry) RegisterRequest(expectedNames []string) string {
	token := uuid.NewV4().String()

	if len(expectedNames) == 0 {
		return token
	}

	expected := make(map[string]struct{}, len(expectedNames))
	for _, n := range expectedNames {
		expected[n] = struct{}{}
	}

	r.mu.Lock()
	r.slots[token] = &slot{
		expected: expected,
		result:   make(chan wire.Frame, 1),
	}
	r.mu.Unlock()

	return token
}

// OnFrame offers an inbound frame to every active slot. If some slot
// that is not yet filled expects the frame's name, the frame is stored in
// that slot for GetRequest and OnFrame returns true ("consumed"). Frames
// matching no unfilled slot fall through to the channel's general
// dispatch (spec.md §4.2 invariant).
func (r *Registry) OnFrame(f wire.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if _, ok := s.expected[f.Name()]; ok {
			select {
			case s.result <- f:
				return true
			default:
				// already filled, waiting for GetRequest
			}
		}
	}
	return false
}

// GetRequest blocks until the slot named by token is filled or timeout
// elapses, then removes the slot. A token from a fire-and-forget request
// (see RegisterRequest) has no slot and returns (nil, nil) immediately.
func (r *Registry) GetRequest(token string, timeout time.Duration) (wire.Frame, error) {
	r.mu.Lock()
	s, ok := r.slots[token]
	r.mu.Unlock()
	if !ok {
		// Either fire-and-forget, or already removed.
		return nil, nil
	}

	select {
	case f := <-s.result:
		r.mu.Lock()
		delete(r.slots, token)
		r.mu.Unlock()
		return f, nil
	case <-time.After(timeout):
		r.mu.Lock()
		delete(r.slots, token)
		r.mu.Unlock()
		return nil, ErrTimeout
	}
}
