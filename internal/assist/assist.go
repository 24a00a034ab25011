// Package assist is the boundary to the reply-producing collaborator.
// The session store never generates assistant content itself; it hands
// the conversation to a Responder and appends whatever comes back.
package assist

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type Message struct {
	Role    string
	Content string
}

// Reply is a tagged result. A responder that is not ready to answer
// (backend down, not configured) says so in-band instead of returning an
// error: "not ready" is an expected state, not a failure.
type Reply struct {
	Ready   bool
	Reason  string
	Content string
}

func NotReady(reason string) Reply {
	return Reply{Ready: false, Reason: reason}
}

type Responder interface {
	Respond(ctx context.Context, history []Message) Reply
}

type ResponderFactory func(ctx context.Context) (Responder, error)

// Registry maps responder names to factories so deployments can pick a
// backend by config.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ResponderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ResponderFactory)}
}

func (r *Registry) Register(name string, f ResponderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string) (Responder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown responder: %s", name)
	}
	return f(ctx)
}

// EchoResponder is the built-in default: it acknowledges the last user
// message. Real backends register their own responders.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, history []Message) Reply {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return Reply{Ready: true, Content: "You said: " + history[i].Content}
		}
	}
	return NotReady("no user message to respond to")
}
