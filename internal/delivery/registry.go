// Package delivery routes job reports to notification channels by target
// prefix, such as "telegram:<chat id>".
package delivery

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Handler delivers a message to the channel identified by target.
type Handler func(target, message string) error

// Registry routes messages to the handler whose prefix matches the target.
// When several prefixes match, the longest wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	prefixes []string
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[prefix]; !ok {
		r.prefixes = append(r.prefixes, prefix)
		sort.Slice(r.prefixes, func(i, j int) bool {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		})
	}
	r.handlers[prefix] = handler
}

// Prefixes returns the registered prefixes, longest first.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.prefixes...)
}

func (r *Registry) lookup(target string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(target, prefix) {
			return r.handlers[prefix], true
		}
	}
	return nil, false
}

// Supports reports whether a handler is registered for target.
func (r *Registry) Supports(target string) bool {
	_, ok := r.lookup(target)
	return ok
}

// Deliver sends message through the handler matching target.
func (r *Registry) Deliver(target, message string) error {
	handler, ok := r.lookup(target)
	if !ok {
		return fmt.Errorf("no delivery handler for target: %s", target)
	}
	return handler(target, message)
}
