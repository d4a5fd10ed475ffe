// Package router maps route names to views and guards the reserved topic
// namespace. It also validates redirect targets.
package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// Route is the resolution result for a view route: the view module, its
// options, the session data handed to lifecycle hooks, and the pre-mount
// hook chain in registration order.
type Route struct {
	View    view.View
	Opts    map[string]any
	Session map[string]any
	OnMount []view.Hook
}

// ChannelHandler consumes raw envelopes for a user-registered channel.
type ChannelHandler func(env *wire.Envelope)

// ErrReservedNamespace reports an attempt to register a user channel under
// the dv:* namespace, which is reserved for LiveData.
var ErrReservedNamespace = errors.New("router: topic namespace dv:* is reserved")

// Registry holds view routes and user channels.
type Registry struct {
	mu       sync.RWMutex
	routes   map[string]Route
	channels map[string]ChannelHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		routes:   make(map[string]Route),
		channels: make(map[string]ChannelHandler),
	}
}

// Register adds a view route. The route name is the part after the
// "dv:c:" topic prefix.
func (r *Registry) Register(route string, def Route) error {
	if route == "" {
		return fmt.Errorf("router: empty route")
	}
	if def.View == nil {
		return fmt.Errorf("router: route %q has no view", route)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[route]; ok {
		return fmt.Errorf("router: route %q already registered", route)
	}
	r.routes[route] = def
	return nil
}

// RegisterChannel adds a user channel for a topic pattern. Patterns under
// the reserved dv:* namespace are refused at registration time.
func (r *Registry) RegisterChannel(pattern string, h ChannelHandler) error {
	if pattern == "" {
		return fmt.Errorf("router: empty channel pattern")
	}
	if strings.HasPrefix(pattern, wire.TopicPrefix) {
		return fmt.Errorf("%w: %q", ErrReservedNamespace, pattern)
	}
	if h == nil {
		return fmt.Errorf("router: channel %q has no handler", pattern)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[pattern]; ok {
		return fmt.Errorf("router: channel %q already registered", pattern)
	}
	r.channels[pattern] = h
	return nil
}

// Resolve returns the route registered under name. Params are accepted for
// handler parity; the registry's resolution is params-independent.
func (r *Registry) Resolve(route string, _ map[string]any) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.routes[route]
	if !ok {
		return nil, false
	}
	return &def, true
}

// Channel returns the handler for a user channel topic.
func (r *Registry) Channel(topic string) (ChannelHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.channels[topic]
	return h, ok
}
