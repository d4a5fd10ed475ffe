// Package transport multiplexes view sessions over a duplex socket
// connection: a hub routes inbound envelopes by topic to per-subscription
// sessions and fans their outbound envelopes into the connection writer.
package transport

import (
	"sync"

	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/session"
	"github.com/RodolfoSilva/live-data/shared/logger"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// EnvelopeWriter is the outbound half of a connection.
type EnvelopeWriter interface {
	WriteEnvelope(env *wire.Envelope) error
}

// Hub owns the sessions of one connection.
type Hub struct {
	registry *router.Registry
	writer   EnvelopeWriter
	opts     session.Options

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
}

// NewHub creates a hub writing through w.
func NewHub(registry *router.Registry, w EnvelopeWriter, opts session.Options) *Hub {
	return &Hub{
		registry: registry,
		writer:   w,
		opts:     opts,
		sessions: make(map[string]*session.Session),
	}
}

// sessionTransport adapts the hub to the session.Transport contract for a
// single topic.
type sessionTransport struct {
	hub   *Hub
	topic string
}

func (t *sessionTransport) Push(env *wire.Envelope) error {
	return t.hub.writer.WriteEnvelope(env)
}

func (t *sessionTransport) NotifyClose(reason string) {
	t.hub.dropSession(t.topic, reason)
}

// HandleEnvelope routes one inbound envelope.
func (h *Hub) HandleEnvelope(env *wire.Envelope) {
	if env == nil || env.Topic == "" {
		return
	}

	switch env.Event {
	case wire.EventJoin:
		h.handleJoin(env)
		return
	}

	if sess := h.session(env.Topic); sess != nil {
		h.dispatchToSession(sess, env)
		return
	}

	if handler, ok := h.registry.Channel(env.Topic); ok {
		handler(env)
		return
	}

	logger.Tracef("[transport] envelope for unjoined topic %q dropped", env.Topic)
	if env.Ref != "" {
		_ = h.writer.WriteEnvelope(wire.NewReply(env.Topic, env.Ref, env.JoinRef, "error", wire.ErrorReason{Reason: "unmatched_topic"}))
	}
}

func (h *Hub) handleJoin(env *wire.Envelope) {
	topic := env.Topic
	route, ok := wire.RouteFromTopic(topic)
	if !ok {
		if handler, chOK := h.registry.Channel(topic); chOK {
			handler(env)
			return
		}
		_ = h.writer.WriteEnvelope(wire.NewReply(topic, env.Ref, env.JoinRef, "error", wire.ErrorReason{Reason: "no_route"}))
		return
	}

	var payload wire.JoinPayload
	if err := wire.DecodeAny(env.Payload, &payload); err != nil {
		logger.Warnf("[transport] join payload decode failed for %q: %v", topic, err)
		_ = h.writer.WriteEnvelope(wire.NewReply(topic, env.Ref, env.JoinRef, "error", wire.ErrorReason{Reason: "bad_payload"}))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if _, exists := h.sessions[topic]; exists {
		h.mu.Unlock()
		logger.Warnf("[transport] duplicate join for %q ignored", topic)
		return
	}
	sess := session.New(route, h.registry, &sessionTransport{hub: h, topic: topic}, h.opts)
	h.sessions[topic] = sess
	h.mu.Unlock()

	sess.Start()
	sess.Join(payload.P, env.Ref, env.JoinRef)
}

func (h *Hub) dispatchToSession(sess *session.Session, env *wire.Envelope) {
	switch env.Event {
	case wire.EventClientEvent:
		var payload wire.ClientEventPayload
		if err := wire.DecodeAny(env.Payload, &payload); err != nil {
			logger.Warnf("[transport] client event decode failed for %q: %v", env.Topic, err)
			return
		}
		sess.ClientEvent(payload.E, payload.P, env.Ref, env.JoinRef)
	case wire.EventLeave:
		sess.Leave(env.Ref, env.JoinRef)
	default:
		logger.Tracef("[transport] unhandled event %q for %q", env.Event, env.Topic)
	}
}

func (h *Hub) session(topic string) *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[topic]
}

// Session exposes a joined session for test drivers.
func (h *Hub) Session(topic string) *session.Session {
	return h.session(topic)
}

func (h *Hub) dropSession(topic, reason string) {
	h.mu.Lock()
	_, ok := h.sessions[topic]
	delete(h.sessions, topic)
	h.mu.Unlock()
	if ok {
		logger.Debugf("[transport] session %q closed: %s", topic, reason)
	}
}

// Shutdown signals transport loss to every session and drops them. Called
// when the underlying connection is gone.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.sessions = make(map[string]*session.Session)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.TransportDown()
	}
}
