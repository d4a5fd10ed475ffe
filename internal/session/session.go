// Package session implements the per-subscription view session: a mailbox
// actor that mounts a view, owns its socket, dispatches client and server
// events, runs asynchronous assigns, and streams framed patch envelopes.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/logger"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// Session is the long-lived actor owning one view subscription.
//
// All state below the inbox is owned by the actor goroutine; external
// callers interact through Enqueue-style entrypoints and the synchronous
// barriers.
type Session struct {
	route     string
	topic     string
	resolver  RouteResolver
	transport Transport
	opts      Options

	socket      *view.Socket
	vw          view.View
	routeOpts   map[string]any
	sessionData map[string]any
	state       sessionState

	renderCount  int
	lastRendered any
	hasRendered  bool

	asyncRefs    map[string]string
	asyncCancels map[string]context.CancelFunc

	recordedEvents []view.PushEventEntry
	recordedFlash  map[string]any

	inbox  chan input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	reason *Reason
}

// New creates a session for a route. The topic is the wire topic the
// session frames its envelopes with (ViewTopicPrefix + route).
func New(route string, resolver RouteResolver, transport Transport, opts Options) *Session {
	if opts.HibernateAfter <= 0 {
		opts.HibernateAfter = DefaultHibernateAfter
	}
	size := opts.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		route:        route,
		topic:        wire.ViewTopicPrefix + route,
		resolver:     resolver,
		transport:    transport,
		opts:         opts,
		state:        stateInit,
		renderCount:  -1,
		asyncRefs:    make(map[string]string),
		asyncCancels: make(map[string]context.CancelFunc),
		inbox:        make(chan input, size),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

// Topic returns the session's wire topic.
func (s *Session) Topic() string { return s.topic }

// Start launches the actor loop. Start is idempotent.
func (s *Session) Start() {
	s.once.Do(func() { go s.loop() })
}

// Done closes when the actor loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// StopReason returns the terminal reason once the session has stopped.
func (s *Session) StopReason() *Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Join enqueues the initial subscribe.
func (s *Session) Join(params map[string]any, ref, joinRef string) bool {
	return s.enqueue(joinInput{params: params, ref: ref, joinRef: joinRef})
}

// ClientEvent enqueues a client event for handle_event dispatch.
func (s *Session) ClientEvent(name string, payload map[string]any, ref, joinRef string) bool {
	return s.enqueue(clientEventInput{name: name, payload: payload, ref: ref, joinRef: joinRef})
}

// Send delivers an arbitrary server-side message to handle_info.
func (s *Session) Send(msg any) bool {
	return s.enqueue(infoInput{msg: msg})
}

// Leave enqueues a client leave.
func (s *Session) Leave(ref, joinRef string) bool {
	return s.enqueue(leaveInput{ref: ref, joinRef: joinRef})
}

// TransportDown signals that the transport monitor fired.
func (s *Session) TransportDown() bool {
	return s.enqueue(transportDownInput{})
}

// enqueue delivers an input to the mailbox. Inputs are dropped when the
// session is stopped or the mailbox is full (overload).
func (s *Session) enqueue(in input) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- in:
		return true
	default:
		logger.Warnf("[session] %s mailbox full; dropping %T", s.topic, in)
		return false
	}
}

// enqueueWait delivers a barrier input, blocking until accepted or the
// session stops.
func (s *Session) enqueueWait(in input) bool {
	select {
	case s.inbox <- in:
		return true
	case <-s.ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// Ping is a synchronous barrier: it returns once every previously enqueued
// input has been processed.
func (s *Session) Ping() error {
	done := make(chan struct{})
	if !s.enqueueWait(pingInput{done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Sync is a render barrier: it returns once all pending inputs, including
// their render cycles, have flushed.
func (s *Session) Sync() error {
	done := make(chan struct{})
	if !s.enqueueWait(syncInput{done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// TakeEvents returns the push events flushed since the previous call, in
// emission order, and clears the record.
func (s *Session) TakeEvents() []view.PushEventEntry {
	resp := make(chan []view.PushEventEntry, 1)
	if !s.enqueueWait(takeEventsInput{resp: resp}) {
		return nil
	}
	select {
	case events := <-resp:
		return events
	case <-s.done:
		return nil
	}
}

// TakeFlash returns the flash delta flushed since the previous call and
// clears the record.
func (s *Session) TakeFlash() map[string]any {
	resp := make(chan map[string]any, 1)
	if !s.enqueueWait(takeFlashInput{resp: resp}) {
		return nil
	}
	select {
	case flash := <-resp:
		return flash
	case <-s.done:
		return nil
	}
}

// ErrStopped is returned by barriers when the session has terminated.
var ErrStopped = fmt.Errorf("session stopped")

// loop runs the actor. A panic out of user code terminates the session
// with a crash reason; crashed sessions are not restarted.
func (s *Session) loop() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[session] %s crashed: %v", s.topic, r)
			s.setReason(&Reason{Kind: ReasonCrash, Err: r})
			s.transport.NotifyClose("crash")
			s.shutdown()
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case in := <-s.inbox:
			if stop := s.dispatch(in); stop {
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	s.cancel()
	for _, cancel := range s.asyncCancels {
		cancel()
	}
}

func (s *Session) setReason(r *Reason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == nil {
		s.reason = r
	}
}

// dispatch handles one input and reports whether the session must stop.
func (s *Session) dispatch(in input) bool {
	switch msg := in.(type) {
	case joinInput:
		return s.handleJoin(msg)
	case clientEventInput:
		return s.handleClientEvent(msg)
	case infoInput:
		return s.handleInfo(msg)
	case asyncResultInput:
		return s.handleAsyncResult(msg)
	case leaveInput:
		if msg.ref != "" {
			s.push(wire.NewReply(s.topic, msg.ref, msg.joinRef, "ok", map[string]any{}))
		}
		s.setReason(&Reason{Kind: ReasonClosed})
		s.transport.NotifyClose("closed")
		return true
	case transportDownInput:
		s.setReason(&Reason{Kind: ReasonClosed})
		return true
	case pingInput:
		close(msg.done)
		return false
	case syncInput:
		close(msg.done)
		return false
	case takeEventsInput:
		msg.resp <- s.recordedEvents
		s.recordedEvents = nil
		return false
	case takeFlashInput:
		msg.resp <- s.recordedFlash
		s.recordedFlash = nil
		return false
	default:
		logger.Warnf("[session] %s: unknown input %T", s.topic, in)
		return false
	}
}

// handleJoin resolves the route, runs the mount lifecycle, replies, and
// renders the initial document. The ok reply always precedes the first
// patch envelope.
func (s *Session) handleJoin(msg joinInput) bool {
	if s.state != stateInit {
		logger.Warnf("[session] %s: duplicate join ignored", s.topic)
		return false
	}

	route, ok := s.resolver.Resolve(s.route, msg.params)
	if !ok || route == nil {
		s.push(wire.NewReply(s.topic, msg.ref, msg.joinRef, "error", wire.ErrorReason{Reason: "no_route"}))
		s.setReason(&Reason{Kind: ReasonClosed})
		s.transport.NotifyClose("no_route")
		return true
	}

	s.state = stateMounting
	s.vw = route.View
	s.routeOpts = route.Opts
	s.sessionData = route.Session
	s.socket = view.NewSocket(s.opts.Endpoint)
	s.socket.SetLifecycle(route.OnMount)
	s.socket.SetAsyncLauncher(s)

	halted := false
	for _, hook := range s.socket.Lifecycle() {
		if hook(msg.params, s.sessionData, s.socket) == view.Halt {
			halted = true
			break
		}
	}

	if !halted {
		if mounter, ok := s.vw.(view.Mounter); ok {
			if err := mounter.Mount(msg.params, s.socket); err != nil {
				panic(fmt.Sprintf("mount failed: %v", err))
			}
		}
	}

	if stop := s.foldRedirect(msg.ref, msg.joinRef); stop {
		return true
	}

	s.push(wire.NewReply(s.topic, msg.ref, msg.joinRef, "ok", map[string]any{}))
	s.state = stateReady
	s.renderCycle("", "")
	return false
}

func (s *Session) handleClientEvent(msg clientEventInput) bool {
	if s.state != stateReady {
		logger.Warnf("[session] %s: client event %q before ready", s.topic, msg.name)
		return false
	}
	handler, ok := s.vw.(view.EventHandler)
	if !ok {
		panic(fmt.Sprintf("view %T does not handle events", s.vw))
	}
	if err := handler.HandleEvent(msg.name, msg.payload, s.socket); err != nil {
		panic(fmt.Sprintf("handle_event %q failed: %v", msg.name, err))
	}
	if stop := s.foldRedirect(msg.ref, msg.joinRef); stop {
		return true
	}
	s.renderCycle(msg.ref, msg.joinRef)
	return false
}

func (s *Session) handleInfo(msg infoInput) bool {
	if s.state != stateReady {
		logger.Warnf("[session] %s: info %T before ready", s.topic, msg.msg)
		return false
	}
	handler, ok := s.vw.(view.InfoHandler)
	if !ok {
		panic(fmt.Sprintf("view %T does not handle info messages", s.vw))
	}
	if err := handler.HandleInfo(msg.msg, s.socket); err != nil {
		panic(fmt.Sprintf("handle_info failed: %v", err))
	}
	if stop := s.foldRedirect("", ""); stop {
		return true
	}
	s.renderCycle("", "")
	return false
}

func (s *Session) push(env *wire.Envelope) {
	if err := s.transport.Push(env); err != nil {
		logger.Warnf("[session] %s: push %q failed: %v", s.topic, env.Event, err)
	}
}
