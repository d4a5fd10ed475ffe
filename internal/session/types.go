package session

import (
	"time"

	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// Transport delivers outbound envelopes to the connected client.
//
// Implementations are shared with the socket layer; the session only ever
// calls them from its own goroutine.
type Transport interface {
	// Push sends an envelope to the client.
	Push(env *wire.Envelope) error
	// NotifyClose tells the transport the session is gone, so it can drop
	// its subscription bookkeeping.
	NotifyClose(reason string)
}

// RouteResolver maps a route name and join params to a route, or reports
// that no route exists.
type RouteResolver interface {
	Resolve(route string, params map[string]any) (*router.Route, bool)
}

// Options configures a session.
type Options struct {
	// Endpoint is an opaque endpoint descriptor stored on the socket.
	Endpoint any
	// HibernateAfter is the idle interval after which the session may
	// hibernate. A parked mailbox goroutine preserves all state, so this is
	// accepted for contract compatibility and otherwise inert.
	HibernateAfter time.Duration
	// MailboxSize is the inbox buffer size.
	MailboxSize int
}

// DefaultHibernateAfter is the default idle hibernation interval.
const DefaultHibernateAfter = 15 * time.Second

const defaultMailboxSize = 256

// ReasonKind classifies why a session terminated.
type ReasonKind int

const (
	// ReasonClosed covers transport loss and client leave.
	ReasonClosed ReasonKind = iota
	// ReasonRedirect means the view redirected the client.
	ReasonRedirect
	// ReasonCrash means a user callback failed; the session is not
	// restarted server-side.
	ReasonCrash
)

// Reason is a session's terminal reason.
type Reason struct {
	Kind ReasonKind
	// Redirect holds the redirect options for ReasonRedirect.
	Redirect *view.Redirect
	// Err holds the failure for ReasonCrash.
	Err any
}

// sessionState tracks the lifecycle state machine.
type sessionState int

const (
	stateInit sessionState = iota
	stateMounting
	stateReady
)

// input is an item delivered to the session mailbox.
type input interface {
	isSessionInput()
}

type joinInput struct {
	params  map[string]any
	ref     string
	joinRef string
}

type clientEventInput struct {
	name    string
	payload map[string]any
	ref     string
	joinRef string
}

type infoInput struct {
	msg any
}

type asyncResultInput struct {
	ref    string
	cid    string
	keys   []string
	values map[string]any
	err    any
}

type leaveInput struct {
	ref     string
	joinRef string
}

type transportDownInput struct{}

type pingInput struct {
	done chan struct{}
}

type syncInput struct {
	done chan struct{}
}

type takeEventsInput struct {
	resp chan []view.PushEventEntry
}

type takeFlashInput struct {
	resp chan map[string]any
}

func (joinInput) isSessionInput()          {}
func (clientEventInput) isSessionInput()   {}
func (infoInput) isSessionInput()          {}
func (asyncResultInput) isSessionInput()   {}
func (leaveInput) isSessionInput()         {}
func (transportDownInput) isSessionInput() {}
func (pingInput) isSessionInput()          {}
func (syncInput) isSessionInput()          {}
func (takeEventsInput) isSessionInput()    {}
func (takeFlashInput) isSessionInput()     {}
