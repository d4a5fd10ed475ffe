package view

import (
	"fmt"
	"reflect"
	"regexp"
)

// FlashAssignKey is the assign under which flash messages live. Flash is
// part of the document; the per-cycle delta is mirrored on the scratch.
const FlashAssignKey = "flash"

// Redirect marks a socket for redirection. Exactly one of To and External
// is set.
type Redirect struct {
	// To is a local path.
	To string
	// External is an absolute external URL.
	External string
	// Unsafe marks an external redirect whose scheme is outside the
	// whitelist; it requires the explicit unsafe entrypoint.
	Unsafe bool
}

// PushEventEntry is a queued one-shot event awaiting flush.
type PushEventEntry struct {
	// Name is the user event name.
	Name string
	// Payload is the user payload.
	Payload any
}

// scratch holds the per-render-cycle outputs. It is reset after every
// flush; assigns (including flash) persist.
type scratch struct {
	events []PushEventEntry
	reply  any
	hasReply bool
	flash  map[string]any
}

// Socket is the per-session state owned exclusively by the session actor.
// No external mutation: user callbacks receive the socket on the actor
// goroutine and must not retain it.
type Socket struct {
	// Endpoint is an opaque endpoint descriptor.
	Endpoint any

	assigns   map[string]any
	changed   map[string]any
	redirect  *Redirect
	lifecycle []Hook
	scratch   scratch
	async     AsyncLauncher
}

// SetAsyncLauncher installs the async subsystem handle. The owning session
// calls this before running any view callback.
func (s *Socket) SetAsyncLauncher(l AsyncLauncher) { s.async = l }

// AssignAsync stores a loading AsyncResult under each key and launches the
// producer on the owning session's async subsystem. Results fold back into
// the assigns as AsyncOK or AsyncFailed; a superseding call for a key
// cancels the prior attempt.
func (s *Socket) AssignAsync(keys []string, producer AsyncProducer) {
	if s.async == nil {
		panic("view: socket has no async launcher")
	}
	s.async.LaunchAsync(s, keys, producer)
}

// NewSocket creates a socket with empty assigns.
func NewSocket(endpoint any) *Socket {
	return &Socket{
		Endpoint: endpoint,
		assigns:  make(map[string]any),
		changed:  make(map[string]any),
	}
}

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validKey(key string) {
	if !identifierRe.MatchString(key) {
		panic(fmt.Sprintf("view: assign key %q is not an identifier", key))
	}
}

// Assigns returns the assigns map. Callers must treat it as read-only.
func (s *Socket) Assigns() map[string]any { return s.assigns }

// Get returns the assign stored under key.
func (s *Socket) Get(key string) (any, bool) {
	v, ok := s.assigns[key]
	return v, ok
}

// Assign sets key to value. Structurally equal re-assignments are no-ops.
// The changed hint for a mutated key records the previous value when it was
// a map (enabling nested diff hints) and true otherwise.
func (s *Socket) Assign(key string, value any) {
	validKey(key)
	prev, existed := s.assigns[key]
	if existed && reflect.DeepEqual(prev, value) {
		return
	}
	s.assigns[key] = value
	if existed && isMap(prev) {
		s.changed[key] = prev
	} else {
		s.changed[key] = true
	}
}

// AssignMap folds Assign over every entry of m.
func (s *Socket) AssignMap(m map[string]any) {
	for k, v := range m {
		s.Assign(k, v)
	}
}

// AssignNew assigns the result of fn under key only when key is absent.
func (s *Socket) AssignNew(key string, fn func() any) {
	validKey(key)
	if _, ok := s.assigns[key]; ok {
		return
	}
	s.Assign(key, fn())
}

// ForceAssign sets key to value without the equality short-circuit.
func (s *Socket) ForceAssign(key string, value any) {
	validKey(key)
	prev, existed := s.assigns[key]
	s.assigns[key] = value
	if existed && isMap(prev) {
		s.changed[key] = prev
	} else {
		s.changed[key] = true
	}
}

// Changed returns the per-key change hints accumulated since the last
// render.
func (s *Socket) Changed() map[string]any { return s.changed }

// ClearChanged resets the change hints. The session calls this after each
// render cycle.
func (s *Socket) ClearChanged() {
	s.changed = make(map[string]any)
}

func isMap(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Map
}

// Redirect marks the socket for a local redirect. Setting a redirect twice
// is a programmer error.
func (s *Socket) Redirect(to string) {
	s.setRedirect(&Redirect{To: to})
}

// RedirectExternal marks the socket for an external redirect. The scheme
// must be on the whitelist.
func (s *Socket) RedirectExternal(url string) {
	s.setRedirect(&Redirect{External: url})
}

// RedirectExternalUnsafe marks the socket for an external redirect with a
// scheme outside the whitelist. Callers opt in explicitly.
func (s *Socket) RedirectExternalUnsafe(url string) {
	s.setRedirect(&Redirect{External: url, Unsafe: true})
}

func (s *Socket) setRedirect(r *Redirect) {
	if s.redirect != nil {
		panic("view: socket is already redirected")
	}
	s.redirect = r
}

// Redirected returns the redirect marker, or nil.
func (s *Socket) Redirected() *Redirect { return s.redirect }

// SetLifecycle installs the pre-mount hook chain.
func (s *Socket) SetLifecycle(hooks []Hook) { s.lifecycle = hooks }

// Lifecycle returns the pre-mount hook chain in registration order.
func (s *Socket) Lifecycle() []Hook { return s.lifecycle }

// PushEvent queues a one-shot event. Queued events are emitted after the
// patch envelope, in insertion order, then cleared.
func (s *Socket) PushEvent(name string, payload any) {
	s.scratch.events = append(s.scratch.events, PushEventEntry{Name: name, Payload: payload})
}

// PushEvents returns the queued events in insertion order.
func (s *Socket) PushEvents() []PushEventEntry { return s.scratch.events }

// PutReply stores the pending reply for the event currently being handled,
// overwriting any prior reply in the same cycle.
func (s *Socket) PutReply(payload any) {
	s.scratch.reply = payload
	s.scratch.hasReply = true
}

// TakeReply returns the pending reply, if any, and clears it.
func (s *Socket) TakeReply() (any, bool) {
	if !s.scratch.hasReply {
		return nil, false
	}
	reply := s.scratch.reply
	s.scratch.reply = nil
	s.scratch.hasReply = false
	return reply, true
}

// PutFlash writes a flash message under key, both into the flash assign
// (so it diffs into the document) and into the per-cycle flash delta.
func (s *Socket) PutFlash(key string, msg any) {
	k := fmt.Sprint(key)
	flash := s.flashAssign()
	flash[k] = msg
	s.ForceAssign(FlashAssignKey, flash)
	if s.scratch.flash == nil {
		s.scratch.flash = make(map[string]any)
	}
	s.scratch.flash[k] = msg
}

// ClearFlash removes all flash messages from the assign and the delta.
func (s *Socket) ClearFlash() {
	s.ForceAssign(FlashAssignKey, map[string]any{})
	s.scratch.flash = nil
}

// ClearFlashKey removes a single flash key from the assign and the delta.
func (s *Socket) ClearFlashKey(key string) {
	k := fmt.Sprint(key)
	flash := s.flashAssign()
	delete(flash, k)
	s.ForceAssign(FlashAssignKey, flash)
	delete(s.scratch.flash, k)
}

// FlashDelta returns the flash keys written this cycle.
func (s *Socket) FlashDelta() map[string]any { return s.scratch.flash }

func (s *Socket) flashAssign() map[string]any {
	if v, ok := s.assigns[FlashAssignKey]; ok {
		if m, ok := v.(map[string]any); ok {
			// Copy so the previous flash map, which ForceAssign records
			// as the changed hint, is not mutated in place.
			out := make(map[string]any, len(m))
			for k, val := range m {
				out[k] = val
			}
			return out
		}
	}
	return make(map[string]any)
}

// ResetScratch clears the per-cycle outputs. The flash assign persists; the
// delta, queued events and pending reply do not survive a flush.
func (s *Socket) ResetScratch() {
	s.scratch = scratch{}
}
