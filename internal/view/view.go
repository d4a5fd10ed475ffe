// Package view defines the contract between user views and the session
// engine: the view capability interfaces, the per-session Socket with its
// assign store and scratch area, sub-component references, and the
// AsyncResult wrapper for deferred assigns.
package view

// View is the required half of the view contract: it materializes a
// JSON-compatible tree from the current assigns.
//
// The remaining operations are optional capabilities; the session checks for
// them with type assertions before dispatching.
type View interface {
	Render(assigns map[string]any) any
}

// Mounter is implemented by views that initialize state on join.
type Mounter interface {
	Mount(params map[string]any, sk *Socket) error
}

// EventHandler is implemented by views that consume client events.
type EventHandler interface {
	HandleEvent(event string, payload map[string]any, sk *Socket) error
}

// InfoHandler is implemented by views that consume server-side messages
// delivered via Session.Send.
type InfoHandler interface {
	HandleInfo(msg any, sk *Socket) error
}

// Component is a sub-component reference embedded in a render tree. The
// renderer replaces it with the result of Module.Render(Assigns); no
// Component value ever reaches the differ.
type Component struct {
	// ID identifies the component instance within its parent.
	ID string
	// Module renders the component.
	Module View
	// Assigns are the component's own assigns.
	Assigns map[string]any
}

// Verdict is the result of a pre-mount lifecycle hook.
type Verdict int

const (
	// Cont continues the mount chain.
	Cont Verdict = iota
	// Halt stops the chain; the view's own mount is skipped.
	Halt
)

// Hook is a pre-mount lifecycle callback. Hooks run in registration order
// before the view's Mount and may mutate the socket (including setting a
// redirect, which is honored even on Halt).
type Hook func(params, session map[string]any, sk *Socket) Verdict
