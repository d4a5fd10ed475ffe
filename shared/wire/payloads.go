package wire

// JoinPayload is the payload of a phx_join envelope.
type JoinPayload struct {
	// P carries the user params passed to the view's mount.
	P map[string]any `json:"p,omitempty"`
	// Caller optionally attributes the join for test drivers.
	Caller any `json:"caller,omitempty"`
}

// ClientEventPayload is the payload of an "e" envelope.
type ClientEventPayload struct {
	// E is the user event name dispatched to handle_event.
	E string `json:"e"`
	// P is the user event payload.
	P map[string]any `json:"p,omitempty"`
}

// PatchPayload is the payload of an "o" envelope.
type PatchPayload struct {
	// O is the compressed patch: a flat positional array of
	// [opcode, path, third?] groups.
	O []any `json:"o"`
	// C is the render cycle counter, starting at 0.
	C int `json:"c"`
	// F contains the flash keys written this cycle, when any.
	F map[string]any `json:"f,omitempty"`
}

// RedirectPayload is the payload of a "redirect" envelope. Exactly one of
// To and External is set.
type RedirectPayload struct {
	// To is a local path redirect.
	To string `json:"to,omitempty"`
	// External is an absolute external URL redirect.
	External string `json:"external,omitempty"`
}

// ErrorReason is a generic error response body carried inside an error
// reply (e.g. {"reason": "no_route"}).
type ErrorReason struct {
	// Reason identifies the error.
	Reason string `json:"reason"`
}
