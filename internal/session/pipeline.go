package session

import (
	"fmt"

	"github.com/RodolfoSilva/live-data/internal/patch"
	"github.com/RodolfoSilva/live-data/internal/render"
	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// renderCycle runs the pipeline after a handler: render, diff against the
// last document, frame the patch, flush scratch. Outbound order within a
// cycle is patch, then push events in insertion order, then the pending
// reply. replyRef/replyJoinRef carry the refs of the inbound event a
// pending reply answers.
func (s *Session) renderCycle(replyRef, replyJoinRef string) {
	tree, _, err := render.Render(s.vw, s.socket.Assigns())
	if err != nil {
		panic(fmt.Sprintf("render failed: %v", err))
	}

	flat, err := patch.Diff(s.lastRendered, s.hasRendered, tree)
	if err != nil {
		panic(fmt.Sprintf("diff failed: %v", err))
	}
	if flat == nil {
		flat = []any{}
	}

	s.renderCount++
	payload := wire.PatchPayload{O: flat, C: s.renderCount}
	if delta := s.socket.FlashDelta(); len(delta) > 0 {
		payload.F = delta
	}
	s.push(&wire.Envelope{Topic: s.topic, Event: wire.EventPatch, Payload: payload})

	for _, ev := range s.socket.PushEvents() {
		s.push(&wire.Envelope{Topic: s.topic, Event: ev.Name, Payload: ev.Payload})
		s.recordedEvents = append(s.recordedEvents, ev)
	}

	if reply, ok := s.socket.TakeReply(); ok {
		s.push(wire.NewReply(s.topic, replyRef, replyJoinRef, "ok", reply))
	}

	for k, v := range s.socket.FlashDelta() {
		if s.recordedFlash == nil {
			s.recordedFlash = make(map[string]any)
		}
		s.recordedFlash[k] = v
	}

	s.lastRendered = tree
	s.hasRendered = true
	s.socket.ClearChanged()
	s.socket.ResetScratch()
}

// foldRedirect checks the redirect marker after a handler fold. A set
// marker emits the redirect (as a reply when one is outstanding, as a push
// otherwise), notifies the transport, and stops the session.
func (s *Session) foldRedirect(replyRef, replyJoinRef string) bool {
	r := s.socket.Redirected()
	if r == nil {
		return false
	}

	if r.External != "" {
		validate := router.ValidateExternalRedirect
		if r.Unsafe {
			validate = router.ValidateExternalRedirectUnsafe
		}
		if err := validate(r.External); err != nil {
			panic(err.Error())
		}
	} else {
		if err := router.ValidateLocalRedirect(r.To); err != nil {
			panic(err.Error())
		}
	}

	payload := redirectPayload(r)
	if replyRef != "" {
		s.push(wire.NewReply(s.topic, replyRef, replyJoinRef, "ok", map[string]any{"redirect": payload}))
	} else {
		s.push(&wire.Envelope{Topic: s.topic, Event: wire.EventRedirect, Payload: payload})
	}

	s.setReason(&Reason{Kind: ReasonRedirect, Redirect: r})
	s.transport.NotifyClose("redirect")
	return true
}

func redirectPayload(r *view.Redirect) wire.RedirectPayload {
	if r.External != "" {
		return wire.RedirectPayload{External: r.External}
	}
	return wire.RedirectPayload{To: r.To}
}
