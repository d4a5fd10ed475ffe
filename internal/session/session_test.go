package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/RodolfoSilva/live-data/internal/patch"
	"github.com/RodolfoSilva/live-data/internal/router"
	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/wire"
)

// fakeTransport records pushed envelopes and close notifications.
type fakeTransport struct {
	mu        sync.Mutex
	envelopes []*wire.Envelope
	reasons   []string
}

func (f *fakeTransport) Push(env *wire.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, env)
	return nil
}

func (f *fakeTransport) NotifyClose(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeTransport) all() []*wire.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*wire.Envelope, len(f.envelopes))
	copy(out, f.envelopes)
	return out
}

func (f *fakeTransport) closeReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reasons))
	copy(out, f.reasons)
	return out
}

type staticResolver struct {
	route *router.Route
}

func (r staticResolver) Resolve(string, map[string]any) (*router.Route, bool) {
	return r.route, r.route != nil
}

// counterView mirrors the demo counter: mount initializes the counter,
// client events increment it, server messages increment it with a flash
// and a one-shot chart event.
type counterView struct{}

func (counterView) Mount(params map[string]any, sk *view.Socket) error {
	sk.Assign("counter", 0)
	return nil
}

func (counterView) HandleEvent(event string, payload map[string]any, sk *view.Socket) error {
	if event == "increment" {
		counter, _ := sk.Get("counter")
		sk.Assign("counter", counter.(int)+1)
	}
	return nil
}

func (counterView) HandleInfo(msg any, sk *view.Socket) error {
	if msg == "increment" {
		counter, _ := sk.Get("counter")
		sk.Assign("counter", counter.(int)+1)
		sk.PutFlash("info", "Incremented!")
		sk.PushEvent("chart", map[string]any{})
	}
	return nil
}

func (counterView) Render(assigns map[string]any) any {
	return map[string]any{"counter": assigns["counter"]}
}

func startSession(t *testing.T, v view.View, opts Options) (*Session, *fakeTransport) {
	t.Helper()
	return startSessionWithRoute(t, &router.Route{View: v}, opts)
}

func startSessionWithRoute(t *testing.T, route *router.Route, opts Options) (*Session, *fakeTransport) {
	t.Helper()
	tp := &fakeTransport{}
	sess := New("counter", staticResolver{route: route}, tp, opts)
	sess.Start()
	t.Cleanup(func() { sess.shutdownForTest() })
	return sess, tp
}

// shutdownForTest cancels the actor without going through a terminal input.
func (s *Session) shutdownForTest() {
	s.cancel()
}

// patchPayloads extracts the "o" payloads in emission order.
func patchPayloads(envs []*wire.Envelope) []wire.PatchPayload {
	var out []wire.PatchPayload
	for _, env := range envs {
		if env.Event == wire.EventPatch {
			out = append(out, env.Payload.(wire.PatchPayload))
		}
	}
	return out
}

// replayPatches applies every patch envelope the way the client does and
// returns the resulting document.
func replayPatches(t *testing.T, envs []*wire.Envelope) any {
	t.Helper()

	wrapped := []byte(`{}`)
	applied := false
	for _, env := range envs {
		if env.Event != wire.EventPatch {
			continue
		}
		payload := env.Payload.(wire.PatchPayload)
		ops, err := patch.Decompress(payload.O)
		require.NoError(t, err)
		if len(ops) == 0 {
			applied = true
			continue
		}
		rawOps, err := json.Marshal(ops)
		require.NoError(t, err)
		p, err := jsonpatch.DecodePatch(rawOps)
		require.NoError(t, err)
		wrapped, err = p.Apply(wrapped)
		require.NoError(t, err)
		applied = true
	}
	require.True(t, applied, "no patch envelope seen")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(wrapped, &doc))
	return doc["r"]
}

func jsonNorm(t *testing.T, v any) any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func requireDoc(t *testing.T, tp *fakeTransport, want any) {
	t.Helper()
	got := replayPatches(t, tp.all())
	if diff := cmp.Diff(jsonNorm(t, want), got); diff != "" {
		t.Fatalf("client document mismatch (-want +got):\n%s", diff)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestJoin_InitialRender(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	require.True(t, sess.Join(map[string]any{}, "1", "1"))
	require.NoError(t, sess.Sync())

	envs := tp.all()
	require.GreaterOrEqual(t, len(envs), 2)

	// The ok reply precedes the first patch envelope.
	require.Equal(t, wire.EventReply, envs[0].Event)
	reply := envs[0].Payload.(wire.ReplyPayload)
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, "1", envs[0].Ref)

	require.Equal(t, wire.EventPatch, envs[1].Event)
	payload := envs[1].Payload.(wire.PatchPayload)
	require.Equal(t, 0, payload.C)

	ops, err := patch.Decompress(payload.O)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "add", ops[0].Op)
	require.Equal(t, "/r", ops[0].Path)

	requireDoc(t, tp, map[string]any{"counter": 0})
}

func TestJoin_NoRoute(t *testing.T) {
	tp := &fakeTransport{}
	sess := New("missing", staticResolver{}, tp, Options{})
	sess.Start()

	sess.Join(map[string]any{}, "1", "1")
	<-sess.Done()

	envs := tp.all()
	require.Len(t, envs, 1)
	require.Equal(t, wire.EventReply, envs[0].Event)
	reply := envs[0].Payload.(wire.ReplyPayload)
	require.Equal(t, "error", reply.Status)
	require.Equal(t, wire.ErrorReason{Reason: "no_route"}, reply.Response)

	require.Equal(t, ReasonClosed, sess.StopReason().Kind)
}

func TestHandleInfo_FlashAndPushEventOrdering(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	before := len(tp.all())
	sess.Send("increment")
	require.NoError(t, sess.Sync())

	envs := tp.all()[before:]
	require.Len(t, envs, 2)

	// Patch first, then the chart event.
	require.Equal(t, wire.EventPatch, envs[0].Event)
	payload := envs[0].Payload.(wire.PatchPayload)
	require.Equal(t, 1, payload.C)
	require.Equal(t, map[string]any{"info": "Incremented!"}, payload.F)

	ops, err := patch.Decompress(payload.O)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "replace", ops[0].Op)
	require.Equal(t, "/r/counter", ops[0].Path)

	require.Equal(t, "chart", envs[1].Event)

	requireDoc(t, tp, map[string]any{"counter": 1})
}

func TestBarriers_ExactlyOnce(t *testing.T) {
	sess, _ := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	sess.Send("increment")
	require.NoError(t, sess.Sync())

	events := sess.TakeEvents()
	require.Len(t, events, 1)
	require.Equal(t, "chart", events[0].Name)
	require.Empty(t, sess.TakeEvents(), "events are recorded exactly once")

	flash := sess.TakeFlash()
	require.Equal(t, map[string]any{"info": "Incremented!"}, flash)
	require.Empty(t, sess.TakeFlash(), "flash is recorded exactly once")

	// A cycle with no new events or flash records nothing.
	sess.ClientEvent("increment", nil, "", "")
	require.NoError(t, sess.Sync())
	require.Empty(t, sess.TakeEvents())
	require.Empty(t, sess.TakeFlash())
}

func TestClientEvent_Increment(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	sess.Send("increment")
	require.NoError(t, sess.Sync())

	before := len(tp.all())
	sess.ClientEvent("increment", map[string]any{}, "7", "1")
	require.NoError(t, sess.Sync())

	envs := tp.all()[before:]
	require.Len(t, envs, 1, "no events, no flash, no reply")
	payload := envs[0].Payload.(wire.PatchPayload)
	require.Equal(t, 2, payload.C)
	require.Empty(t, payload.F)

	ops, err := patch.Decompress(payload.O)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "replace", ops[0].Op)
	require.Equal(t, "/r/counter", ops[0].Path)

	requireDoc(t, tp, map[string]any{"counter": 2})
}

// replyView answers client events with a reply.
type replyView struct{}

func (replyView) Mount(params map[string]any, sk *view.Socket) error {
	sk.Assign("n", 0)
	return nil
}

func (replyView) HandleEvent(event string, payload map[string]any, sk *view.Socket) error {
	sk.PutReply(map[string]any{"echo": event})
	return nil
}

func (replyView) Render(assigns map[string]any) any {
	return map[string]any{"n": assigns["n"]}
}

func TestClientEvent_ReplyFollowsPatch(t *testing.T) {
	sess, tp := startSession(t, replyView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	before := len(tp.all())
	sess.ClientEvent("hello", nil, "9", "1")
	require.NoError(t, sess.Sync())

	envs := tp.all()[before:]
	require.Len(t, envs, 2)
	require.Equal(t, wire.EventPatch, envs[0].Event)
	require.Equal(t, wire.EventReply, envs[1].Event)
	require.Equal(t, "9", envs[1].Ref)
	reply := envs[1].Payload.(wire.ReplyPayload)
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, map[string]any{"echo": "hello"}, reply.Response)
}

func TestRenderCount_MonotonicEvenWithoutChanges(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")

	// Info messages the view ignores still re-render: the client observes
	// empty patches with an advancing cycle counter.
	sess.Send("noop")
	sess.Send("noop")
	sess.Send("noop")
	require.NoError(t, sess.Sync())

	payloads := patchPayloads(tp.all())
	require.Len(t, payloads, 4)
	for i, payload := range payloads {
		require.Equal(t, i, payload.C)
		if i > 0 {
			require.Empty(t, payload.O)
		}
	}
}

// componentView renders two entries with greeter sub-components.
type componentView struct{}

type greeterComponent struct{}

func (greeterComponent) Render(assigns map[string]any) any {
	return map[string]any{"hello": assigns["name"]}
}

func (componentView) Mount(params map[string]any, sk *view.Socket) error {
	sk.Assign("counter", 0)
	return nil
}

func (componentView) Render(assigns map[string]any) any {
	entry := func(name string) map[string]any {
		return map[string]any{
			"counter": assigns["counter"],
			"welcome": view.Component{ID: "hello", Module: greeterComponent{}, Assigns: map[string]any{"name": name}},
		}
	}
	return []any{entry("World"), entry("Elixir")}
}

func TestComponents_ExpandIntoDocument(t *testing.T) {
	sess, tp := startSession(t, componentView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	requireDoc(t, tp, []any{
		map[string]any{"counter": 0, "welcome": map[string]any{"hello": "World"}},
		map[string]any{"counter": 0, "welcome": map[string]any{"hello": "Elixir"}},
	})
}

func TestLeave_StopsSession(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	sess.Leave("5", "1")
	<-sess.Done()

	require.Equal(t, ReasonClosed, sess.StopReason().Kind)
	require.Equal(t, []string{"closed"}, tp.closeReasons())

	envs := tp.all()
	last := envs[len(envs)-1]
	require.Equal(t, wire.EventReply, last.Event)
	require.Equal(t, "5", last.Ref)

	require.ErrorIs(t, sess.Ping(), ErrStopped)
}

func TestTransportDown_StopsSession(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	sess.TransportDown()
	<-sess.Done()

	require.Equal(t, ReasonClosed, sess.StopReason().Kind)
	require.Empty(t, tp.closeReasons(), "transport is already gone")
}

// crashView fails its event handler.
type crashView struct{}

func (crashView) Mount(params map[string]any, sk *view.Socket) error { return nil }

func (crashView) HandleEvent(event string, payload map[string]any, sk *view.Socket) error {
	return errors.New("boom")
}

func (crashView) Render(assigns map[string]any) any { return map[string]any{} }

func TestCallbackFailure_CrashesSession(t *testing.T) {
	sess, tp := startSession(t, crashView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	sess.ClientEvent("explode", nil, "3", "1")
	<-sess.Done()

	require.Equal(t, ReasonCrash, sess.StopReason().Kind)
	require.Equal(t, []string{"crash"}, tp.closeReasons())
}

// redirectView redirects on demand.
type redirectView struct {
	target string
}

func (v redirectView) Mount(params map[string]any, sk *view.Socket) error { return nil }

func (v redirectView) HandleEvent(event string, payload map[string]any, sk *view.Socket) error {
	sk.Redirect(v.target)
	return nil
}

func (v redirectView) Render(assigns map[string]any) any { return map[string]any{} }

func TestRedirect_RepliesAndStops(t *testing.T) {
	sess, tp := startSession(t, redirectView{target: "/home"}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	before := len(tp.all())
	sess.ClientEvent("go", nil, "4", "1")
	<-sess.Done()

	require.Equal(t, ReasonRedirect, sess.StopReason().Kind)
	require.Equal(t, &view.Redirect{To: "/home"}, sess.StopReason().Redirect)
	require.Equal(t, []string{"redirect"}, tp.closeReasons())

	envs := tp.all()[before:]
	require.Len(t, envs, 1)
	require.Equal(t, wire.EventReply, envs[0].Event)
	reply := envs[0].Payload.(wire.ReplyPayload)
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, map[string]any{"redirect": wire.RedirectPayload{To: "/home"}}, reply.Response)
}

func TestRedirect_InvalidTargetCrashes(t *testing.T) {
	sess, _ := startSession(t, redirectView{target: "//evil.example"}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	sess.ClientEvent("go", nil, "4", "1")
	<-sess.Done()

	require.Equal(t, ReasonCrash, sess.StopReason().Kind)
}

// infoRedirectView redirects from handle_info, where no reply is
// outstanding, so the redirect goes out as a push.
type infoRedirectView struct{}

func (infoRedirectView) Mount(params map[string]any, sk *view.Socket) error { return nil }

func (infoRedirectView) HandleInfo(msg any, sk *view.Socket) error {
	sk.Redirect("/elsewhere")
	return nil
}

func (infoRedirectView) Render(assigns map[string]any) any { return map[string]any{} }

func TestRedirect_PushWhenNoReplyOutstanding(t *testing.T) {
	sess, tp := startSession(t, infoRedirectView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	before := len(tp.all())
	sess.Send("go")
	<-sess.Done()

	envs := tp.all()[before:]
	require.Len(t, envs, 1)
	require.Equal(t, wire.EventRedirect, envs[0].Event)
	require.Equal(t, wire.RedirectPayload{To: "/elsewhere"}, envs[0].Payload)
}

func TestHooks_RunInOrderBeforeMount(t *testing.T) {
	var order []string
	hooks := []view.Hook{
		func(params, session map[string]any, sk *view.Socket) view.Verdict {
			order = append(order, "first")
			sk.Assign("from_hook", session["user"])
			return view.Cont
		},
		func(params, session map[string]any, sk *view.Socket) view.Verdict {
			order = append(order, "second")
			return view.Cont
		},
	}

	sess, tp := startSessionWithRoute(t, &router.Route{
		View:    hookProbeView{},
		Session: map[string]any{"user": "anon"},
		OnMount: hooks,
	}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	require.Equal(t, []string{"first", "second"}, order)
	requireDoc(t, tp, map[string]any{"from_hook": "anon", "mounted": true})
}

func TestHooks_HaltSkipsMount(t *testing.T) {
	halt := func(params, session map[string]any, sk *view.Socket) view.Verdict {
		sk.Assign("halted", true)
		return view.Halt
	}

	sess, tp := startSessionWithRoute(t, &router.Route{
		View:    hookProbeView{},
		OnMount: []view.Hook{halt},
	}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Sync())

	requireDoc(t, tp, map[string]any{"halted": true})
}

func TestHooks_HaltWithRedirect(t *testing.T) {
	halt := func(params, session map[string]any, sk *view.Socket) view.Verdict {
		sk.Redirect("/login")
		return view.Halt
	}

	sess, tp := startSessionWithRoute(t, &router.Route{
		View:    hookProbeView{},
		OnMount: []view.Hook{halt},
	}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	<-sess.Done()

	require.Equal(t, ReasonRedirect, sess.StopReason().Kind)
	envs := tp.all()
	require.Len(t, envs, 1)
	reply := envs[0].Payload.(wire.ReplyPayload)
	require.Equal(t, "ok", reply.Status)
	require.Equal(t, map[string]any{"redirect": wire.RedirectPayload{To: "/login"}}, reply.Response)
}

// hookProbeView records whether its mount ran.
type hookProbeView struct{}

func (hookProbeView) Mount(params map[string]any, sk *view.Socket) error {
	sk.Assign("mounted", true)
	return nil
}

func (hookProbeView) Render(assigns map[string]any) any {
	out := map[string]any{}
	for k, v := range assigns {
		out[k] = v
	}
	return out
}

func TestPing_Barrier(t *testing.T) {
	sess, _ := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	require.NoError(t, sess.Ping())
}

func TestDuplicateJoin_Ignored(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	sess.Join(map[string]any{}, "2", "2")
	require.NoError(t, sess.Sync())

	replies := 0
	for _, env := range tp.all() {
		if env.Event == wire.EventReply {
			replies++
		}
	}
	require.Equal(t, 1, replies)
}

// TestConcurrentSends_SerializedByMailbox mirrors the drain style of the
// original runtime tests: concurrent producers, one mailbox, total order.
func TestConcurrentSends_SerializedByMailbox(t *testing.T) {
	sess, tp := startSession(t, counterView{}, Options{})
	sess.Join(map[string]any{}, "1", "1")
	if err := sess.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sess.ClientEvent("increment", nil, "", "")
		}()
	}
	wg.Wait()

	if err := sess.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	payloads := patchPayloads(tp.all())
	if len(payloads) != n+1 {
		t.Fatalf("expected %d patches, got %d", n+1, len(payloads))
	}
	for i, payload := range payloads {
		if payload.C != i {
			t.Fatalf("render count skipped: index %d has c=%d", i, payload.C)
		}
	}

	doc := replayPatches(t, tp.all())
	counter := doc.(map[string]any)["counter"]
	if counter != float64(n) {
		t.Fatalf("expected counter %d, got %v", n, counter)
	}
}
