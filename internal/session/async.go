package session

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/RodolfoSilva/live-data/internal/view"
	"github.com/RodolfoSilva/live-data/shared/logger"
)

var asyncKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LaunchAsync implements view.AsyncLauncher. It stores a loading
// AsyncResult under each key and launches the producer; the result is
// marshaled back into the session mailbox and folded into the assigns on
// the actor goroutine, so the render that follows the current handler
// picks up the loading state immediately.
//
// A superseding call for the same key replaces its ref: the prior attempt
// is canceled best-effort and its late result is discarded. Reached from
// view callbacks via Socket.AssignAsync, which runs on the actor
// goroutine.
func (s *Session) LaunchAsync(sk *view.Socket, keys []string, producer view.AsyncProducer) {
	if len(keys) == 0 {
		panic("session: assign_async requires at least one key")
	}
	for _, key := range keys {
		if !asyncKeyRe.MatchString(key) {
			panic(fmt.Sprintf("session: assign_async key %q is not an identifier", key))
		}
	}
	if producer == nil {
		panic("session: assign_async requires a producer")
	}

	ref := uuid.NewString()
	for _, key := range keys {
		if prior, ok := s.asyncRefs[key]; ok {
			if cancel, ok := s.asyncCancels[prior]; ok {
				cancel()
				delete(s.asyncCancels, prior)
			}
		}
		s.asyncRefs[key] = ref
		sk.Assign(key, view.AsyncLoading())
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.asyncCancels[ref] = cancel

	go func() {
		values, err := runProducer(ctx, producer)
		in := asyncResultInput{ref: ref, keys: keys, values: values}
		if err != nil {
			in.err = err
		}
		if !s.enqueue(in) {
			logger.Tracef("[session] %s: async result for ref %s not delivered", s.topic, ref)
		}
	}()
}

// runProducer invokes the producer, capturing a panic as a failure so a
// faulty producer cannot crash the session.
func runProducer(ctx context.Context, producer view.AsyncProducer) (values map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			values, err = nil, fmt.Errorf("async producer panicked: %v", r)
		}
	}()
	return producer(ctx)
}

// handleAsyncResult folds a finished async attempt into the assigns. Keys
// whose ref is no longer current are stale and ignored; component-targeted
// results (cid set) are an extension point and are dropped with a warning.
func (s *Session) handleAsyncResult(msg asyncResultInput) bool {
	if cancel, ok := s.asyncCancels[msg.ref]; ok {
		cancel()
		delete(s.asyncCancels, msg.ref)
	}

	if msg.cid != "" {
		logger.Warnf("[session] %s: component-targeted async result (cid=%s) is not supported; dropping", s.topic, msg.cid)
		return false
	}
	if s.state != stateReady && s.state != stateMounting {
		return false
	}

	folded := false
	for _, key := range msg.keys {
		if s.asyncRefs[key] != msg.ref {
			continue
		}
		delete(s.asyncRefs, key)
		if msg.err != nil {
			s.socket.Assign(key, view.AsyncFailed(msg.err))
		} else if value, ok := msg.values[key]; ok {
			s.socket.Assign(key, view.AsyncOK(value))
		} else {
			s.socket.Assign(key, view.AsyncFailed(fmt.Errorf("async result missing key %q", key)))
		}
		folded = true
	}
	if !folded {
		return false
	}

	if stop := s.foldRedirect("", ""); stop {
		return true
	}
	s.renderCycle("", "")
	return false
}
